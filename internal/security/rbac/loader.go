package rbac

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// LoadPolicy reads a simple JSON policy file: {"allow": {"user": ["perm", "*"]}}
func LoadPolicy(path string) (*Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw struct {
		Allow map[string][]string `json:"allow"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	p := NewPolicy()
	for user, perms := range raw.Allow {
		for _, perm := range perms {
			p.Grant(user, perm)
		}
	}
	return p, nil
}

// LoadPolicyAuto prefers a Casbin model/policy pair living next to the config
// path (rbac_model.conf + rbac_policy.csv); otherwise it falls back to the
// legacy JSON allow-map.
func LoadPolicyAuto(configPath string) (PolicyInterface, error) {
	dir := filepath.Dir(configPath)
	modelPath := filepath.Join(dir, "rbac_model.conf")
	policyPath := filepath.Join(dir, "rbac_policy.csv")
	if _, err := os.Stat(modelPath); err == nil {
		if _, err := os.Stat(policyPath); err == nil {
			return NewCasbinPolicy(modelPath, policyPath)
		}
	}
	slog.Info("casbin files not found, using legacy policy", "path", configPath)
	return LoadPolicy(configPath)
}
