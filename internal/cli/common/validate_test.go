package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestValidateAddr(t *testing.T) {
	for _, ok := range []string{":8080", "127.0.0.1:9000", "localhost:80"} {
		if err := ValidateAddr(ok); err != nil {
			t.Errorf("%s should be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "no-port", ":notaport"} {
		if err := ValidateAddr(bad); err == nil {
			t.Errorf("%s should be invalid", bad)
		}
	}
}

func TestValidateServerConfig(t *testing.T) {
	v := viper.New()
	v.Set("http_addr", ":8080")
	if err := ValidateServerConfig(v, false); err != nil {
		t.Fatal(err)
	}
	if err := ValidateServerConfig(v, true); err == nil {
		t.Fatal("strict mode requires rbac_config")
	}

	policy := filepath.Join(t.TempDir(), "rbac.json")
	if err := os.WriteFile(policy, []byte(`{"allow":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	v.Set("rbac_config", policy)
	if err := ValidateServerConfig(v, true); err != nil {
		t.Fatal(err)
	}

	v.Set("rbac_config", filepath.Join(t.TempDir(), "missing.json"))
	if err := ValidateServerConfig(v, false); err == nil {
		t.Fatal("missing policy file should fail when configured")
	}

	v2 := viper.New()
	v2.Set("server.http_addr", "bogus")
	if err := ValidateServerConfig(v2, false); err == nil {
		t.Fatal("nested section with bad addr should fail")
	}
}
