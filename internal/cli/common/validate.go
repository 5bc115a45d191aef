package common

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/viper"
)

func fileExists(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return nil
}

func ValidateAddr(addr string) error {
	if addr == "" {
		return fmt.Errorf("empty address")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

// ValidateServerConfig checks the quorumd config before the server starts.
// strict requires the authz policy file to exist; non-strict allows the
// built-in defaults (dev mode).
func ValidateServerConfig(v *viper.Viper, strict bool) error {
	if sub := v.Sub("server"); sub != nil {
		v = sub
	}
	if err := ValidateAddr(v.GetString("http_addr")); err != nil {
		return fmt.Errorf("http_addr: %w", err)
	}
	if p := v.GetString("rbac_config"); p != "" {
		if err := fileExists(p); err != nil {
			return fmt.Errorf("rbac_config: %w", err)
		}
	} else if strict {
		return fmt.Errorf("rbac_config missing")
	}
	if p := v.GetString("audit.file"); p != "" {
		// parent dir is created at startup; nothing to check here
		_ = p
	}
	return nil
}
