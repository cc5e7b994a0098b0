package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "tokenctl"
	defaultConfigFile    = "config.yaml"

	// ConfigEnvVar overrides the default config location.
	ConfigEnvVar = "TOKENCTL_CONFIG"
)

func DefaultConfigPath() string {
	if env := os.Getenv(ConfigEnvVar); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tokenctl", defaultConfigFile)
}
