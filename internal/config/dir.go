package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultFileName is looked up inside DefaultDir when no file is named.
const DefaultFileName = "config.toml"

// DefaultDir returns ~/.config/assetgate unless ASSETGATE_CONFIG_DIR is set.
func DefaultDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(envPrefix + "CONFIG_DIR")); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "assetgate"), nil
}

func defaultFile() string {
	dir, err := DefaultDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, DefaultFileName)
}
