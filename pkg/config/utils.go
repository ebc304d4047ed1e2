package config

import (
	"errors"
	"path/filepath"
	"strings"
)

const defaultConfigName = "config"

// CleanOrGetConfigPath splits a config file path into the directory and the extension-less name viper expects.
// An empty path resolves to ./config.yaml.
func CleanOrGetConfigPath(customPath string) (string, string, error) {
	if customPath != "" {
		cfgDir, cfgFile := filepath.Split(filepath.Clean(customPath))
		if cfgDir == "" {
			cfgDir = "."
		}

		ext := filepath.Ext(cfgFile)
		if ext == "" || (ext != ".yaml" && ext != ".yml") {
			return "", "", errors.New("expected config file to have .yaml or .yml extension")
		}

		cfgDir = strings.TrimSuffix(cfgDir, string(filepath.Separator))
		if cfgDir == "" {
			cfgDir = string(filepath.Separator)
		}
		return cfgDir, strings.TrimSuffix(cfgFile, ext), nil
	}

	return ".", defaultConfigName, nil
}
