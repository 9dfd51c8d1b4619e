package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of config.yaml read directly from disk, without
// viper, for commands that need project defaults before the full
// configuration is loaded.
type LocalConfig struct {
	Project  string `yaml:"project"`
	IDPrefix string `yaml:"id-prefix"`
	Actor    string `yaml:"actor"`
}

// LoadLocalConfig reads config.yaml from dataDir. Returns an empty LocalConfig
// (not nil) if the file doesn't exist or can't be parsed.
func LoadLocalConfig(dataDir string) *LocalConfig {
	data, err := os.ReadFile(filepath.Join(dataDir, "config.yaml")) // #nosec G304 -- config file path from data dir
	if err != nil {
		return &LocalConfig{}
	}
	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}

// LoadLocalConfigWithEnv applies FORGE_PROJECT over the file value.
func LoadLocalConfigWithEnv(dataDir string) *LocalConfig {
	cfg := LoadLocalConfig(dataDir)
	if p := os.Getenv(EnvPrefix + "_PROJECT"); p != "" {
		cfg.Project = p
	}
	return cfg
}
