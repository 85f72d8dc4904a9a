package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from file and environment.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "ECHOTRACE",
	}
}

// Load reads configuration from file and environment.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()

	// Start with defaults. Leaf keys are registered individually so
	// environment overrides resolve during Unmarshal.
	cfg := DefaultConfig()
	v.SetDefault("storage.output_dir", cfg.Storage.OutputDir)
	v.SetDefault("storage.temp_dir", cfg.Storage.TempDir)
	v.SetDefault("recover.database_pool", cfg.Recover.DatabasePool)
	v.SetDefault("recover.image_pool", cfg.Recover.ImagePool)
	v.SetDefault("recover.media_xor_key", cfg.Recover.MediaXorKey)
	v.SetDefault("recover.media_aes_key", cfg.Recover.MediaAESKey)
	v.SetDefault("recover.settle_delay", cfg.Recover.SettleDelay)
	v.SetDefault("replace.max_delete_attempts", cfg.Replace.MaxDeleteAttempts)
	v.SetDefault("replace.base_delay", cfg.Replace.BaseDelay)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("load config file %s: %w", path, err)
				}
				break
			}
		}
	}

	// Environment overrides, e.g. ECHOTRACE_LOG_LEVEL=debug
	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"echotrace.json",
		".echotrace.json",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "echotrace", "config.json"),
			filepath.Join(homeDir, ".echotrace", "config.json"),
		)
	}

	return paths
}
