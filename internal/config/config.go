package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ycccccccy/echotrace-sub001/internal/events"
)

// Config holds all application configuration.
type Config struct {
	// Storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Recovery behavior
	Recover RecoverConfig `json:"recover" mapstructure:"recover"`

	// Locked-file replacement behavior
	Replace ReplaceConfig `json:"replace" mapstructure:"replace"`

	// Logging
	Log events.LogConfig `json:"log" mapstructure:"log"`
}

// StorageConfig for local file paths.
type StorageConfig struct {
	OutputDir string `json:"output_dir" mapstructure:"output_dir"` // Decrypted artifact destination
	TempDir   string `json:"temp_dir" mapstructure:"temp_dir"`     // Scratch space (same volume as output)
}

// RecoverConfig for decryption batch behavior.
type RecoverConfig struct {
	DatabasePool int `json:"database_pool" mapstructure:"database_pool"` // Concurrent database tasks
	ImagePool    int `json:"image_pool" mapstructure:"image_pool"`       // Concurrent image tasks

	// Media obfuscation keys. The substitution key is hex; the block
	// cipher key is hex and optional (older caches use substitution only).
	MediaXorKey string `json:"media_xor_key" mapstructure:"media_xor_key"`
	MediaAESKey string `json:"media_aes_key,omitempty" mapstructure:"media_aes_key"`

	// Settling interval callers wait after closing their own consumers
	// of a target database before starting a replacing batch.
	SettleDelay time.Duration `json:"settle_delay" mapstructure:"settle_delay"`
}

// ReplaceConfig for the locked-file replacement protocol.
type ReplaceConfig struct {
	MaxDeleteAttempts int           `json:"max_delete_attempts" mapstructure:"max_delete_attempts"`
	BaseDelay         time.Duration `json:"base_delay" mapstructure:"base_delay"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".echotrace"

	return &Config{
		Storage: StorageConfig{
			OutputDir: filepath.Join(dataDir, "decrypted"),
			TempDir:   filepath.Join(dataDir, "temp"),
		},
		Recover: RecoverConfig{
			DatabasePool: 3,
			ImagePool:    8,
			SettleDelay:  2 * time.Second,
		},
		Replace: ReplaceConfig{
			MaxDeleteAttempts: 10,
			BaseDelay:         300 * time.Millisecond,
		},
		Log: events.LogConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Storage.OutputDir == "" {
		return errors.New("storage.output_dir is required")
	}

	if c.Recover.DatabasePool <= 0 {
		return errors.New("recover.database_pool must be positive")
	}

	if c.Recover.ImagePool <= 0 {
		return errors.New("recover.image_pool must be positive")
	}

	if c.Replace.MaxDeleteAttempts <= 0 {
		return errors.New("replace.max_delete_attempts must be positive")
	}

	if c.Replace.BaseDelay <= 0 {
		return errors.New("replace.base_delay must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.OutputDir,
		c.Storage.TempDir,
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
