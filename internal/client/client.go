// Package client provides the high-level API for recovery operations.
package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ycccccccy/echotrace-sub001/internal/config"
	"github.com/ycccccccy/echotrace-sub001/internal/events"
	"github.com/ycccccccy/echotrace-sub001/internal/media"
	"github.com/ycccccccy/echotrace-sub001/internal/models"
	"github.com/ycccccccy/echotrace-sub001/internal/recovery"
	"github.com/ycccccccy/echotrace-sub001/internal/replace"
	"github.com/ycccccccy/echotrace-sub001/internal/storage"
	"github.com/ycccccccy/echotrace-sub001/internal/wcdb"
)

// Client wires the recovery services together.
type Client struct {
	Databases    *wcdb.Decryptor
	Orchestrator *recovery.Orchestrator

	config   *config.Config
	logger   *events.Logger
	store    *storage.ArtifactStore
	registry *recovery.JobRegistry
	protocol *replace.Protocol
	decoder  *media.Decoder
}

// New creates a client from configuration.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	store, err := storage.NewArtifactStore(cfg.Storage.OutputDir, cfg.Storage.TempDir, logger)
	if err != nil {
		return nil, err
	}

	registry := recovery.NewJobRegistry(logger)

	c := &Client{
		Databases:    wcdb.NewDecryptor(logger),
		Orchestrator: recovery.NewOrchestrator(registry, logger),
		config:       cfg,
		logger:       logger,
		store:        store,
		registry:     registry,
		protocol:     replace.NewProtocol(replace.NewPlatformReleaser(), cfg.Replace, logger),
	}

	// The media decoder only exists when the batch keys are configured;
	// database recovery works without it.
	if cfg.Recover.MediaXorKey != "" {
		keys, err := decodeMediaKeys(cfg)
		if err != nil {
			return nil, err
		}
		c.decoder, err = media.NewDecoder(keys, logger)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

func decodeMediaKeys(cfg *config.Config) (media.Keys, error) {
	xorKey, err := hex.DecodeString(cfg.Recover.MediaXorKey)
	if err != nil {
		return media.Keys{}, fmt.Errorf("decode media_xor_key: %w", err)
	}

	keys := media.Keys{Substitution: xorKey}
	if cfg.Recover.MediaAESKey != "" {
		aesKey, err := hex.DecodeString(cfg.Recover.MediaAESKey)
		if err != nil {
			return media.Keys{}, fmt.Errorf("decode media_aes_key: %w", err)
		}
		keys.BlockCipher = aesKey
	}

	return keys, nil
}

// TryAcquireJob reserves a job category for the caller, or returns nil
// when a batch of that category is already running.
func (c *Client) TryAcquireJob(category string) *recovery.JobToken {
	return c.registry.TryAcquire(category)
}

// DecryptDatabase decrypts a single database into the temp directory
// and verifies the result is readable.
func (c *Client) DecryptDatabase(ctx context.Context, srcPath, passphrase string, onProgress wcdb.ProgressFunc) (*wcdb.Result, error) {
	result, err := c.Databases.Decrypt(ctx, srcPath, c.store.TempDir(), passphrase, onProgress)
	if err != nil {
		return nil, err
	}

	if err := wcdb.VerifyDatabase(result.TempPath); err != nil {
		c.store.Discard(result.TempPath)
		return nil, &models.DecryptError{Path: srcPath, Reason: "verify output", Err: err}
	}

	return result, nil
}

// DecryptImage decodes a single obfuscated media file into the temp
// directory.
func (c *Client) DecryptImage(srcPath string) (*media.Result, error) {
	if c.decoder == nil {
		return nil, fmt.Errorf("media keys not configured")
	}
	return c.decoder.DecodeAuto(srcPath, c.store.TempDir())
}

// InstallDecrypted replaces targetPath with the finished artifact at
// tempPath, forcing the target free if another process holds it.
func (c *Client) InstallDecrypted(tempPath, targetPath string) (replace.Outcome, error) {
	return c.protocol.Install(tempPath, targetPath)
}

// RecoverDatabases decrypts every path as one exclusive batch. With
// inPlace set, each decrypted database replaces its encrypted original;
// otherwise it lands in the output directory under its base name.
func (c *Client) RecoverDatabases(ctx context.Context, paths []string, passphrase string, inPlace bool) (*recovery.Summary, error) {
	tasks := make([]recovery.Task, 0, len(paths))
	for _, p := range paths {
		srcPath := p
		tasks = append(tasks, recovery.Task{
			Source: srcPath,
			Run: func(ctx context.Context) error {
				ctx = events.WithSource(ctx, srcPath)
				result, err := c.DecryptDatabase(ctx, srcPath, passphrase, nil)
				if err != nil {
					return err
				}
				return c.deliver(result.TempPath, srcPath, inPlace)
			},
		})
	}

	return c.Orchestrator.RunBatch(ctx, recovery.JobDatabase, c.config.Recover.DatabasePool, tasks)
}

// RecoverImages decodes every path as one exclusive batch. Decoded
// files land in the output directory with their detected extension.
func (c *Client) RecoverImages(ctx context.Context, paths []string) (*recovery.Summary, error) {
	if c.decoder == nil {
		return nil, fmt.Errorf("media keys not configured")
	}

	tasks := make([]recovery.Task, 0, len(paths))
	for _, p := range paths {
		srcPath := p
		tasks = append(tasks, recovery.Task{
			Source: srcPath,
			Run: func(ctx context.Context) error {
				result, err := c.decoder.DecodeAuto(srcPath, c.store.TempDir())
				if err != nil {
					return err
				}

				base := filepath.Base(srcPath)
				if ext := filepath.Ext(base); ext != "" {
					base = base[:len(base)-len(ext)]
				}
				return c.installToOutput(result.TempPath, base+result.Ext)
			},
		})
	}

	return c.Orchestrator.RunBatch(ctx, recovery.JobImage, c.config.Recover.ImagePool, tasks)
}

// SweepStale clears leftovers from interrupted runs in the temp and
// output directories.
func (c *Client) SweepStale(extraDirs ...string) (*storage.SweepResult, error) {
	dirs := append([]string{c.config.Storage.OutputDir}, extraDirs...)
	return c.store.SweepStale(dirs...)
}

// deliver moves a finished artifact either over its original or into
// the output directory.
func (c *Client) deliver(tempPath, srcPath string, inPlace bool) error {
	if inPlace {
		outcome, err := c.protocol.Install(tempPath, srcPath)
		if err != nil {
			c.store.Discard(tempPath)
			return err
		}
		c.logger.WithFields(map[string]interface{}{
			"target":  srcPath,
			"outcome": outcome.String(),
		}).Info("Database replaced")
		return nil
	}

	return c.installToOutput(tempPath, filepath.Base(srcPath))
}

// installToOutput renames a temp artifact into the output tree, adding
// a timestamp when the name is taken.
func (c *Client) installToOutput(tempPath, name string) error {
	exists, err := c.store.Exists(name)
	if err != nil {
		c.store.Discard(tempPath)
		return err
	}
	if exists {
		name = storage.StampName(name)
	}

	outPath, err := c.store.OutputPath(name)
	if err != nil {
		c.store.Discard(tempPath)
		return err
	}

	if err := os.Rename(tempPath, outPath); err != nil {
		c.store.Discard(tempPath)
		return fmt.Errorf("install %s: %w", name, err)
	}

	c.logger.WithField("path", outPath).Info("Artifact installed")
	return nil
}
