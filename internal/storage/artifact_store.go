// Package storage manages the local directories recovered artifacts
// pass through: a scratch area for in-flight decryption output and the
// destination tree for finished files.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ycccccccy/echotrace-sub001/internal/events"
)

// ArtifactStore implements file system operations for recovery output.
type ArtifactStore struct {
	outputDir string
	tempDir   string
	logger    *events.Logger

	maxPathLength int
}

// NewArtifactStore creates a store rooted at the configured output and
// temp directories. Both are created if missing. Keeping the temp
// directory on the same volume as the output makes installs a rename.
func NewArtifactStore(outputDir, tempDir string, logger *events.Logger) (*ArtifactStore, error) {
	absOutput, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	absTemp, err := filepath.Abs(tempDir)
	if err != nil {
		return nil, fmt.Errorf("resolve temp directory: %w", err)
	}

	for _, dir := range []string{absOutput, absTemp} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return &ArtifactStore{
		outputDir:     absOutput,
		tempDir:       absTemp,
		logger:        logger.WithField("component", "artifact_store"),
		maxPathLength: 260, // Windows compatibility
	}, nil
}

// TempDir returns the scratch directory decoders write into.
func (s *ArtifactStore) TempDir() string {
	return s.tempDir
}

// OutputPath maps a relative artifact name to its destination path,
// rejecting names that would escape the output tree.
func (s *ArtifactStore) OutputPath(name string) (string, error) {
	safePath, err := s.sanitizeName(name)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(safePath), 0700); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}

	return safePath, nil
}

// Exists checks whether an artifact is already present.
func (s *ArtifactStore) Exists(name string) (bool, error) {
	safePath, err := s.sanitizeName(name)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(safePath)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Discard removes an abandoned temp artifact. Missing files are fine.
func (s *ArtifactStore) Discard(tempPath string) {
	if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
		s.logger.WithError(err).WithField("path", tempPath).Warn("Discard failed")
	}
}

// SweepResult tallies one maintenance pass.
type SweepResult struct {
	TempRemoved   int
	LockedRemoved int
	Skipped       int
	BytesFreed    int64
}

// SweepStale removes leftovers from earlier runs: orphaned .tmp-*
// scratch files and displaced .locked-* originals whose holders have
// since exited. Files still locked are skipped and counted; they stay
// for the next sweep.
func (s *ArtifactStore) SweepStale(dirs ...string) (*SweepResult, error) {
	result := &SweepResult{}

	scan := append([]string{s.tempDir}, dirs...)
	for _, dir := range scan {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return result, fmt.Errorf("read directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			name := entry.Name()
			isTemp := strings.Contains(name, ".tmp-")
			isLocked := strings.Contains(name, ".locked-")
			if !isTemp && !isLocked {
				continue
			}

			path := filepath.Join(dir, name)
			var size int64
			if info, err := entry.Info(); err == nil {
				size = info.Size()
			}

			if err := os.Remove(path); err != nil {
				s.logger.WithError(err).WithField("path", path).Debug("Stale file still held")
				result.Skipped++
				continue
			}

			result.BytesFreed += size
			if isTemp {
				result.TempRemoved++
			} else {
				result.LockedRemoved++
			}
			s.logger.WithField("path", path).Debug("Removed stale file")
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"temp_removed":   result.TempRemoved,
		"locked_removed": result.LockedRemoved,
		"skipped":        result.Skipped,
		"bytes_freed":    result.BytesFreed,
	}).Info("Sweep complete")

	return result, nil
}

// sanitizeName validates a relative artifact name and maps it under the
// output directory.
func (s *ArtifactStore) sanitizeName(name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("invalid name: contains null bytes")
	}

	cleaned := filepath.Clean(filepath.FromSlash(name))
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid name: contains '..'")
	}
	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))

	fullPath := filepath.Join(s.outputDir, cleaned)
	if !strings.HasPrefix(fullPath, s.outputDir+string(filepath.Separator)) && fullPath != s.outputDir {
		return "", fmt.Errorf("name escapes output directory")
	}

	if len(fullPath) > s.maxPathLength {
		return "", fmt.Errorf("path too long: %d characters (max: %d)", len(fullPath), s.maxPathLength)
	}

	if err := validatePlatformPath(cleaned); err != nil {
		return "", err
	}

	return fullPath, nil
}

// validatePlatformPath checks platform-specific path restrictions.
func validatePlatformPath(path string) error {
	if runtime.GOOS == "windows" {
		reserved := []string{"CON", "PRN", "AUX", "NUL", "COM1", "COM2", "COM3", "COM4",
			"COM5", "COM6", "COM7", "COM8", "COM9", "LPT1", "LPT2", "LPT3",
			"LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9"}

		parts := strings.Split(path, string(filepath.Separator))
		for _, part := range parts {
			baseName := strings.TrimSuffix(part, filepath.Ext(part))
			upperName := strings.ToUpper(baseName)

			for _, r := range reserved {
				if upperName == r {
					return fmt.Errorf("invalid path: contains reserved name '%s'", part)
				}
			}

			for _, char := range `<>:"|?*` {
				if strings.ContainsRune(part, char) {
					return fmt.Errorf("invalid path: contains character '%c'", char)
				}
			}
		}
	}

	return nil
}

// StampName appends a timestamp before the extension, used when an
// artifact would collide with an existing file.
func StampName(name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s-%s%s", base, time.Now().Format("20060102-150405"), ext)
}
