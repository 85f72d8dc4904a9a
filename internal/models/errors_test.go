package models_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ycccccccy/echotrace-sub001/internal/models"
)

func TestCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"empty passphrase", models.ErrInvalidPassphrase, models.ErrCodePassphrase},
		{"unsupported format", models.ErrUnsupportedFormat, models.ErrCodeFormat},
		{"unknown image", models.ErrUnknownImageFormat, models.ErrCodeFormat},
		{"job in progress", models.ErrJobInProgress, models.ErrCodeJob},
		{"lock contention", models.ErrLockContention, models.ErrCodeReplacement},
		{"target unwritable", models.ErrTargetUnwritable, models.ErrCodeReplacement},
		{"page integrity", &models.PageIntegrityError{Path: "a.db", Page: 7}, models.ErrCodeIntegrity},
		{"replace error", &models.ReplaceError{Target: "a.db", State: "install", Err: errors.New("x")}, models.ErrCodeReplacement},
		{"plain io", errors.New("disk full"), models.ErrCodeIO},
		{"wrapped sentinel", fmt.Errorf("during detect: %w", models.ErrUnsupportedFormat), models.ErrCodeFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, models.CodeFor(tt.err))
		})
	}
}

func TestDecryptErrorUnwrap(t *testing.T) {
	inner := errors.New("short read")
	err := &models.DecryptError{Path: "a.db", Reason: "read page 3", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "a.db")
	assert.Contains(t, err.Error(), "read page 3")
}

func TestReplaceErrorUnwrap(t *testing.T) {
	err := &models.ReplaceError{
		Target: "a.db",
		State:  "rename_fallback",
		Err:    fmt.Errorf("%w: access denied", models.ErrLockContention),
	}

	assert.ErrorIs(t, err, models.ErrLockContention)
	assert.Contains(t, err.Error(), "rename_fallback")
}

func TestTaskErrorUnwrap(t *testing.T) {
	err := &models.TaskError{
		Code:   models.ErrCodeFormat,
		Source: "cache.dat",
		Err:    models.ErrUnknownImageFormat,
	}

	assert.ErrorIs(t, err, models.ErrUnknownImageFormat)
	assert.Contains(t, err.Error(), "cache.dat")
}
