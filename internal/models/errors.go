package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodePassphrase  = "PASSPHRASE_ERROR"
	ErrCodeFormat      = "FORMAT_ERROR"
	ErrCodeIntegrity   = "INTEGRITY_ERROR"
	ErrCodeIO          = "IO_ERROR"
	ErrCodeJob         = "JOB_ERROR"
	ErrCodeReplacement = "REPLACEMENT_ERROR"
)

// Sentinel errors
var (
	ErrInvalidPassphrase  = errors.New("empty passphrase")
	ErrUnsupportedFormat  = errors.New("no supported cipher version matched")
	ErrUnknownImageFormat = errors.New("no known image encoding matched")
	ErrJobInProgress      = errors.New("a job of this category is already running")
	ErrLockContention     = errors.New("target still locked after all delete attempts")
	ErrTargetUnwritable   = errors.New("target path could not be replaced")
)

// DecryptError represents a per-file decryption failure.
type DecryptError struct {
	Path   string
	Reason string
	Err    error
}

func (e *DecryptError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("decrypt %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("decrypt: %s: %v", e.Reason, e.Err)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

// PageIntegrityError records an authentication tag mismatch on a single
// cipher page. Pages after the first are independent units, so the codec
// records this error and keeps going.
type PageIntegrityError struct {
	Path string
	Page int64
}

func (e *PageIntegrityError) Error() string {
	return fmt.Sprintf("page %d of %s: authentication tag mismatch", e.Page, e.Path)
}

// ReplaceError represents a failure of the locked-file replacement
// protocol, annotated with the state that failed.
type ReplaceError struct {
	Target string
	State  string
	Err    error
}

func (e *ReplaceError) Error() string {
	return fmt.Sprintf("replace %s [%s]: %v", e.Target, e.State, e.Err)
}

func (e *ReplaceError) Unwrap() error {
	return e.Err
}

// TaskError carries the outcome of one orchestrated task.
type TaskError struct {
	Code   string
	Source string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s [%s]: %v", e.Source, e.Code, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// CodeFor maps an error to its taxonomy code for reporting.
func CodeFor(err error) string {
	var page *PageIntegrityError
	var rep *ReplaceError
	switch {
	case errors.Is(err, ErrInvalidPassphrase):
		return ErrCodePassphrase
	case errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrUnknownImageFormat):
		return ErrCodeFormat
	case errors.As(err, &page):
		return ErrCodeIntegrity
	case errors.As(err, &rep), errors.Is(err, ErrLockContention), errors.Is(err, ErrTargetUnwritable):
		return ErrCodeReplacement
	case errors.Is(err, ErrJobInProgress):
		return ErrCodeJob
	default:
		return ErrCodeIO
	}
}
