// Package replace installs decrypted artifacts over their encrypted
// originals, including originals still held open by another process.
package replace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ycccccccy/echotrace-sub001/internal/config"
	"github.com/ycccccccy/echotrace-sub001/internal/events"
	"github.com/ycccccccy/echotrace-sub001/internal/models"
)

// Outcome reports how an installation finished.
type Outcome int

const (
	// OutcomeFailed means the target could not be replaced at all.
	OutcomeFailed Outcome = iota

	// OutcomeInstalledDelete means the old target was deleted and the
	// new artifact moved into its place.
	OutcomeInstalledDelete

	// OutcomeInstalledRename means the old target could not be deleted
	// and was shunted aside under a .locked- name instead.
	OutcomeInstalledRename
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInstalledDelete:
		return "installed"
	case OutcomeInstalledRename:
		return "installed_after_rename"
	default:
		return "failed"
	}
}

// Protocol runs the locked-file replacement state machine. States run in
// a fixed forward order and never repeat:
//
//	prepare -> delete old -> force unlock -> rename fallback -> install
//
// The delete state retries with a linear backoff; every later state runs
// at most once.
type Protocol struct {
	releaser    HandleReleaser
	maxAttempts int
	baseDelay   time.Duration
	logger      *events.Logger

	// Hooked for tests.
	remove func(string) error
	rename func(string, string) error
	sleep  func(time.Duration)
	now    func() time.Time
}

// NewProtocol creates a replacement protocol with the platform releaser.
func NewProtocol(releaser HandleReleaser, cfg config.ReplaceConfig, logger *events.Logger) *Protocol {
	return &Protocol{
		releaser:    releaser,
		maxAttempts: cfg.MaxDeleteAttempts,
		baseDelay:   cfg.BaseDelay,
		logger:      logger.WithField("component", "replace"),
		remove:      os.Remove,
		rename:      os.Rename,
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

// Install replaces targetPath with the artifact at tempPath. The temp
// file is consumed on success. On OutcomeInstalledRename the displaced
// original remains next to the target under a .locked- suffix for a
// later sweep.
func (p *Protocol) Install(tempPath, targetPath string) (Outcome, error) {
	log := p.logger.WithFields(map[string]interface{}{
		"target": targetPath,
		"source": tempPath,
	})

	// Prepare: the artifact must exist and the target directory must be
	// reachable before anything destructive happens.
	if _, err := os.Stat(tempPath); err != nil {
		return OutcomeFailed, &models.ReplaceError{Target: targetPath, State: "prepare", Err: err}
	}
	if _, err := os.Stat(filepath.Dir(targetPath)); err != nil {
		return OutcomeFailed, &models.ReplaceError{Target: targetPath, State: "prepare", Err: err}
	}

	if err := p.releaser.CloseOwnHandles(targetPath); err != nil {
		log.WithError(err).Debug("Closing own handles failed")
	}

	// Delete old: most targets come free within a few attempts once the
	// holder notices its handle is stale.
	if p.deleteOld(targetPath, log) {
		if err := p.install(tempPath, targetPath); err != nil {
			return OutcomeFailed, &models.ReplaceError{Target: targetPath, State: "install", Err: err}
		}
		log.Info("Replaced target")
		return OutcomeInstalledDelete, nil
	}

	// Force unlock: one privileged pass, then one more delete try.
	if err := p.releaser.ForceCloseAll(targetPath); err != nil {
		log.WithError(err).Warn("Force unlock failed")
	} else if err := p.remove(targetPath); err == nil || os.IsNotExist(err) {
		if err := p.install(tempPath, targetPath); err != nil {
			return OutcomeFailed, &models.ReplaceError{Target: targetPath, State: "install", Err: err}
		}
		log.Info("Replaced target after force unlock")
		return OutcomeInstalledDelete, nil
	}

	// Rename fallback: a locked file often still allows a rename within
	// its directory even when delete is refused.
	lockedPath := fmt.Sprintf("%s.locked-%s", targetPath, p.now().Format("20060102-150405"))
	if err := p.rename(targetPath, lockedPath); err != nil {
		log.WithError(err).Error("Rename fallback failed")
		return OutcomeFailed, &models.ReplaceError{
			Target: targetPath,
			State:  "rename_fallback",
			Err:    fmt.Errorf("%w: %v", models.ErrLockContention, err),
		}
	}

	if err := p.install(tempPath, targetPath); err != nil {
		return OutcomeFailed, &models.ReplaceError{Target: targetPath, State: "install", Err: err}
	}

	log.WithField("displaced", lockedPath).Info("Replaced target after rename")
	return OutcomeInstalledRename, nil
}

// deleteOld tries to remove the target up to maxAttempts times, sleeping
// attempt*baseDelay between tries. A missing target counts as deleted.
func (p *Protocol) deleteOld(targetPath string, log *events.Logger) bool {
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := p.remove(targetPath)
		if err == nil || os.IsNotExist(err) {
			return true
		}

		log.WithError(err).WithField("attempt", attempt).Debug("Delete attempt failed")
		if attempt < p.maxAttempts {
			p.sleep(time.Duration(attempt) * p.baseDelay)
		}
	}
	return false
}

// install moves the finished artifact into place. Rename covers the
// same-volume case; a copy handles temp directories on another volume.
func (p *Protocol) install(tempPath, targetPath string) error {
	if err := p.rename(tempPath, targetPath); err == nil {
		return nil
	}

	src, err := os.Open(tempPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTargetUnwritable, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(targetPath)
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}

	os.Remove(tempPath)
	return nil
}
