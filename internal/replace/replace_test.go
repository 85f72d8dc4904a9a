package replace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ycccccccy/echotrace-sub001/internal/config"
	"github.com/ycccccccy/echotrace-sub001/internal/models"
	"github.com/ycccccccy/echotrace-sub001/test/testutil"
)

// stubReleaser records calls and optionally unlocks the target by
// flipping a shared flag.
type stubReleaser struct {
	forceCalls int
	forceErr   error
	onForce    func()
}

func (r *stubReleaser) CloseOwnHandles(string) error { return nil }

func (r *stubReleaser) ForceCloseAll(string) error {
	r.forceCalls++
	if r.onForce != nil {
		r.onForce()
	}
	return r.forceErr
}

func newTestProtocol(releaser HandleReleaser, maxAttempts int) *Protocol {
	p := NewProtocol(releaser, config.ReplaceConfig{
		MaxDeleteAttempts: maxAttempts,
		BaseDelay:         300 * time.Millisecond,
	}, testutil.TestLogger())
	p.sleep = func(time.Duration) {}
	return p
}

func writeFiles(t *testing.T) (tempPath, targetPath string) {
	t.Helper()
	dir := t.TempDir()
	tempPath = filepath.Join(dir, "artifact.tmp")
	targetPath = filepath.Join(dir, "target.db")
	require.NoError(t, os.WriteFile(tempPath, []byte("decrypted"), 0600))
	require.NoError(t, os.WriteFile(targetPath, []byte("encrypted"), 0600))
	return tempPath, targetPath
}

func TestInstallUnlockedTarget(t *testing.T) {
	tempPath, targetPath := writeFiles(t)

	releaser := &stubReleaser{}
	p := newTestProtocol(releaser, 10)

	outcome, err := p.Install(tempPath, targetPath)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInstalledDelete, outcome)
	assert.Equal(t, 0, releaser.forceCalls)

	content, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("decrypted"), content)

	_, err = os.Stat(tempPath)
	assert.True(t, os.IsNotExist(err))
}

func TestInstallAfterRetries(t *testing.T) {
	tempPath, targetPath := writeFiles(t)

	p := newTestProtocol(&stubReleaser{}, 10)

	// The holder lets go before the attempt ceiling.
	var attempts int
	var delays []time.Duration
	p.remove = func(path string) error {
		attempts++
		if attempts < 4 {
			return errors.New("file locked")
		}
		return os.Remove(path)
	}
	p.sleep = func(d time.Duration) { delays = append(delays, d) }

	outcome, err := p.Install(tempPath, targetPath)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInstalledDelete, outcome)
	assert.Equal(t, 4, attempts)

	// Backoff grows linearly with the attempt number.
	assert.Equal(t, []time.Duration{
		300 * time.Millisecond,
		600 * time.Millisecond,
		900 * time.Millisecond,
	}, delays)
}

func TestInstallAfterForceUnlock(t *testing.T) {
	tempPath, targetPath := writeFiles(t)

	locked := true
	releaser := &stubReleaser{onForce: func() { locked = false }}
	p := newTestProtocol(releaser, 3)
	p.remove = func(path string) error {
		if locked {
			return errors.New("file locked")
		}
		return os.Remove(path)
	}

	outcome, err := p.Install(tempPath, targetPath)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInstalledDelete, outcome)
	assert.Equal(t, 1, releaser.forceCalls)
}

func TestInstallRenameFallback(t *testing.T) {
	tempPath, targetPath := writeFiles(t)

	// The target never becomes deletable, even force unlocked.
	releaser := &stubReleaser{forceErr: errors.New("access denied")}
	p := newTestProtocol(releaser, 3)
	p.remove = func(string) error { return errors.New("file locked") }
	p.now = func() time.Time { return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC) }

	outcome, err := p.Install(tempPath, targetPath)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInstalledRename, outcome)

	content, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("decrypted"), content)

	// The displaced original sits next to the target.
	displaced := targetPath + ".locked-20260314-150926"
	old, err := os.ReadFile(displaced)
	require.NoError(t, err)
	assert.Equal(t, []byte("encrypted"), old)
}

func TestInstallFullyLockedTarget(t *testing.T) {
	tempPath, targetPath := writeFiles(t)

	releaser := &stubReleaser{forceErr: errors.New("access denied")}
	p := newTestProtocol(releaser, 3)
	p.remove = func(string) error { return errors.New("file locked") }
	p.rename = func(oldPath, newPath string) error {
		if strings.Contains(newPath, ".locked-") {
			return errors.New("rename refused")
		}
		return os.Rename(oldPath, newPath)
	}

	outcome, err := p.Install(tempPath, targetPath)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorIs(t, err, models.ErrLockContention)

	var repErr *models.ReplaceError
	require.ErrorAs(t, err, &repErr)
	assert.Equal(t, "rename_fallback", repErr.State)

	// Original untouched, artifact still present for a retry.
	content, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("encrypted"), content)
	_, err = os.Stat(tempPath)
	assert.NoError(t, err)
}

func TestInstallMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.db")
	require.NoError(t, os.WriteFile(targetPath, []byte("encrypted"), 0600))

	p := newTestProtocol(&stubReleaser{}, 3)
	outcome, err := p.Install(filepath.Join(dir, "missing.tmp"), targetPath)

	assert.Equal(t, OutcomeFailed, outcome)
	var repErr *models.ReplaceError
	require.ErrorAs(t, err, &repErr)
	assert.Equal(t, "prepare", repErr.State)
}

func TestInstallMissingTarget(t *testing.T) {
	dir := t.TempDir()
	tempPath := filepath.Join(dir, "artifact.tmp")
	targetPath := filepath.Join(dir, "target.db")
	require.NoError(t, os.WriteFile(tempPath, []byte("decrypted"), 0600))

	// No original to delete; install proceeds directly.
	p := newTestProtocol(&stubReleaser{}, 3)
	outcome, err := p.Install(tempPath, targetPath)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInstalledDelete, outcome)
}

func TestInstallCopyFallback(t *testing.T) {
	tempPath, targetPath := writeFiles(t)

	p := newTestProtocol(&stubReleaser{}, 3)

	// Rename into place fails as if crossing volumes; the copy path
	// must still deliver the artifact.
	p.rename = func(oldPath, newPath string) error {
		return errors.New("cross-device link")
	}

	outcome, err := p.Install(tempPath, targetPath)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInstalledDelete, outcome)

	content, err := os.ReadFile(targetPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("decrypted"), content)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "installed", OutcomeInstalledDelete.String())
	assert.Equal(t, "installed_after_rename", OutcomeInstalledRename.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
}
