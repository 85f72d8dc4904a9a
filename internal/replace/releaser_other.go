//go:build !windows

package replace

// NewPlatformReleaser returns the handle releaser for this platform.
// Only Windows pins open files hard enough to need one.
func NewPlatformReleaser() HandleReleaser {
	return NoopReleaser{}
}
