package replace

// HandleReleaser abstracts the privileged platform facility for closing
// open handles on a path. Both methods are best-effort: a nil error
// does not guarantee a following delete will succeed, so callers always
// run the full replacement state machine.
type HandleReleaser interface {
	// CloseOwnHandles closes handles the current process holds open on
	// the path.
	CloseOwnHandles(path string) error

	// ForceCloseAll closes handles any process holds open on the path,
	// where the platform supports it.
	ForceCloseAll(path string) error
}

// NoopReleaser is the fallback for platforms without a handle-release
// facility. It keeps the state machine platform independent.
type NoopReleaser struct{}

func (NoopReleaser) CloseOwnHandles(string) error { return nil }
func (NoopReleaser) ForceCloseAll(string) error   { return nil }
