package recovery

import (
	"sync"
	"time"

	"github.com/ycccccccy/echotrace-sub001/internal/events"
)

// Job categories. One batch per category runs at a time; database and
// image batches may overlap each other.
const (
	JobDatabase = "database"
	JobImage    = "image"
)

// JobToken is the exclusive right to run one batch of a category. It is
// returned by TryAcquire and must be released exactly once when the
// batch ends, success or failure.
type JobToken struct {
	category string
	acquired time.Time

	mu       sync.Mutex
	released bool
	registry *JobRegistry
}

// Category returns the job category this token covers.
func (t *JobToken) Category() string {
	return t.category
}

// Release returns the token to the registry. Releasing twice is a
// logged no-op.
func (t *JobToken) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.released {
		t.registry.logger.WithField("category", t.category).Warn("Token released twice")
		return
	}
	t.released = true
	t.registry.release(t.category)
}

// JobRegistry hands out exclusive job tokens per category. Acquisition
// never blocks; callers that cannot get a token report and move on.
type JobRegistry struct {
	mu     sync.Mutex
	held   map[string]bool
	logger *events.Logger
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry(logger *events.Logger) *JobRegistry {
	return &JobRegistry{
		held:   make(map[string]bool),
		logger: logger.WithField("component", "job_registry"),
	}
}

// TryAcquire returns a token for the category, or nil when a batch of
// that category is already running.
func (r *JobRegistry) TryAcquire(category string) *JobToken {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.held[category] {
		r.logger.WithField("category", category).Debug("Token unavailable")
		return nil
	}

	r.held[category] = true
	r.logger.WithField("category", category).Debug("Token acquired")
	return &JobToken{
		category: category,
		acquired: time.Now(),
		registry: r,
	}
}

func (r *JobRegistry) release(category string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.held, category)
	r.logger.WithField("category", category).Debug("Token released")
}
