// Package recovery runs batches of decryption tasks under a bounded
// worker pool, with exclusive job tokens keeping concurrent batches of
// the same category apart.
package recovery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ycccccccy/echotrace-sub001/internal/events"
	"github.com/ycccccccy/echotrace-sub001/internal/models"
)

// Task is one unit of batch work, typically a single file.
type Task struct {
	Source string
	Run    func(ctx context.Context) error
}

// TaskResult reports the outcome of one task.
type TaskResult struct {
	Source   string
	Err      error
	Code     string
	Duration time.Duration
}

// Summary tallies a finished batch. A batch runs to completion; failed
// tasks are counted, never retried, and never abort the batch.
type Summary struct {
	Category  string
	Total     int
	Succeeded int
	Failed    int
	Results   []TaskResult
	Duration  time.Duration
}

// Progress tracks a running batch.
type Progress struct {
	Category  string
	Total     int
	Completed int
	Failed    int
	StartTime time.Time
}

// Event represents an orchestration event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Source    string
	Error     error
	Progress  *Progress
}

// EventType defines orchestration event types.
type EventType string

const (
	EventStarted      EventType = "started"
	EventFileStarted  EventType = "file_started"
	EventFileComplete EventType = "file_complete"
	EventFileError    EventType = "file_error"
	EventProgress     EventType = "progress"
	EventCompleted    EventType = "completed"
)

// Orchestrator runs task batches with bounded concurrency.
type Orchestrator struct {
	registry *JobRegistry
	logger   *events.Logger

	progress atomic.Value // *Progress

	mu           sync.Mutex
	events       chan Event
	eventsClosed bool
}

// NewOrchestrator creates an orchestrator backed by the registry.
func NewOrchestrator(registry *JobRegistry, logger *events.Logger) *Orchestrator {
	return &Orchestrator{
		registry:     registry,
		logger:       logger.WithField("component", "orchestrator"),
		events:       make(chan Event, 100),
		eventsClosed: false,
	}
}

// Events returns the event channel. It is closed when a batch ends and
// recreated for the next one.
func (o *Orchestrator) Events() <-chan Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.events
}

// GetProgress returns the current batch progress.
func (o *Orchestrator) GetProgress() *Progress {
	if p := o.progress.Load(); p != nil {
		return p.(*Progress)
	}
	return nil
}

// RunBatch acquires the category token, runs every task under a pool of
// poolSize workers and releases the token when all tasks have finished.
// It returns models.ErrJobInProgress without running anything when a
// batch of the same category is active. Context cancellation stops
// unstarted tasks; running ones finish and the summary covers what ran.
func (o *Orchestrator) RunBatch(ctx context.Context, category string, poolSize int, tasks []Task) (*Summary, error) {
	token := o.registry.TryAcquire(category)
	if token == nil {
		return nil, models.ErrJobInProgress
	}
	defer token.Release()

	if poolSize <= 0 {
		poolSize = 1
	}

	o.mu.Lock()
	if o.eventsClosed {
		o.events = make(chan Event, 100)
		o.eventsClosed = false
	}
	eventsCh := o.events
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if !o.eventsClosed {
			close(o.events)
			o.eventsClosed = true
		}
		o.mu.Unlock()
	}()

	start := time.Now()
	ctx = events.WithJobID(ctx, fmt.Sprintf("%s-%d", category, start.UnixNano()))

	progress := &Progress{
		Category:  category,
		Total:     len(tasks),
		StartTime: start,
	}
	o.progress.Store(progress)

	o.logger.WithFields(map[string]interface{}{
		"category": category,
		"tasks":    len(tasks),
		"pool":     poolSize,
	}).Info("Starting batch")

	o.emit(eventsCh, Event{Type: EventStarted, Timestamp: start, Progress: o.snapshot(progress)})

	var (
		wg        sync.WaitGroup
		sem       = make(chan struct{}, poolSize)
		mu        sync.Mutex
		results   = make([]TaskResult, 0, len(tasks))
		completed int
		failed    int
	)

	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(t Task) {
			defer wg.Done()
			defer func() { <-sem }()

			o.emit(eventsCh, Event{Type: EventFileStarted, Timestamp: time.Now(), Source: t.Source})

			taskStart := time.Now()
			err := t.Run(ctx)

			result := TaskResult{
				Source:   t.Source,
				Duration: time.Since(taskStart),
			}
			if err != nil {
				result.Code = models.CodeFor(err)
				result.Err = &models.TaskError{Code: result.Code, Source: t.Source, Err: err}
			}

			mu.Lock()
			results = append(results, result)
			completed++
			if err != nil {
				failed++
			}
			snap := &Progress{
				Category:  category,
				Total:     len(tasks),
				Completed: completed,
				Failed:    failed,
				StartTime: start,
			}
			mu.Unlock()

			o.progress.Store(snap)

			if err != nil {
				o.logger.WithError(err).WithField("source", t.Source).Warn("Task failed")
				o.emit(eventsCh, Event{Type: EventFileError, Timestamp: time.Now(), Source: t.Source, Error: err})
			} else {
				o.emit(eventsCh, Event{Type: EventFileComplete, Timestamp: time.Now(), Source: t.Source})
			}
			o.emit(eventsCh, Event{Type: EventProgress, Timestamp: time.Now(), Progress: snap})
		}(task)
	}

	wg.Wait()

	summary := &Summary{
		Category:  category,
		Total:     len(tasks),
		Succeeded: completed - failed,
		Failed:    failed,
		Results:   results,
		Duration:  time.Since(start),
	}

	o.logger.WithFields(map[string]interface{}{
		"category":  category,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"duration":  summary.Duration.String(),
	}).Info("Batch complete")

	o.emit(eventsCh, Event{Type: EventCompleted, Timestamp: time.Now(), Progress: o.GetProgress()})

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// emit sends an event without blocking a full channel.
func (o *Orchestrator) emit(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
		o.logger.Debug("Event channel full, dropping event")
	}
}

func (o *Orchestrator) snapshot(p *Progress) *Progress {
	cp := *p
	return &cp
}
