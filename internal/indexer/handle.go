package indexer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
	"github.com/Aman-CERP/clipbridge/internal/proc"
	"github.com/Aman-CERP/clipbridge/internal/protocol"
)

// ErrCancelled is the completion error of a build stopped by Kill.
var ErrCancelled = errors.New("index build cancelled")

// eventBuffer holds progress events for slow consumers. The last slot is
// reserved for the completion event.
const eventBuffer = 64

// EventKind distinguishes progress from completion.
type EventKind int

const (
	// EventProgress reports a new processed count.
	EventProgress EventKind = iota
	// EventCompleted is sent exactly once, after which the channel closes.
	EventCompleted
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Event is one notification from a running build.
type Event struct {
	Kind EventKind
	// Done is the processed count.
	Done int
	// Total is the caller's pre-count, or the tool's own total when that is unknown.
	Total int
	// Reported is the total printed by the tool.
	Reported int

	// Success and Err are set on EventCompleted.
	Success bool
	Err     error
}

// Handle tracks one build. The goroutine reading the child's output is the
// only writer of its progress; every accessor is a read.
type Handle struct {
	job      Job
	proc     *proc.Process
	lock     *flock.Flock
	logger   *slog.Logger
	recorder func(BuildRecord)
	started  time.Time

	events chan Event
	done   chan struct{}

	mu        sync.RWMutex
	processed int
	reported  int
	success   bool
	err       error
}

func newHandle(job Job, p *proc.Process, lock *flock.Flock, logger *slog.Logger, recorder func(BuildRecord)) *Handle {
	return &Handle{
		job:      job,
		proc:     p,
		lock:     lock,
		logger:   logger,
		recorder: recorder,
		started:  time.Now(),
		events:   make(chan Event, eventBuffer),
		done:     make(chan struct{}),
	}
}

func (h *Handle) run() {
	defer close(h.done)

	for line := range h.proc.Lines() {
		p, ok := protocol.ParseProgress(line)
		if !ok {
			if line != "" {
				h.logger.Debug("build output", slog.String("line", line))
			}
			continue
		}
		h.observe(p)
	}
	<-h.proc.Done()

	if err := h.lock.Unlock(); err != nil {
		h.logger.Warn("failed to release index lock", slog.String("error", err.Error()))
	}

	success := h.proc.Success()
	var err error
	switch {
	case h.proc.Killed():
		err = ErrCancelled
	case !success:
		err = cberrors.New(cberrors.ErrCodeProcessExited,
			fmt.Sprintf("index build failed: %v", h.proc.ExitErr()), h.proc.ExitErr()).
			WithSuggestion("Check the clipbridge log for clip_tool output")
	}

	h.mu.Lock()
	h.success = success
	h.err = err
	processed, reported := h.processed, h.reported
	h.mu.Unlock()

	elapsed := time.Since(h.started)
	if success {
		h.logger.Info("index build finished",
			slog.String("index", h.job.IndexPath),
			slog.Int("processed", processed),
			slog.Duration("elapsed", elapsed))
	} else {
		h.logger.Warn("index build did not complete",
			slog.String("index", h.job.IndexPath),
			slog.Int("processed", processed),
			slog.String("error", err.Error()))
	}

	h.events <- Event{
		Kind:     EventCompleted,
		Done:     processed,
		Total:    h.total(reported),
		Reported: reported,
		Success:  success,
		Err:      err,
	}
	close(h.events)

	if h.recorder != nil {
		rec := BuildRecord{
			SourceDir: h.job.SourceDir,
			IndexPath: h.job.IndexPath,
			Total:     h.total(reported),
			Processed: processed,
			Success:   success,
			Killed:    h.proc.Killed(),
			StartedAt: h.started,
			Duration:  elapsed,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		h.recorder(rec)
	}
}

// observe applies one progress marker. Counts lower than the current one are
// stale and ignored, so progress never goes backwards.
func (h *Handle) observe(p protocol.Progress) {
	h.mu.Lock()
	if p.Done < h.processed {
		h.mu.Unlock()
		return
	}
	h.processed = p.Done
	h.reported = p.Total
	h.mu.Unlock()

	ev := Event{Kind: EventProgress, Done: p.Done, Total: h.total(p.Total), Reported: p.Total}
	// Progress is droppable; the snapshot stays current regardless.
	if len(h.events) < cap(h.events)-1 {
		h.events <- ev
	}
}

func (h *Handle) total(reported int) int {
	if h.job.Total > 0 {
		return h.job.Total
	}
	return reported
}

// Events delivers progress and exactly one completion event, then closes.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Progress returns a snapshot of the job with the current processed count.
func (h *Handle) Progress() Job {
	h.mu.RLock()
	defer h.mu.RUnlock()
	j := h.job
	j.Processed = h.processed
	j.Total = h.total(h.reported)
	return j
}

// Done closes when the build has exited and its completion event was sent.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Running reports whether the build is still in progress.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the build finishes.
func (h *Handle) Wait() (bool, error) {
	<-h.done
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.success, h.err
}

// Kill terminates the build. It is safe to call at any time and more than once.
func (h *Handle) Kill() {
	h.proc.Kill()
}

// PID returns the child's process id.
func (h *Handle) PID() int {
	return h.proc.PID()
}
