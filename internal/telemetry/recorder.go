package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/clipbridge/internal/controller"
	"github.com/Aman-CERP/clipbridge/internal/indexer"
)

const (
	recorderBuffer   = 256
	recentPromptsCap = 500
)

// Recorder writes telemetry from a background goroutine so searches never
// wait on disk. Events arriving while the buffer is full are dropped.
type Recorder struct {
	store  *Store
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	events chan func(context.Context) error
	done   chan struct{}

	recent   *lru.Cache[string, struct{}]
	repeats  atomic.Int64
	recorded atomic.Int64
	dropped  atomic.Int64
}

// NewRecorder starts a recorder writing to store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	recent, _ := lru.New[string, struct{}](recentPromptsCap)
	r := &Recorder{
		store:  store,
		logger: logger,
		events: make(chan func(context.Context) error, recorderBuffer),
		done:   make(chan struct{}),
		recent: recent,
	}
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer close(r.done)
	for write := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := write(ctx); err != nil {
			r.logger.Debug("telemetry write failed", slog.String("error", err.Error()))
		}
		cancel()
	}
}

func (r *Recorder) enqueue(write func(context.Context) error) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.events <- write:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// RecordQuery queues a search event.
func (r *Recorder) RecordQuery(ev QueryEvent) {
	key := strings.ToLower(strings.TrimSpace(ev.Prompt))
	if _, seen := r.recent.Get(key); seen {
		r.repeats.Add(1)
	}
	r.recent.Add(key, struct{}{})

	if r.enqueue(func(ctx context.Context) error { return r.store.RecordQuery(ctx, ev) }) {
		r.recorded.Add(1)
	}
}

// RecordBuild queues a build run.
func (r *Recorder) RecordBuild(run BuildRun) {
	r.enqueue(func(ctx context.Context) error { return r.store.RecordBuild(ctx, run) })
}

// QueryHook adapts RecordQuery to controller.WithQueryRecorder.
func (r *Recorder) QueryHook() func(controller.QueryRecord) {
	return func(rec controller.QueryRecord) {
		r.RecordQuery(QueryEvent{
			Time:      time.Now(),
			Prompt:    rec.Prompt,
			TopK:      rec.TopK,
			Threshold: rec.Threshold,
			Results:   rec.Results,
			Cached:    rec.Cached,
			Latency:   rec.Latency,
			Error:     rec.Error,
		})
	}
}

// BuildHook adapts RecordBuild to controller.WithBuildRecorder.
func (r *Recorder) BuildHook() func(indexer.BuildRecord) {
	return func(rec indexer.BuildRecord) {
		r.RecordBuild(BuildRun{
			StartedAt: rec.StartedAt,
			SourceDir: rec.SourceDir,
			IndexPath: rec.IndexPath,
			Total:     rec.Total,
			Processed: rec.Processed,
			Success:   rec.Success,
			Killed:    rec.Killed,
			Error:     rec.Error,
			Duration:  rec.Duration,
		})
	}
}

// Repeats counts prompts seen again among the recent ones in this process.
func (r *Recorder) Repeats() int64 {
	return r.repeats.Load()
}

// Dropped counts events lost to a full buffer.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close drains queued events and stops the writer. The store stays open.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()
	<-r.done
}
