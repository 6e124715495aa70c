package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Aman-CERP/clipbridge/internal/controller"
	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

// Daemon owns a controller whose session stays resident between requests.
// A session that dies is restarted on the next query; a circuit breaker stops
// the restart loop when clip_tool crashes on every launch.
type Daemon struct {
	cfg     Config
	ctrl    *controller.Controller
	pidFile *PIDFile
	breaker *cberrors.CircuitBreaker
	logger  *slog.Logger

	starts  atomic.Int64
	queries atomic.Int64
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithBreaker replaces the session restart breaker.
func WithBreaker(cb *cberrors.CircuitBreaker) Option {
	return func(d *Daemon) {
		d.breaker = cb
	}
}

// New creates a daemon around ctrl. The daemon closes ctrl when Run returns.
func New(cfg Config, ctrl *controller.Controller, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Daemon{
		cfg:     cfg,
		ctrl:    ctrl,
		pidFile: NewPIDFile(cfg.PIDPath),
		breaker: cberrors.NewCircuitBreaker("search-session"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Run writes the PID file, starts the session and serves until ctx is done.
// A session that fails to start is not fatal; queries retry it.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}
	if err := d.pidFile.Acquire(); err != nil {
		return err
	}
	defer func() { _ = d.pidFile.Remove() }()
	defer func() { _ = d.ctrl.Close() }()

	if err := d.ensureSession(ctx); err != nil {
		d.logger.Warn("search session not started", cberrors.LogAttrs(err)...)
	}

	srv := NewServer(d.cfg.SocketPath, d.cfg.Timeout, d, d.logger)
	err := srv.ListenAndServe(ctx)
	d.logger.Info("daemon stopped", slog.Int64("queries", d.queries.Load()))
	return err
}

// ensureSession starts the session unless it is already running.
func (d *Daemon) ensureSession(ctx context.Context) error {
	if d.ctrl.Session().IsStarted() {
		return nil
	}
	err := d.breaker.Execute(func() error {
		return d.ctrl.StartSession(ctx)
	})
	if errors.Is(err, cberrors.ErrCircuitOpen) {
		return cberrors.New(cberrors.ErrCodeSessionNotStarted,
			fmt.Sprintf("search session failed %d times in a row", d.breaker.Failures()), err).
			WithSuggestion("Check 'clipbridge doctor', then run 'clipbridge daemon restart'")
	}
	if err == nil {
		if n := d.starts.Add(1); n > 1 {
			d.logger.Info("search session restarted", slog.Int64("starts", n))
		}
	}
	return err
}

// Query implements Handler.
func (d *Daemon) Query(ctx context.Context, params QueryParams) (QueryResult, error) {
	if err := d.ensureSession(ctx); err != nil {
		return QueryResult{}, err
	}
	d.queries.Add(1)

	ids, rec, err := d.ctrl.SearchRecord(ctx, params.Prompt, params.TopK)
	if err != nil {
		return QueryResult{}, err
	}
	return QueryResult{
		IDs:       ids,
		Threshold: rec.Threshold,
		TopK:      rec.TopK,
		Cached:    rec.Cached,
		LatencyMS: rec.Latency.Milliseconds(),
	}, nil
}

// SetThreshold implements Handler.
func (d *Daemon) SetThreshold(t float64) float64 {
	d.ctrl.SetThreshold(t)
	return d.ctrl.Session().Threshold()
}

// Restart implements Handler. It clears the breaker so a fixed install can
// be picked up without restarting the daemon.
func (d *Daemon) Restart(ctx context.Context) error {
	d.breaker.Reset()
	if err := d.ctrl.StartSession(ctx); err != nil {
		return err
	}
	d.starts.Add(1)
	return nil
}

// Status implements Handler.
func (d *Daemon) Status() StatusResult {
	snap := d.ctrl.Snapshot()
	restarts := d.starts.Load() - 1
	if restarts < 0 {
		restarts = 0
	}
	return StatusResult{
		SessionState: snap.StateName,
		SessionPID:   snap.PID,
		Threshold:    snap.Threshold,
		TopK:         snap.TopK,
		IndexPath:    snap.IndexPath,
		CacheEntries: snap.CacheSize,
		Queries:      d.queries.Load(),
		Restarts:     restarts,
		Breaker:      d.breaker.State().String(),
	}
}

// StopRunning sends SIGTERM to the daemon recorded in cfg's PID file and waits
// up to the grace period for it to exit.
func StopRunning(cfg Config) error {
	pf := NewPIDFile(cfg.PIDPath)
	if !pf.IsRunning() {
		_ = pf.Remove()
		return cberrors.New(cberrors.ErrCodeDaemonUnavailable, "daemon is not running", nil)
	}
	if err := pf.Signal(syscall.SIGTERM); err != nil {
		return err
	}
	deadline := time.Now().Add(cfg.ShutdownGracePeriod)
	for time.Now().Before(deadline) {
		if !pf.IsRunning() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not exit within %s", cfg.ShutdownGracePeriod)
}
