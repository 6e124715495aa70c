// Package session runs clip_tool in search mode and speaks its query protocol.
//
// The protocol is half-duplex with no request ids: a response always answers
// the previous request. Session therefore serializes queries internally, so
// concurrent callers can never see each other's results.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
	"github.com/Aman-CERP/clipbridge/internal/locator"
	"github.com/Aman-CERP/clipbridge/internal/proc"
	"github.com/Aman-CERP/clipbridge/internal/protocol"
)

const (
	// DefaultThreshold matches the tool's documented default cutoff.
	DefaultThreshold = 0.1
	// DefaultTopK is the result count used when callers have no preference.
	DefaultTopK = 5
	// MaxTopK bounds requests from user-facing surfaces.
	MaxTopK = 50

	defaultReleaseTimeout = 5 * time.Second
)

// Result is the outcome of an asynchronous query.
type Result struct {
	IDs []string
	Err error
}

// Session owns one clip_tool search process.
type Session struct {
	resolver       locator.Resolver
	logger         *slog.Logger
	indexPath      string
	queryTimeout   time.Duration
	releaseTimeout time.Duration
	onExit         func(error)

	threshold atomic.Uint64

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	// query makes Query single-flight.
	query sync.Mutex

	mu        sync.RWMutex
	state     State
	proc      *proc.Process
	startedAt time.Time
}

// Option configures a Session.
type Option func(*Session)

// WithThreshold sets the initial threshold (clamped to [0,1]).
func WithThreshold(t float64) Option {
	return func(s *Session) {
		s.SetThreshold(t)
	}
}

// WithIndexPath overrides the resolver's default index path.
func WithIndexPath(path string) Option {
	return func(s *Session) {
		s.indexPath = path
	}
}

// WithQueryTimeout bounds the wait for one response. When it elapses the
// child is killed, because the protocol cannot cancel a pending request.
// Zero waits forever.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.queryTimeout = d
	}
}

// WithLogger sets the logger. Child stderr is forwarded to it at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithExitHandler registers fn to be called when the child exits without Stop.
// fn receives an ERR_302_PROCESS_EXITED error and must not call back into the session
// synchronously.
func WithExitHandler(fn func(error)) Option {
	return func(s *Session) {
		s.onExit = fn
	}
}

// WithReleaseTimeout bounds how long Stop waits for the child to be reaped.
func WithReleaseTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.releaseTimeout = d
	}
}

// New creates a session in the NotStarted state.
func New(resolver locator.Resolver, opts ...Option) *Session {
	s := &Session{
		resolver:       resolver,
		logger:         slog.Default(),
		releaseTimeout: defaultReleaseTimeout,
	}
	s.SetThreshold(DefaultThreshold)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsStarted reports whether queries are accepted.
func (s *Session) IsStarted() bool {
	return s.State() == Started
}

// PID returns the child's process id, or 0 when there is none.
func (s *Session) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.PID()
}

// StartedAt returns when the current child was spawned.
func (s *Session) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// IndexPath returns the index the session searches.
func (s *Session) IndexPath() string {
	if s.indexPath != "" {
		return s.indexPath
	}
	return s.resolver.DefaultIndexPath()
}

// SetThreshold clamps t to [0,1] and applies it from the next query on.
// NaN is treated as 0.
func (s *Session) SetThreshold(t float64) {
	s.threshold.Store(math.Float64bits(ClampThreshold(t)))
}

// Threshold returns the threshold the next query will use.
func (s *Session) Threshold() float64 {
	return math.Float64frombits(s.threshold.Load())
}

// ClampThreshold limits t to [0,1]. NaN becomes 0.
func ClampThreshold(t float64) float64 {
	switch {
	case math.IsNaN(t), t < 0:
		return 0
	case t > 1:
		return 1
	default:
		return t
	}
}

// setState moves to next. Callers hold mu.
func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	if !s.state.CanTransition(next) {
		s.logger.Error("invalid session transition",
			slog.String("from", s.state.String()),
			slog.String("to", next.String()))
	}
	s.state = next
}

// Start spawns "clip_tool search <index>". From Started it restarts, so there
// is never more than one child. On failure the session is back in NotStarted
// and holds nothing.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.State() == Started {
		s.stopLocked()
	}

	s.mu.Lock()
	s.setState(Starting)
	s.mu.Unlock()

	p, err := s.spawn(ctx)
	if err != nil {
		s.mu.Lock()
		s.setState(NotStarted)
		s.mu.Unlock()
		s.logger.Warn("search session failed to start", cberrors.LogAttrs(err)...)
		return err
	}

	s.mu.Lock()
	s.proc = p
	s.startedAt = time.Now()
	s.setState(Started)
	s.mu.Unlock()

	s.logger.Info("search session started",
		slog.Int("pid", p.PID()),
		slog.String("index", s.IndexPath()),
		slog.Float64("threshold", s.Threshold()))

	go s.monitor(p)
	return nil
}

func (s *Session) spawn(ctx context.Context) (*proc.Process, error) {
	exe, err := s.resolver.ResolveExecutablePath()
	if err != nil {
		return nil, err
	}
	if err := proc.EnsureExecutable(exe); err != nil {
		s.logger.Debug("could not mark clip_tool executable", slog.String("path", exe), slog.String("error", err.Error()))
	}
	return proc.Start(ctx, proc.Spec{
		Path:   exe,
		Args:   protocol.SearchArgs(s.IndexPath()),
		Stdin:  true,
		Stderr: proc.LogWriter(s.logger, "search"),
	})
}

// monitor notices a child that dies while idle.
func (s *Session) monitor(p *proc.Process) {
	<-p.Done()
	if !p.Killed() {
		s.handleExit(p)
	}
}

// detach clears p if it is still the current child and reports whether it was.
func (s *Session) detach(p *proc.Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != p {
		return false
	}
	s.proc = nil
	s.setState(NotStarted)
	return true
}

// handleExit records an unexpected exit of p. Only the first caller for a
// given child logs and notifies.
func (s *Session) handleExit(p *proc.Process) error {
	p.Release(s.releaseTimeout)

	msg := "search process exited unexpectedly"
	if exitErr := p.ExitErr(); exitErr != nil {
		msg = fmt.Sprintf("%s: %v", msg, exitErr)
	}
	err := cberrors.New(cberrors.ErrCodeProcessExited, msg, p.ExitErr()).
		WithDetail("pid", fmt.Sprint(p.PID()))

	if s.detach(p) {
		s.logger.Warn("search session lost", cberrors.LogAttrs(err)...)
		if s.onExit != nil {
			s.onExit(err)
		}
	}
	return err
}

// Stop kills the child and returns to NotStarted. It is idempotent and never
// fails; a pending query returns ERR_304_QUERY_ABORTED.
func (s *Session) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stopLocked()
}

// Close is Stop for owners disposing of the session.
func (s *Session) Close() error {
	s.Stop()
	return nil
}

func (s *Session) stopLocked() {
	s.mu.Lock()
	p := s.proc
	s.proc = nil
	s.setState(NotStarted)
	s.mu.Unlock()

	if p == nil {
		return
	}
	p.Kill()
	if !p.Release(s.releaseTimeout) {
		s.logger.Warn("search process not reaped in time", slog.Int("pid", p.PID()))
	}
	s.logger.Info("search session stopped", slog.Int("pid", p.PID()))
}

// Query sends one request and waits for its response line. Identifiers are
// returned in rank order; an empty slice means nothing passed the threshold.
//
// Failures after the request was attempted return an empty slice and an error:
// ERR_302 when the child died, ERR_303 on timeout, ERR_304 when Stop
// interrupted the wait, or ctx.Err() wrapped when ctx ended first. In the
// timeout and ctx cases the child is killed, since it would otherwise answer
// the abandoned request on the next query. A ctx that is already done when
// the request would be written leaves the child running.
func (s *Session) Query(ctx context.Context, prompt string, topK int) ([]string, error) {
	return s.QueryWithThreshold(ctx, prompt, topK, s.Threshold())
}

// QueryWithThreshold is Query at the given threshold instead of the session's.
// threshold is clamped to [0,1] and applies to this request only.
func (s *Session) QueryWithThreshold(ctx context.Context, prompt string, topK int, threshold float64) ([]string, error) {
	s.query.Lock()
	defer s.query.Unlock()

	s.mu.RLock()
	state, p := s.state, s.proc
	s.mu.RUnlock()
	if state != Started || p == nil {
		return nil, cberrors.New(cberrors.ErrCodeSessionNotStarted,
			fmt.Sprintf("search session is %s", state), nil)
	}

	req, err := protocol.FormatRequest(prompt, topK, ClampThreshold(threshold))
	if err != nil {
		return nil, err
	}

	// Nothing was sent yet, so the child stays usable.
	if err := ctx.Err(); err != nil {
		return []string{}, fmt.Errorf("query not sent: %w", err)
	}

	if err := p.WriteLine(req); err != nil {
		if p.Killed() {
			return []string{}, aborted()
		}
		return []string{}, s.handleExit(p)
	}

	var timeout <-chan time.Time
	if s.queryTimeout > 0 {
		t := time.NewTimer(s.queryTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case line, ok := <-p.Lines():
		if ok {
			return protocol.ParseResponse(line), nil
		}
		if p.Killed() {
			return []string{}, aborted()
		}
		return []string{}, s.handleExit(p)

	case <-p.Stopped():
		return []string{}, aborted()

	case <-timeout:
		s.abandon(p)
		return []string{}, cberrors.New(cberrors.ErrCodeQueryTimeout,
			fmt.Sprintf("no response within %s", s.queryTimeout), nil)

	case <-ctx.Done():
		s.abandon(p)
		return []string{}, fmt.Errorf("query abandoned: %w", ctx.Err())
	}
}

// QueryAsync runs Query in its own goroutine. The channel receives exactly one
// Result and is then closed. Only Stop (or ctx) ends a pending wait.
func (s *Session) QueryAsync(ctx context.Context, prompt string, topK int) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ids, err := s.Query(ctx, prompt, topK)
		ch <- Result{IDs: ids, Err: err}
	}()
	return ch
}

// abandon kills p after a request was given up on.
func (s *Session) abandon(p *proc.Process) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.detach(p) {
		s.logger.Warn("search query abandoned, restarting required", slog.Int("pid", p.PID()))
	}
	p.Kill()
	p.Release(s.releaseTimeout)
}

func aborted() error {
	return cberrors.New(cberrors.ErrCodeQueryAborted, "query aborted: session stopped", nil)
}
