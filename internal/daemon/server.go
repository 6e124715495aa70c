package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

// maxRequestSize bounds one request line.
const maxRequestSize = 1 << 20

// Handler serves the non-trivial methods.
type Handler interface {
	Query(ctx context.Context, params QueryParams) (QueryResult, error)
	SetThreshold(t float64) float64
	Restart(ctx context.Context) error
	Status() StatusResult
}

// Server listens on a Unix socket and answers newline-delimited JSON-RPC.
// A connection may carry any number of requests.
type Server struct {
	socketPath string
	timeout    time.Duration
	handler    Handler
	logger     *slog.Logger
	started    time.Time

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for socketPath. timeout bounds each request.
func NewServer(socketPath string, timeout time.Duration, handler Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		timeout:    timeout,
		handler:    handler,
		logger:     logger,
		conns:      make(map[net.Conn]struct{}),
	}
}

// ListenAndServe serves until ctx is cancelled or Close is called, then waits
// for open connections to finish.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// A stale socket from a crashed daemon blocks Listen.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	closedEarly := s.shutdown
	s.mu.Unlock()
	if closedEarly {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
		return nil
	}

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	s.logger.Info("daemon listening", slog.String("socket", s.socketPath))

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed() {
				break
			}
			s.logger.Error("accept failed", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}

	s.wg.Wait()
	return nil
}

func (s *Server) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

// serveConn reads requests until EOF, an idle timeout, or shutdown.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxRequestSize)
	encoder := json.NewEncoder(conn)

	for {
		if s.closed() {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.timeout))
		if !scanner.Scan() {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp Response
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp = NewErrorResponse("", ErrCodeParseError, "failed to parse request")
		} else {
			resp = s.dispatch(ctx, req)
		}

		_ = conn.SetWriteDeadline(time.Now().Add(s.timeout))
		if err := encoder.Encode(resp); err != nil {
			s.logger.Debug("write response failed", slog.String("error", err.Error()))
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.status())

	case MethodQuery:
		var params QueryParams
		if err := decodeParams(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		if err := params.Validate(); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		result, err := s.handler.Query(qctx, params)
		if err != nil {
			return newBridgeErrorResponse(req.ID, err)
		}
		return NewSuccessResponse(req.ID, result)

	case MethodSetThreshold:
		var params SetThresholdParams
		if err := decodeParams(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		return NewSuccessResponse(req.ID, SetThresholdResult{Threshold: s.handler.SetThreshold(params.Threshold)})

	case MethodRestart:
		if err := s.handler.Restart(ctx); err != nil {
			return newBridgeErrorResponse(req.ID, err)
		}
		return NewSuccessResponse(req.ID, s.status())

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("params are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}

func (s *Server) status() StatusResult {
	st := s.handler.Status()
	st.Running = true
	st.PID = os.Getpid()
	s.mu.Lock()
	st.Uptime = time.Since(s.started).Round(time.Second).String()
	s.mu.Unlock()
	return st
}

// Close stops accepting and drops idle connections. In-flight requests finish.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil
	}
	s.shutdown = true
	for conn := range s.conns {
		// Unblocks readers waiting for the next request.
		_ = conn.SetReadDeadline(time.Now())
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func asBridge(err error) *cberrors.BridgeError {
	var be *cberrors.BridgeError
	if errors.As(err, &be) {
		return be
	}
	return nil
}
