package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

// Client talks to a running daemon. Each call uses its own connection.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a daemon client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{socketPath: cfg.SocketPath, timeout: timeout}
}

// connect dials the socket. Failure means the daemon is not running.
func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, cberrors.New(cberrors.ErrCodeDaemonUnavailable,
			fmt.Sprintf("daemon not reachable at %s", c.socketPath), err)
	}
	return conn, nil
}

// IsRunning reports whether the daemon accepts connections.
func (c *Client) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, err := c.connect(ctx)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks that the daemon answers requests.
func (c *Client) Ping(ctx context.Context) error {
	var res PingResult
	if err := c.call(ctx, MethodPing, nil, &res); err != nil {
		return err
	}
	if !res.Pong {
		return fmt.Errorf("unexpected ping reply")
	}
	return nil
}

// WaitForReady polls Ping with backoff until the daemon answers or ctx ends.
func (c *Client) WaitForReady(ctx context.Context) error {
	cfg := cberrors.DefaultRetryConfig()
	cfg.ShouldRetry = cberrors.IsRetryable
	return cberrors.Retry(ctx, cfg, func() error {
		return c.Ping(ctx)
	})
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var st StatusResult
	if err := c.call(ctx, MethodStatus, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Query runs a search on the daemon's resident session.
func (c *Client) Query(ctx context.Context, prompt string, topK int) (*QueryResult, error) {
	params := QueryParams{Prompt: prompt, TopK: topK}
	if err := params.Validate(); err != nil {
		return nil, cberrors.ValidationError(err.Error())
	}
	var res QueryResult
	if err := c.call(ctx, MethodQuery, params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SetThreshold changes the daemon's threshold and returns the clamped value.
func (c *Client) SetThreshold(ctx context.Context, t float64) (float64, error) {
	var res SetThresholdResult
	if err := c.call(ctx, MethodSetThreshold, SetThresholdParams{Threshold: t}, &res); err != nil {
		return 0, err
	}
	return res.Threshold, nil
}

// Restart restarts the daemon's search session.
func (c *Client) Restart(ctx context.Context) (*StatusResult, error) {
	var st StatusResult
	if err := c.call(ctx, MethodRestart, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{JSONRPC: "2.0", Method: method, ID: c.nextID()}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode params: %w", err)
		}
		req.Params = raw
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return cberrors.New(cberrors.ErrCodeDaemonUnavailable, "failed to send request", err)
	}

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return cberrors.New(cberrors.ErrCodeDaemonUnavailable, "failed to receive response", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error.Err()
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) nextID() string {
	return fmt.Sprintf("req-%d", c.requestID.Add(1))
}
