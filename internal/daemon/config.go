// Package daemon keeps one clip_tool search session resident behind a unix
// socket, so CLI searches skip the model load that dominates a cold start.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	SocketPath string

	// PIDPath is where the daemon records its process ID.
	PIDPath string

	// Timeout bounds one client request, including the query it carries.
	Timeout time.Duration

	// ShutdownGracePeriod is how long in-flight connections get on shutdown.
	ShutdownGracePeriod time.Duration
}

// DefaultConfig places the socket and PID file in dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		SocketPath:          filepath.Join(dataDir, "daemon.sock"),
		PIDPath:             filepath.Join(dataDir, "daemon.pid"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.SocketPath == "":
		return cberrors.ConfigError("daemon socket path cannot be empty", nil)
	case c.PIDPath == "":
		return cberrors.ConfigError("daemon PID path cannot be empty", nil)
	case c.Timeout <= 0:
		return cberrors.ConfigError(fmt.Sprintf("daemon timeout must be positive, got %s", c.Timeout), nil)
	case c.ShutdownGracePeriod <= 0:
		return cberrors.ConfigError(fmt.Sprintf("daemon shutdown grace period must be positive, got %s", c.ShutdownGracePeriod), nil)
	}
	return nil
}

// EnsureDir creates the directories holding the socket and PID file.
func (c Config) EnsureDir() error {
	for _, dir := range []string{filepath.Dir(c.SocketPath), filepath.Dir(c.PIDPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create daemon directory: %w", err)
		}
	}
	return nil
}
