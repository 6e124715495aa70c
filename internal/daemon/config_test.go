package daemon

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/data")

	assert.Equal(t, filepath.Join("/data", "daemon.sock"), cfg.SocketPath)
	assert.Equal(t, filepath.Join("/data", "daemon.pid"), cfg.PIDPath)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty socket", func(c *Config) { c.SocketPath = "" }},
		{"empty pid", func(c *Config) { c.PIDPath = "" }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"negative grace", func(c *Config) { c.ShutdownGracePeriod = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("/data")
			tt.mutate(&cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Equal(t, cberrors.ErrCodeConfigInvalid, cberrors.GetCode(err))
		})
	}
}

func TestConfig_EnsureDir(t *testing.T) {
	root := t.TempDir()
	cfg := Config{
		SocketPath: filepath.Join(root, "run", "d.sock"),
		PIDPath:    filepath.Join(root, "state", "d.pid"),
	}

	require.NoError(t, cfg.EnsureDir())

	assert.DirExists(t, filepath.Join(root, "run"))
	assert.DirExists(t, filepath.Join(root, "state"))
}
