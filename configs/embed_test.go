package configs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/clipbridge/configs"
	"github.com/Aman-CERP/clipbridge/internal/config"
)

func TestTemplates_LoadAsValidConfig(t *testing.T) {
	tests := []struct {
		name     string
		template string
	}{
		{"user", configs.UserConfigTemplate},
		{"project", configs.ProjectConfigTemplate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: the template as the only project config
			t.Setenv("XDG_CONFIG_HOME", t.TempDir())
			t.Setenv("CLIPBRIDGE_DATA_DIR", t.TempDir())
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, ".clipbridge.yaml"), []byte(tt.template), 0o644))

			// When: loading
			cfg, err := config.Load(dir)

			// Then: it validates and matches the built-in defaults
			require.NoError(t, err)
			defaults := config.NewConfig()
			assert.Equal(t, defaults.Search.Threshold, cfg.Search.Threshold)
			assert.Equal(t, defaults.Search.TopK, cfg.Search.TopK)
		})
	}
}
