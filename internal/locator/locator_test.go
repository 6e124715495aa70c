package locator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
)

func mkdirs(t *testing.T, root string, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("bin"), 0o755))
}

func TestResolveExecutablePath_PicksGreatestVersionCaseInsensitive(t *testing.T) {
	// Given: several package folders with mixed case
	root := t.TempDir()
	mkdirs(t, root, "clipunity-v1.0.0", "CLIPUNITY-v1.2.0", "clipunity-v1.10.0", "other-v9.0.0")
	touch(t, filepath.Join(root, "CLIPUNITY-v1.2.0", "mac", "clip_tool"))

	l := New(root, t.TempDir())
	l.GOOS = "darwin"

	// When: resolving
	got, err := l.ResolveExecutablePath()

	// Then: ordinal comparison picks v1.2.0 over v1.10.0
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "CLIPUNITY-v1.2.0", "mac", "clip_tool"), got)
}

func TestResolveExecutablePath_PlatformTable(t *testing.T) {
	tests := []struct {
		goos     string
		present  string
		expected string
	}{
		{"darwin", "mac/clip_tool", "mac/clip_tool"},
		{"darwin", "macos/clip_tool", "macos/clip_tool"},
		{"windows", "win/clip_tool.exe", "win/clip_tool.exe"},
		{"windows", "windows/clip_tool.exe", "windows/clip_tool.exe"},
		{"linux", "linux/clip_tool", "linux/clip_tool"},
		{"darwin", "", "mac/clip_tool"},
		{"windows", "", "win/clip_tool.exe"},
	}

	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.present, func(t *testing.T) {
			root := t.TempDir()
			pkg := filepath.Join(root, "clipunity-v1.0.0")
			mkdirs(t, root, "clipunity-v1.0.0")
			if tt.present != "" {
				touch(t, filepath.Join(pkg, filepath.FromSlash(tt.present)))
			}

			l := New(root, t.TempDir())
			l.GOOS = tt.goos

			got, err := l.ResolveExecutablePath()
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(pkg, filepath.FromSlash(tt.expected)), got)
		})
	}
}

func TestResolveExecutablePath_UnsupportedPlatformIsDistinct(t *testing.T) {
	// Given: a valid installation but an OS with no binary
	root := t.TempDir()
	mkdirs(t, root, "clipunity-v1.0.0/mac", "clipunity-v1.0.0/win")
	l := New(root, t.TempDir())
	l.GOOS = "plan9"

	// When: resolving
	_, err := l.ResolveExecutablePath()

	// Then: no fallback to another platform
	assert.ErrorIs(t, err, cberrors.ErrUnsupportedPlatform)
	assert.False(t, SupportedPlatform("plan9"))
	assert.True(t, SupportedPlatform("linux"))
}

func TestResolveExecutablePath_NotInstalled(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{
			name: "missing root",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "StreamingAssets")
			},
		},
		{
			name: "no matching folder",
			setup: func(t *testing.T) string {
				root := t.TempDir()
				mkdirs(t, root, "something-else")
				return root
			},
		},
		{
			name: "matching file is not a folder",
			setup: func(t *testing.T) string {
				root := t.TempDir()
				touch(t, filepath.Join(root, "clipunity-v1.0.0"))
				return root
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.setup(t), t.TempDir())
			l.GOOS = "linux"

			_, err := l.ResolveExecutablePath()
			assert.ErrorIs(t, err, cberrors.ErrNotInstalled)
			assert.True(t, cberrors.IsFatal(err))
		})
	}
}

func TestResolveExecutablePath_UsesInjectedExistence(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "clipunity-v2")
	l := New(root, t.TempDir())
	l.GOOS = "darwin"
	l.fileExists = func(p string) bool { return filepath.Base(filepath.Dir(p)) == "macos" }

	got, err := l.ResolveExecutablePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "clipunity-v2", "macos", "clip_tool"), got)
}

func TestDefaultIndexPath_IsDeterministicWithoutCreating(t *testing.T) {
	data := filepath.Join(t.TempDir(), "data")
	l := New(t.TempDir(), data)

	assert.Equal(t, filepath.Join(data, "index", "index.pt"), l.DefaultIndexPath())
	assert.Equal(t, l.DefaultIndexPath(), l.DefaultIndexPath())
	_, err := os.Stat(data)
	assert.True(t, os.IsNotExist(err))
}

func TestDescribe(t *testing.T) {
	root := t.TempDir()
	exe := filepath.Join(root, "clipunity-v1.0.0", "linux", "clip_tool")
	touch(t, exe)
	l := New(root, t.TempDir())
	l.GOOS = "linux"

	r := l.Describe()

	assert.Empty(t, r.Error)
	assert.Equal(t, exe, r.Executable)
	assert.True(t, r.Exists)
	assert.True(t, r.ExecBit)
	assert.True(t, r.Supported)
	assert.False(t, r.IndexExists)
	assert.Equal(t, filepath.Join(root, "clipunity-v1.0.0"), r.PackageDir)
}

func TestDescribe_ReportsFailure(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "missing"), t.TempDir())
	r := l.Describe()
	assert.NotEmpty(t, r.Error)
	assert.Empty(t, r.Executable)
}
