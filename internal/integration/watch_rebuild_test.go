package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/clipbridge/internal/controller"
	"github.com/Aman-CERP/clipbridge/internal/testutil/faketool"
	"github.com/Aman-CERP/clipbridge/internal/watcher"
)

// TestWatcher_NewImageTriggersRebuild wires the watcher's batches to the
// controller the way 'clipbridge index --watch' does.
func TestWatcher_NewImageTriggersRebuild(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	for _, polling := range []bool{false, true} {
		name := "fsnotify"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			// Given: an indexed folder being watched
			ctrl := controller.New(faketool.Enable(t), controller.DefaultConfig(), controller.WithLogger(quietLogger()))
			defer func() { _ = ctrl.Close() }()
			dir := faketool.WriteImages(t, 2)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			w := watcher.New(watcher.Options{
				DebounceWindow: 100 * time.Millisecond,
				PollInterval:   100 * time.Millisecond,
				ForcePolling:   polling,
			}, quietLogger())
			go func() { _ = w.Run(ctx, dir) }()

			var builds atomic.Int32
			go func() {
				_ = watcher.Rebuild(ctx, w.Batches(), func(ctx context.Context, _ []watcher.FileEvent) error {
					h, err := ctrl.StartBuild(ctx, dir)
					if err != nil {
						return err
					}
					_, err = h.Wait()
					builds.Add(1)
					return err
				}, quietLogger())
			}()

			// Wait for the watcher to take its baseline.
			time.Sleep(300 * time.Millisecond)

			// When: a new image and a non-image appear
			require.NoError(t, os.WriteFile(filepath.Join(dir, "new.png"), nil, 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o644))

			// Then: one rebuild indexes all three images
			require.Eventually(t, func() bool {
				return builds.Load() >= 1
			}, 8*time.Second, 20*time.Millisecond)
			require.Eventually(t, func() bool {
				b := ctrl.Build()
				return !b.Running && b.Success != nil
			}, 5*time.Second, 10*time.Millisecond)
			b := ctrl.Build()
			assert.Equal(t, 3, b.Total)
			assert.Equal(t, 3, b.Processed)
			require.NotNil(t, b.Success)
			assert.True(t, *b.Success)
		})
	}
}
