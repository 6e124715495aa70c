package watcher

import (
	"context"
	"log/slog"
)

// TriggerFunc starts a rebuild. It is called from a single goroutine.
type TriggerFunc func(ctx context.Context, batch []FileEvent) error

// Rebuild calls trigger for every batch until batches closes or ctx is done.
// Trigger errors are logged and do not stop the loop; the next batch retries.
func Rebuild(ctx context.Context, batches <-chan []FileEvent, trigger TriggerFunc, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			if len(batch) == 0 {
				continue
			}
			logger.Info("image folder changed, rebuilding index", slog.Int("changes", len(batch)))
			if err := trigger(ctx, batch); err != nil {
				logger.Warn("rebuild failed to start", slog.String("error", err.Error()))
			}
		}
	}
}
