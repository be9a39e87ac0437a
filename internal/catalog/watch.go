package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses bursts of events from editors that write files
// in several steps.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the catalog from dir whenever a .yaml file in it changes,
// until ctx is done. A reload that fails keeps the previous definitions.
func (c *Catalog) Watch(ctx context.Context, dir string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Ext(ev.Name) != ".yaml" {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if err := c.reload(os.DirFS(dir)); err != nil {
					logger.Warn("catalog reload failed", "dir", dir, "error", err)
					continue
				}
				logger.Info("catalog reloaded", "dir", dir)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("catalog watcher error", "error", err)
			}
		}
	}()
	return nil
}
