package assets

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch rebuilds the index whenever either asset directory changes.
// Users drop sprite batches in by hand, so changes arrive in bursts; a
// debounce collapses each burst into one rescan.
func Watch(ctx context.Context, index *Index, logger *slog.Logger, onRebuild func(Table)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, dir := range []string{index.spriteDir, index.modelDir} {
		if err := watcher.Add(dir); err != nil {
			logger.Warn("asset directory not watchable", "dir", dir, "error", err)
		}
	}

	go func() {
		defer watcher.Close()

		var pending *time.Timer
		fire := func() {
			table := index.Rebuild()
			if onRebuild != nil {
				onRebuild(table)
			}
		}

		for {
			select {
			case <-ctx.Done():
				if pending != nil {
					pending.Stop()
				}
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(500*time.Millisecond, fire)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("asset watcher error", "error", err)
			}
		}
	}()

	return nil
}
