package settings

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store whenever one of the settings documents is
// rewritten and then invokes onReload with the fresh snapshot. Editors
// save wholesale, so a short debounce absorbs the write burst.
func Watch(ctx context.Context, store *Store, logger *slog.Logger, onReload func(Snapshot)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	watched := map[string]struct{}{
		filepath.Clean(store.settingsPath):    {},
		filepath.Clean(store.defaultsPath):    {},
		filepath.Clean(store.credentialsPath): {},
	}
	dirs := map[string]struct{}{}
	for p := range watched {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for d := range dirs {
		if err := watcher.Add(d); err != nil {
			watcher.Close()
			return err
		}
	}

	go func() {
		defer watcher.Close()

		var pending *time.Timer
		fire := func() {
			snap := store.Reload()
			logger.Info("settings reloaded", "characters", len(snap.Roster.Characters))
			if onReload != nil {
				onReload(snap)
			}
		}

		for {
			select {
			case <-ctx.Done():
				if pending != nil {
					pending.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if _, hit := watched[filepath.Clean(ev.Name)]; !hit {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(200*time.Millisecond, fire)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("settings watcher error", "error", err)
			}
		}
	}()

	return nil
}
