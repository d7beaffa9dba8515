package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the bursts of events an editor save produces.
var reloadDebounce = 500 * time.Millisecond

// WatchConfig reports changes to the given files on the returned channel,
// one debounced path per burst. The parent directories are watched rather
// than the files, so files created, replaced or renamed into place after
// startup are picked up too. The channel is never closed; callers select
// on their own context.
func WatchConfig(ctx context.Context, files ...string) <-chan string {
	changed := make(chan string, 1)
	debounce := reloadDebounce

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create fsnotify watcher", "error", err)
		return changed
	}

	wanted := make(map[string]bool, len(files))
	dirs := make(map[string]bool)
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			slog.Warn("Could not resolve config path", "file", file, "error", err)
			continue
		}
		wanted[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			slog.Warn("Could not watch config directory", "dir", dir, "error", err)
			continue
		}
		slog.Debug("Watching config directory", "dir", dir)
	}

	go func() {
		defer watcher.Close()

		timers := make(map[string]*time.Timer)
		defer func() {
			for _, t := range timers {
				t.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Clean(event.Name)
				if !wanted[name] || !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if t, ok := timers[name]; ok {
					t.Stop()
				}
				timers[name] = time.AfterFunc(debounce, func() {
					if ctx.Err() != nil {
						return
					}
					slog.Info("Configuration change detected", "file", name)
					select {
					case changed <- name:
					case <-ctx.Done():
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watcher error", "error", err)
			}
		}
	}()

	return changed
}
