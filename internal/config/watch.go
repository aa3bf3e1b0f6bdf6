package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the settings file whenever it is written or replaced and
// hands the result to onLoad. The parent directory is watched so editors
// that save through a rename are picked up.
func Watch(ctx context.Context, path string, onLoad func(Settings, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				onLoad(LoadSettings(target))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onLoad(Settings{}, fmt.Errorf("settings watcher: %w", err))
			}
		}
	}()
	return nil
}
