package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// debounceDelay coalesces the event bursts editors produce on save.
const debounceDelay = 250 * time.Millisecond

// Watch reloads the store whenever the policy file changes on disk and calls
// onReload after each successful swap. The watch is on the parent directory
// so atomic rename-into-place is observed. It returns when ctx is cancelled.
func Watch(ctx context.Context, store *Store, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(store.Path())); err != nil {
		return err
	}

	target := filepath.Clean(store.Path())
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(debounceDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.WithError(err).Warn("Config watcher error")
		case <-debounce.C:
			if err := store.Reload(); err != nil {
				logrus.WithError(err).Warn("Ignoring invalid config change")
				continue
			}
			if onReload != nil {
				onReload()
			}
			logrus.WithField("path", store.Path()).Info("Config reloaded")
		}
	}
}
