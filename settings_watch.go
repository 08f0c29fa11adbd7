package crosswire

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// WatchSettings re-feeds s from feeder whenever the file at path changes
// and emits a settings.changed event. The watcher runs until the returned
// stop function is called or the dispatcher finalizes.
//
// The parent directory is watched rather than the file itself, so
// atomic-rename style rewrites are picked up.
func (d *Dispatcher) WatchSettings(s *Settings, path string, feeder Feeder) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create settings watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("resolve settings path %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch settings %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != abs || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.Feed(feeder); err != nil {
					d.LogError("failed to reload settings", "path", path, "error", err)
					continue
				}
				d.LogDebug("settings reloaded", "path", path)
				d.emitEvent(EventTypeSettingsChanged, map[string]any{"path": path})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.LogWarn("settings watcher error", "path", path, "error", err)
			}
		}
	}()

	var once sync.Once
	stop := func() error {
		var err error
		once.Do(func() { err = watcher.Close() })
		return err
	}

	d.watchMu.Lock()
	d.watchStop = append(d.watchStop, stop)
	d.watchMu.Unlock()

	return stop, nil
}

// stopWatchers closes every settings watcher; called by finalize.
func (d *Dispatcher) stopWatchers() {
	d.watchMu.Lock()
	stops := d.watchStop
	d.watchStop = nil
	d.watchMu.Unlock()

	for _, stop := range stops {
		if err := stop(); err != nil {
			d.LogWarn("failed to stop settings watcher", "error", err)
		}
	}
}
