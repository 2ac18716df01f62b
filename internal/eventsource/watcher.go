package eventsource

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// directoryWatcher notifies a single callback whenever an .ics file inside
// the watched directory is created, written, renamed, or removed. It
// collapses every fsnotify event into one trigger: callers only care that
// something changed, not what.
type directoryWatcher struct {
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
}

func newDirectoryWatcher(dir string, onChange func()) (*directoryWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	dw := &directoryWatcher{watcher: w, stopChan: make(chan struct{})}
	go dw.run(onChange)
	return dw, nil
}

func (dw *directoryWatcher) run(onChange func()) {
	for {
		select {
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if strings.HasSuffix(strings.ToLower(event.Name), ".ics") {
				onChange()
			}
		case _, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
		case <-dw.stopChan:
			return
		}
	}
}

func (dw *directoryWatcher) stop() error {
	close(dw.stopChan)
	return dw.watcher.Close()
}
