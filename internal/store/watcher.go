package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports when a file disappears.
type Watcher interface {
	// Watch calls onRemove whenever path is removed or renamed away.
	// The returned stop function ends the watch.
	Watch(path string, onRemove func()) (stop func(), err error)
}

// NopWatcher never reports anything.
type NopWatcher struct{}

// Watch implements Watcher.
func (NopWatcher) Watch(string, func()) (func(), error) { return func() {}, nil }

// FSWatcher watches the file's directory with fsnotify.
type FSWatcher struct{}

// Watch implements Watcher.
func (FSWatcher) Watch(path string, onRemove func()) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: a watch on the file itself dies with the file.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					onRemove()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("File watcher error", "path", path, "error", err)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.Close()
			<-done
		})
	}, nil
}
