package config

import (
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher hot-reloads a Store whenever its backing file changes,
// directly continuing the teacher's startConfigWatcher/configWatchLoop
// pair (fsnotify on the containing directory, debounced, filtered to
// the one file we care about).
type Watcher struct {
	path    string
	store   *Store
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// StartWatcher begins watching path's directory for changes to path
// and reloading store on each debounced write/create event.
func StartWatcher(path string, store *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch dir %s: %w", dir, err)
	}

	w := &Watcher{path: path, store: store, watcher: fw, done: make(chan struct{})}
	go w.loop()
	log.Printf("🔄 config hot-reload enabled: %s", path)
	return w, nil
}

func (w *Watcher) loop() {
	var lastReload time.Time
	base := filepath.Base(w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if time.Since(lastReload) < debounceWindow {
				continue
			}
			lastReload = time.Now()

			time.Sleep(100 * time.Millisecond)
			if err := w.store.Reload(w.path); err != nil {
				log.Printf("❌ config reload failed: %v", err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("❌ config watch error: %v", err)

		case <-w.done:
			return
		}
	}
}

// Stop tears down the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
}
