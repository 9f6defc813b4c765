package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file whenever it changes on disk and invokes
// onChange with the freshly loaded, validated Config. Editors that replace
// a file (write to a temp file then rename) produce a Remove event
// followed by a Create rather than a Write, so both are treated the same
// as a reload trigger.
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// Watch starts watching path's directory (not the file itself, so
// rename-based atomic saves aren't missed) and calls onChange on every
// reload attempt, successful or not, so callers can log and keep running
// on the last-good config.
func Watch(path string, onChange func(*Config, error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config dir %s: %w", dir, err)
	}

	w := &Watcher{path: path, fsw: fsw, done: make(chan struct{})}
	target, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}

	go func() {
		defer close(w.done)
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				abs, err := filepath.Abs(event.Name)
				if err != nil || abs != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := Load(path)
				onChange(cfg, err)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				onChange(nil, err)
			}
		}
	}()

	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
