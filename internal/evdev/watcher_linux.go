//go:build linux

package evdev

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"macrod/internal/logging"
)

// HotplugEvent describes a device appearing or disappearing under /dev/input.
type HotplugEvent struct {
	Path      string
	Connected bool
}

// Watcher reports input-device hotplug while a session runs. Changes are
// surfaced to the operator only; resolution is retried at the next session
// start, not mid-run.
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	callback func(HotplugEvent)
	stopCh   chan struct{}
	watching bool
	log      *logging.Logger
}

// NewWatcher creates a hotplug watcher.
func NewWatcher(log *logging.Logger) *Watcher {
	if log == nil {
		log = logging.Default()
	}
	return &Watcher{log: log.WithComponent("hotplug")}
}

// Start begins watching /dev/input for event device changes.
func (w *Watcher) Start(callback func(HotplugEvent)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching {
		return errors.New("already watching")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add("/dev/input"); err != nil {
		fsw.Close()
		return err
	}

	w.fsw = fsw
	w.callback = callback
	w.stopCh = make(chan struct{})
	w.watching = true

	go w.watchLoop()
	return nil
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.HasPrefix(filepath.Base(event.Name), "event") {
				continue
			}
			switch {
			case event.Op&fsnotify.Create != 0:
				w.callback(HotplugEvent{Path: event.Name, Connected: true})
			case event.Op&fsnotify.Remove != 0:
				w.callback(HotplugEvent{Path: event.Name, Connected: false})
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Debug("hotplug watcher error", "error", err)
		}
	}
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.watching {
		return nil
	}
	close(w.stopCh)
	err := w.fsw.Close()
	w.fsw = nil
	w.callback = nil
	w.watching = false
	return err
}
