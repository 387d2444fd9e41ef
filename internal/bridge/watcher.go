// Package bridge connects the session manager to its surroundings: file
// system notifications for the shared credential store, connectivity
// probing for offline handling, and wall-clock monitoring to catch the
// machine waking from suspend.
package bridge

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change marks one debounced modification of the credential file.
type Change struct {
	Path string
	At   time.Time
}

// StoreWatcher watches the directory holding the credential file and
// emits a debounced Change whenever the file itself is touched. It
// watches the directory rather than the file because the store writes
// via rename, which replaces the inode.
type StoreWatcher struct {
	path string
	file string

	fsWatcher *fsnotify.Watcher
	changes   chan Change
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once

	debouncer *debouncer

	wg sync.WaitGroup
}

const (
	changesBuffer = 16
	errorsBuffer  = 8
)

// WatchStore starts watching the credential file at path using the
// default debounce delay.
func WatchStore(path string) (*StoreWatcher, error) {
	return WatchStoreWithDelay(path, defaultDebounceDelay)
}

// WatchStoreWithDelay starts watching with a configurable debounce delay.
func WatchStoreWithDelay(path string, delay time.Duration) (*StoreWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("credential path is required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("abs credential path: %w", err)
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("ensure store dir exists: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &StoreWatcher{
		path:      abs,
		file:      filepath.Base(abs),
		fsWatcher: fsw,
		changes:   make(chan Change, changesBuffer),
		errs:      make(chan error, errorsBuffer),
		done:      make(chan struct{}),
		debouncer: newDebouncer(delay),
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()

	return w, nil
}

func (w *StoreWatcher) run() {
	defer close(w.changes)
	defer close(w.errs)

	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if c := w.translate(evt); c != nil {
				w.emitChange(*c)
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.emitError(err)
		}
	}
}

// Changes returns the debounced change channel. It is closed when the
// watcher is closed.
func (w *StoreWatcher) Changes() <-chan Change { return w.changes }

// Errors returns the watcher error channel.
func (w *StoreWatcher) Errors() <-chan error { return w.errs }

// Close stops the watcher and releases OS resources.
func (w *StoreWatcher) Close() error {
	if w == nil {
		return nil
	}

	w.closeOnce.Do(func() {
		close(w.done)
	})

	// Closing the underlying watcher unblocks the run loop.
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

func (w *StoreWatcher) translate(e fsnotify.Event) *Change {
	if e.Name == "" {
		return nil
	}
	if filepath.Base(filepath.Clean(e.Name)) != w.file {
		// The store's own tmp files and unrelated siblings.
		return nil
	}
	if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) == 0 {
		return nil
	}
	if !w.debouncer.ShouldEmit(w.file) {
		return nil
	}
	return &Change{Path: w.path, At: time.Now()}
}

func (w *StoreWatcher) emitChange(c Change) {
	select {
	case w.changes <- c:
	default:
		// Best-effort: drop if consumer is stalled.
	}
}

func (w *StoreWatcher) emitError(err error) {
	select {
	case w.errs <- err:
	default:
	}
}
