package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
)

// VerifyPath ensures the notification file's parent directory exists and
// performs one ping, establishing the file for the first time if necessary.
func VerifyPath(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("notify: creating directory %q for notification file: %w", dir, err)
	}
	return Ping(path)
}

// Ping overwrites the notification file with the current nanosecond
// timestamp, waking any Listener watching it.
func Ping(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("notify: opening notification file %q: %w", path, err)
	}
	defer f.Close()

	value := strconv.FormatInt(time.Now().UnixNano(), 10)
	if _, err := f.WriteString(value); err != nil {
		return fmt.Errorf("notify: writing notification file %q: %w", path, err)
	}
	return nil
}

// Result reports whether Listen returned because of a timeout rather than an
// observed modification.
type Result struct {
	TimedOut bool
}

// Listener watches a single path for modification events.
type Listener struct {
	watcher *fsnotify.Watcher
	path    string
	timeout time.Duration
}

// NewListener creates a listener watching path, waking at most every timeout
// when Listen is called and nothing has happened.
func NewListener(path string, timeout time.Duration) (*Listener, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("notify: initializing watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("notify: watching %q: %w", path, err)
	}

	return &Listener{watcher: w, path: path, timeout: timeout}, nil
}

// Listen blocks until a modification event on the watched path arrives or
// the configured timeout elapses, whichever is first.
func (l *Listener) Listen() (Result, error) {
	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return Result{}, fmt.Errorf("notify: watcher closed for %q", l.path)
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				return Result{TimedOut: false}, nil
			}
			// Ignore unrelated event kinds (chmod, rename) and keep waiting
			// for the remainder of the timeout.
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return Result{}, fmt.Errorf("notify: watcher error channel closed for %q", l.path)
			}
			return Result{}, fmt.Errorf("notify: watcher error on %q: %w", l.path, err)
		case <-timer.C:
			return Result{TimedOut: true}, nil
		}
	}
}

// Close releases the underlying filesystem watch.
func (l *Listener) Close() error {
	return l.watcher.Close()
}
