package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file (or the export directory itself) appeared.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was removed or renamed away.
	OpDelete
)

func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileEvent is a change to the export directory or one of its CSV files.
type FileEvent struct {
	// Path is the absolute path that changed.
	Path string
	Op   EventOp
	// DirEvent is set when Path is the export directory itself.
	DirEvent bool
}

// Watcher watches the export directory, and its parent so that the
// directory being created or removed is noticed.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
	dir     string
}

// NewWatcher creates a Watcher. It must be started with Start.
func NewWatcher() (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher: watcher,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir. Either dir or its parent must exist.
func (w *Watcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	if w.stopped {
		return fmt.Errorf("watcher already stopped")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	w.dir = abs

	parentErr := w.watcher.Add(filepath.Dir(abs))
	dirErr := w.watcher.Add(abs)
	if parentErr != nil && dirErr != nil {
		return fmt.Errorf("failed to watch scanner export directory %s: %w", abs, dirErr)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching and closes the Events and Errors channels. It is
// safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	wasRunning := w.running
	w.running = false
	w.stopped = true
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	if wasRunning {
		w.wg.Wait()
	}
	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of file events. It is closed by Stop.
func (w *Watcher) Events() <-chan FileEvent {
	return w.events
}

// Errors returns the channel of watcher errors. It is closed by Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning reports whether the watcher has been started and not stopped.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			fileEvent, ok := w.convertEvent(event)
			if !ok {
				continue
			}
			if fileEvent.DirEvent && fileEvent.Op == OpCreate {
				// The directory was (re)created; watch its contents too.
				if err := w.watcher.Add(w.dir); err != nil {
					w.sendError(err)
				}
			}
			select {
			case w.events <- fileEvent:
			case <-w.done:
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.sendError(err)
		}
	}
}

func (w *Watcher) sendError(err error) {
	select {
	case w.errors <- err:
	case <-w.done:
	}
}

// convertEvent maps an fsnotify event to a FileEvent, ignoring anything
// that is neither the export directory nor a CSV inside it.
func (w *Watcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	path, err := filepath.Abs(event.Name)
	if err != nil {
		return FileEvent{}, false
	}

	isDir := path == w.dir
	if !isDir {
		if filepath.Dir(path) != w.dir || !strings.EqualFold(filepath.Ext(path), ".csv") {
			return FileEvent{}, false
		}
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
		if isDir {
			if info, err := os.Stat(path); err != nil || !info.IsDir() {
				return FileEvent{}, false
			}
		}
	case event.Has(fsnotify.Write):
		if isDir {
			return FileEvent{}, false
		}
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: path, Op: op, DirEvent: isDir}, true
}
