package csvsource

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher signals when a candidate CSV file under a directory is created or
// rewritten. Events are debounced: editors and exporters routinely emit
// several write events for one save.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	changes  chan string
}

// NewWatcher begins watching dir. The returned Watcher must be closed.
func NewWatcher(dir string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		fsw:      fsw,
		debounce: debounce,
		changes:  make(chan string, 1),
	}, nil
}

// Changes yields the path of a changed candidate file. At most one
// notification is buffered; coalescing is the consumer's friend here since a
// pass re-reads the whole file anyway.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Run pumps filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	var (
		timer   *time.Timer
		pending string
	)
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !IsCandidateFile(filepath.Base(event.Name)) {
				continue
			}
			pending = event.Name
			if timer == nil {
				timer = time.AfterFunc(w.debounce, func() {
					select {
					case fire <- struct{}{}:
					default:
					}
				})
			} else {
				timer.Reset(w.debounce)
			}
		case <-fire:
			timer = nil
			select {
			case w.changes <- pending:
			default:
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
