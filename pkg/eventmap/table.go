package eventmap

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of write events editors produce.
const reloadDebounce = 100 * time.Millisecond

// Table holds the EventMap currently used for dispatch.
type Table struct {
	current atomic.Pointer[EventMap]
	swaps   atomic.Uint64
}

// NewTable creates a Table serving em. em is frozen if it was not already.
func NewTable(em *EventMap) *Table {
	if em == nil {
		em = New()
	}
	t := &Table{}
	t.current.Store(em.Freeze())
	return t
}

// Load returns the current snapshot.
func (t *Table) Load() *EventMap {
	return t.current.Load()
}

// Resolve resolves name against the current snapshot.
func (t *Table) Resolve(name string) (Subscription, error) {
	return t.current.Load().Resolve(name)
}

// Swap installs em and returns the previous snapshot.
func (t *Table) Swap(em *EventMap) *EventMap {
	t.swaps.Add(1)
	return t.current.Swap(em.Freeze())
}

// Swaps returns how many times the table has been swapped.
func (t *Table) Swaps() uint64 {
	return t.swaps.Load()
}

// Watch reloads path whenever it changes and swaps the result in. A reload
// that fails to build, or that validate rejects, leaves the current map in
// place. validate may be nil. Watch blocks until ctx is done.
func (t *Table) Watch(ctx context.Context, path string, logger *slog.Logger, validate func(*EventMap) error, opts ...Option) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "eventmap_watch", "path", path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("eventmap: create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory; editors often replace the file via rename.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("eventmap: resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("eventmap: watch %s: %w", path, err)
	}

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			em, err := FromFile(abs, opts...)
			if err != nil {
				logger.Error("route reload failed, keeping current routes", "error", err)
				continue
			}
			if validate != nil {
				if err := validate(em); err != nil {
					logger.Error("reloaded routes rejected, keeping current routes", "error", err)
					continue
				}
			}
			prev := t.Swap(em)
			logger.Info("routes reloaded",
				"subscriptions", em.Len(),
				"previous", prev.Len())

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("route watcher error", "error", err)
		}
	}
}
