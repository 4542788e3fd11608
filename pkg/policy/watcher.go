package policy

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/featurestore/pkg/observability"
)

// Watcher serves the policy from a YAML file and reloads it when the file
// changes. Each reload swaps in a new immutable snapshot.
type Watcher struct {
	path    string
	logger  *observability.Logger
	current atomic.Pointer[CategoryPolicy]

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	// reloaded is signalled after every reload attempt; tests use it
	reloaded chan error
}

// NewWatcher loads path and starts watching it. The initial load must
// succeed; later parse failures keep the previous snapshot.
func NewWatcher(path string, logger *observability.Logger) (*Watcher, error) {
	initial, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy watcher: %w", err)
	}
	// Watch the directory so atomic renames by editors and config
	// management are seen.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch policy directory: %w", err)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		logger:   logger,
		watcher:  fw,
		done:     make(chan struct{}),
		reloaded: make(chan error, 1),
	}
	w.current.Store(initial)

	w.wg.Add(1)
	go w.run()

	return w, nil
}

// Current returns the active policy snapshot
func (w *Watcher) Current() *CategoryPolicy {
	return w.current.Load()
}

// Close stops watching
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) run() {
	defer w.wg.Done()
	defer observability.RecoverPanic(w.logger, "policy watcher")

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.notify(w.reload())
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Category policy watcher error")
		}
	}
}

func (w *Watcher) reload() error {
	next, err := LoadFile(w.path)
	if err != nil {
		w.logger.WithError(err).WithField("path", w.path).Error("Category policy reload failed, keeping previous policy")
		return err
	}
	w.current.Store(next)
	w.logger.WithFields(map[string]interface{}{
		"path":             w.path,
		"write_categories": next.WriteCategories(),
		"read_categories":  next.ReadCategories(),
	}).Info("Category policy reloaded")
	return nil
}

// notify keeps only the latest reload result
func (w *Watcher) notify(err error) {
	for {
		select {
		case w.reloaded <- err:
			return
		default:
		}
		select {
		case <-w.reloaded:
		default:
		}
	}
}
