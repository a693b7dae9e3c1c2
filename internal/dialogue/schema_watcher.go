package dialogue

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"teller/internal/logging"
)

// SchemaWatcher hot-reloads an intent schema YAML file into a Registry when
// it changes on disk. A parse error keeps the previous schemas.
type SchemaWatcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	registry *Registry
	path     string
	// debounce collapses the bursts of write events editors produce.
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	log      *zap.Logger
}

// NewSchemaWatcher creates a watcher for the given schema file.
func NewSchemaWatcher(path string, registry *Registry) (*SchemaWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &SchemaWatcher{
		watcher:  w,
		registry: registry,
		path:     filepath.Clean(path),
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		log:      logging.Get(logging.CategoryDialogue),
	}, nil
}

// Start begins watching. Non-blocking; the watch loop runs in a goroutine.
func (w *SchemaWatcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory, not the file: editors replace files on save and
	// the inode-level watch would be lost.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	go w.loop()
	return nil
}

func (w *SchemaWatcher) loop() {
	defer close(w.doneCh)

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if err := w.registry.LoadFile(w.path); err != nil {
				w.log.Warn("schema reload failed, keeping previous schemas",
					zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.log.Info("intent schemas reloaded", zap.String("path", w.path))

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("schema watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

// Stop halts the watch loop and releases the underlying watcher.
func (w *SchemaWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	<-w.doneCh
	_ = w.watcher.Close()
}
