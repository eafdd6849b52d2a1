// Package hotreload re-runs a callback when watched files change on disk
package hotreload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc is called once per debounced change to path
type ReloadFunc func(ctx context.Context, path string) error

// FileWatcher watches individual files. Editors often replace a file
// instead of writing it, so the parent directory is watched and events
// are filtered by name.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	handlers  map[string]ReloadFunc
	debouncer map[string]*time.Timer
	mutex     sync.Mutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.Logger

	debounceDelay time.Duration
}

// NewFileWatcher creates a watcher with the given debounce delay
func NewFileWatcher(debounce time.Duration, logger *zap.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FileWatcher{
		watcher:       watcher,
		handlers:      make(map[string]ReloadFunc),
		debouncer:     make(map[string]*time.Timer),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger.Named("hotreload"),
		debounceDelay: debounce,
	}, nil
}

// Watch calls fn after path changes
func (fw *FileWatcher) Watch(path string, fn ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	fw.mutex.Lock()
	fw.handlers[abs] = fn
	fw.mutex.Unlock()

	if err := fw.watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	fw.logger.Info("Watching file", zap.String("path", abs))
	return nil
}

// Start begins file watching
func (fw *FileWatcher) Start() {
	fw.wg.Add(1)
	go fw.watchLoop()
}

// Stop shuts the watcher down and waits for running callbacks
func (fw *FileWatcher) Stop() error {
	fw.mutex.Lock()
	fw.cancel()
	for _, t := range fw.debouncer {
		t.Stop()
	}
	fw.mutex.Unlock()

	err := fw.watcher.Close()
	fw.wg.Wait()
	return err
}

func (fw *FileWatcher) watchLoop() {
	defer fw.wg.Done()
	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("File watcher error", zap.Error(err))
		}
	}
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	if strings.HasSuffix(event.Name, "~") || strings.HasSuffix(event.Name, ".tmp") {
		return
	}

	name := filepath.Clean(event.Name)

	fw.mutex.Lock()
	defer fw.mutex.Unlock()

	fn, ok := fw.handlers[name]
	if !ok {
		return
	}

	if timer, exists := fw.debouncer[name]; exists {
		timer.Stop()
	}
	fw.debouncer[name] = time.AfterFunc(fw.debounceDelay, func() {
		// cancel happens under the same lock, so no Add can follow Wait
		fw.mutex.Lock()
		delete(fw.debouncer, name)
		if fw.ctx.Err() != nil {
			fw.mutex.Unlock()
			return
		}
		fw.wg.Add(1)
		fw.mutex.Unlock()
		defer fw.wg.Done()

		fw.logger.Info("Reloading changed file", zap.String("path", name), zap.String("op", event.Op.String()))
		if err := fn(fw.ctx, name); err != nil {
			fw.logger.Error("Reload failed", zap.String("path", name), zap.Error(err))
		}
	})
}
