// Package inbox imports export files dropped into a directory.
//
// A Watcher watches one directory for *.json files. Writes are debounced so
// a file being copied in is handed over once, after it stops changing. Files
// the handler accepts are moved to a processed/ subdirectory; files it
// rejects stay where they are and are retried on their next change.
package inbox

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ProcessedDir is the subdirectory accepted files are moved into.
const ProcessedDir = "processed"

// Handler imports one file.
type Handler func(path string) error

// Config holds configuration for the watcher.
type Config struct {
	// Debounce is how long a file must be quiet before it is handled
	Debounce time.Duration

	// Logger for watcher activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce: 250 * time.Millisecond,
		Logger:   log.New(os.Stderr, "[inbox] ", log.LstdFlags),
	}
}

// Watcher hands new export files in a directory to a Handler.
type Watcher struct {
	dir     string
	handler Handler
	config  *Config

	watcher *fsnotify.Watcher

	pending   map[string]time.Time // path -> last change
	pendingMu sync.Mutex

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher for dir. Call Start to begin.
func New(dir string, handler Handler, config *Config) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("inbox directory cannot be empty")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Debounce <= 0 {
		config.Debounce = defaults.Debounce
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Watcher{
		dir:     dir,
		handler: handler,
		config:  config,
		pending: make(map[string]time.Time),
	}, nil
}

// Start creates the directory if needed, queues any files already in it
// and starts watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := os.MkdirAll(filepath.Join(w.dir, ProcessedDir), 0o755); err != nil {
		return fmt.Errorf("failed to create inbox %s: %w", w.dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.watcher = fsw

	existing, err := filepath.Glob(filepath.Join(w.dir, "*.json"))
	if err != nil {
		fsw.Close()
		return fmt.Errorf("failed to scan %s: %w", w.dir, err)
	}
	now := time.Now()
	w.pendingMu.Lock()
	for _, path := range existing {
		w.pending[path] = now
	}
	w.pendingMu.Unlock()

	w.done = make(chan struct{})
	w.running = true
	w.wg.Add(2)
	go w.watchEvents()
	go w.processPending()

	w.config.Logger.Printf("Watching %s (%d files waiting)", w.dir, len(existing))
	return nil
}

// Stop stops watching and waits for in-flight handlers.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// IsRunning reports whether the watcher is started.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) watchEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isExport(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.pendingMu.Lock()
			w.pending[event.Name] = time.Now()
			w.pendingMu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// processPending hands over files that have been quiet for Debounce.
func (w *Watcher) processPending() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			for _, path := range w.ready() {
				w.handle(path)
			}
		}
	}
}

// ready removes and returns quiet paths in name order.
func (w *Watcher) ready() []string {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	cutoff := time.Now().Add(-w.config.Debounce)
	var out []string
	for path, changed := range w.pending {
		if changed.Before(cutoff) {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) handle(path string) {
	if _, err := os.Stat(path); err != nil {
		// Moved away or deleted before it settled.
		return
	}
	if err := w.handler(path); err != nil {
		w.config.Logger.Printf("Failed to import %s: %v", filepath.Base(path), err)
		return
	}

	dest := filepath.Join(w.dir, ProcessedDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		w.config.Logger.Printf("Warning: imported %s but could not move it: %v", filepath.Base(path), err)
		return
	}
	w.config.Logger.Printf("Imported %s", filepath.Base(path))
}

func isExport(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
