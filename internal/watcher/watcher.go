// Package watcher implements the plan drop-box: JSON plan files appearing
// in a watched directory are executed and a <name>.result.json is written
// next to each one.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/davan/docplan/internal/observability"
	"github.com/davan/docplan/pkg/engine"
)

// DefaultDebounce is how long a plan file must sit unchanged before it is
// executed. Editors and network copies often write in several bursts.
const DefaultDebounce = 500 * time.Millisecond

// Executor runs one dropped plan payload and returns its terminal result.
// The name is the plan file's base name.
type Executor func(ctx context.Context, name string, raw []byte) *engine.Result

// Config configures a drop-box Watcher.
type Config struct {
	Dir      string
	Debounce time.Duration
	Execute  Executor
	Logger   zerolog.Logger
}

// Watcher monitors one directory for dropped plan files. Events are
// debounced per path; each stable plan file is read, executed, and answered
// with a result file beside it.
type Watcher struct {
	fsw      *fsnotify.Watcher
	dir      string
	debounce time.Duration
	execute  Executor
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a drop-box watcher. The directory is created on Start if it
// does not exist.
func New(cfg Config) (*Watcher, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("watch dir is required")
	}
	if cfg.Execute == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		fsw:      fsw,
		dir:      cfg.Dir,
		debounce: cfg.Debounce,
		execute:  cfg.Execute,
		logger:   cfg.Logger.With().Str("component", "watcher").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Start begins watching the drop-box directory. Plan files already present
// without a result are picked up as well, so plans dropped while the daemon
// was down are not lost.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create drop-box dir: %w", err)
	}
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	go w.eventLoop()
	w.scanExisting()

	w.logger.Info().
		Str("dir", w.dir).
		Dur("debounce", w.debounce).
		Msg("Plan drop-box watcher started")
	return nil
}

// Stop cancels in-flight executions, stops pending timers, and waits for
// result files to finish writing.
func (w *Watcher) Stop() error {
	var closeErr error
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		for path, timer := range w.timers {
			timer.Stop()
			delete(w.timers, path)
		}
		w.mu.Unlock()

		w.cancel()
		closeErr = w.fsw.Close()
		w.wg.Wait()

		w.logger.Info().Msg("Plan drop-box watcher stopped")
	})
	return closeErr
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isPlanFile(filepath.Base(event.Name)) {
		return
	}

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create,
		event.Op&fsnotify.Write == fsnotify.Write:
		w.schedule(event.Name)

	case event.Op&fsnotify.Remove == fsnotify.Remove,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		w.cancelTimer(event.Name)
	}
}

// scanExisting schedules plan files that were dropped before the watcher
// started. A file that already has a result beside it was handled by an
// earlier run and is left alone.
func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Failed to scan drop-box dir")
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !isPlanFile(entry.Name()) {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if _, err := os.Stat(resultPath(path)); err == nil {
			continue
		}
		w.schedule(path)
	}
}

// schedule debounces a plan file: each event resets the file's timer, so
// execution starts only after the file has been quiet for the full window.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if timer, exists := w.timers[path]; exists {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.fire(path)
	})
}

func (w *Watcher) cancelTimer(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, exists := w.timers[path]; exists {
		timer.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	delete(w.timers, path)
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	w.process(path)
}

func (w *Watcher) process(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		// The file can vanish between the event and the timer firing.
		w.logger.Debug().Err(err).Str("path", path).Msg("Dropped plan unreadable, skipping")
		return
	}

	name := filepath.Base(path)
	logger := w.logger.With().Str("plan", name).Logger()
	logger.Info().Msg("Executing dropped plan")

	started := time.Now()
	result := w.execute(w.ctx, name, raw)
	if result == nil {
		result = &engine.Result{Message: "executor returned no result"}
	}
	observability.RecordWatcherPlan(result.Success)

	if err := w.writeResult(path, result); err != nil {
		logger.Error().Err(err).Msg("Failed to write plan result")
		return
	}

	evt := logger.Info()
	if !result.Success {
		evt = logger.Warn()
	}
	evt.
		Bool("success", result.Success).
		Dur("duration", time.Since(started)).
		Str("message", result.Message).
		Msg("Dropped plan finished")
}

// writeResult writes the result beside the plan via a rename so a reader
// polling for the file never observes a partial document.
func (w *Watcher) writeResult(planPath string, result *engine.Result) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	data = append(data, '\n')

	target := resultPath(planPath)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func resultPath(planPath string) string {
	return strings.TrimSuffix(planPath, ".json") + ".result.json"
}

// isPlanFile reports whether a base name looks like a dropped plan. Result
// files and dotfiles are not plans; without the result exclusion the watcher
// would chase its own output.
func isPlanFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	if strings.HasSuffix(name, ".result.json") {
		return false
	}
	return strings.HasSuffix(name, ".json")
}
