package scripts

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 500 * time.Millisecond

// watchedExtensions are the project files whose changes trigger a reload.
var watchedExtensions = []string{Extension, ".env", ".yaml", ".yml", ".rego", ".cue"}

// Watcher reports project changes for `infractl dev`. Directories are watched
// recursively, including ones created after Watch starts.
type Watcher struct {
	logger   zerolog.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(logger zerolog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates an idle watcher.
func NewWatcher(opts ...WatcherOption) *Watcher {
	w := &Watcher{
		logger:   log.Logger.With().Str("component", "watcher").Logger(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts watching paths and calls onChange with the changed files once
// a burst of events has settled. Missing paths are logged and skipped. Watch
// returns immediately; events are processed until ctx is done or Close is called.
func (w *Watcher) Watch(ctx context.Context, paths []string, onChange func(changed []string)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	watched := 0
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			if err := watchDirectory(fw, path); err != nil {
				w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
				continue
			}
		} else if err := fw.Add(path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch file")
			continue
		}
		watched++
	}

	go w.processEvents(ctx, fw, onChange)

	w.logger.Info().Int("paths", watched).Msg("Started watching project")
	return nil
}

// watchDirectory adds dirPath and all of its subdirectories.
func watchDirectory(fw *fsnotify.Watcher, dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context, fw *fsnotify.Watcher, onChange func([]string)) {
	var (
		timerMu sync.Mutex
		timer   *time.Timer
		pending []string
	)

	flush := func() {
		timerMu.Lock()
		changed := pending
		pending = nil
		timerMu.Unlock()

		if len(changed) > 0 {
			onChange(changed)
		}
	}

	for {
		select {
		case <-ctx.Done():
			timerMu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timerMu.Unlock()
			_ = w.Close()
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}

			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watchDirectory(fw, event.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
					}
					continue
				}
			}

			if !relevant(event) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Project file changed")

			timerMu.Lock()
			if !slices.Contains(pending, event.Name) {
				pending = append(pending, event.Name)
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, flush)
			timerMu.Unlock()

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	base := filepath.Base(event.Name)
	if base == ".env" {
		return true
	}
	return slices.Contains(watchedExtensions, filepath.Ext(base))
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	return err
}
