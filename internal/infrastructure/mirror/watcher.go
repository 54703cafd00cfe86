package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"meshvoice/internal/core/domain"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ApplyFunc receives every mirror read from the file, normally
// Manager.SetMirror.
type ApplyFunc func(ctx context.Context, mirror domain.Mirror)

// Watcher reloads the local presence from a JSON file whenever the file
// changes. The rendering layer owns the file; we only read it.
type Watcher struct {
	path     string
	apply    ApplyFunc
	debounce time.Duration
	logger   *zap.SugaredLogger
}

func NewWatcher(path string, apply ApplyFunc, logger *zap.SugaredLogger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		apply:    apply,
		debounce: 200 * time.Millisecond,
		logger:   logger,
	}
}

// Load reads and decodes the mirror file.
func Load(path string) (domain.Mirror, error) {
	var m domain.Mirror
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to decode mirror file %s: %w", path, err)
	}
	return m, nil
}

// Run applies the current file, then watches its directory until ctx is
// done. Watching the directory survives editors that replace the file.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.reload(ctx)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("mirror watcher error", "error", err)
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	m, err := Load(w.path)
	if errors.Is(err, os.ErrNotExist) {
		w.logger.Debugw("mirror file absent", "path", w.path)
		return
	}
	if err != nil {
		w.logger.Warnw("failed to load mirror file", "path", w.path, "error", err)
		return
	}
	w.logger.Infow("mirror file loaded", "path", w.path, "in_channel", m.InVoiceChannel != nil)
	w.apply(ctx, m)
}
