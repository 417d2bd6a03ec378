package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// workspace owns the local files of one run and removes each exactly once
// when the run exits, whatever the exit path.
type workspace struct {
	mu    sync.Mutex
	paths []string
	once  sync.Once
	log   zerolog.Logger
}

func newWorkspace(log zerolog.Logger) *workspace {
	return &workspace{log: log}
}

// Track registers path for removal on Release.
func (w *workspace) Track(path string) {
	if path == "" {
		return
	}
	w.mu.Lock()
	w.paths = append(w.paths, path)
	w.mu.Unlock()
}

// Replace swaps a tracked path for the file that superseded it. The old
// path is considered already gone.
func (w *workspace) Replace(old, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, p := range w.paths {
		if p == old {
			w.paths[i] = path
			return
		}
	}
	w.paths = append(w.paths, path)
}

// Release removes every tracked file. Later calls are no-ops.
func (w *workspace) Release() {
	w.once.Do(func() {
		w.mu.Lock()
		paths := w.paths
		w.paths = nil
		w.mu.Unlock()
		for _, p := range paths {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				w.log.Warn().Err(err).Str("path", p).Msg("failed to remove work file")
			}
		}
	})
}
