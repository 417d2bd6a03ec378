package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FileSweeper removes files older than retention under one directory.
// Pipeline runs and sessions clean up after themselves, so anything it finds
// was orphaned by a crash or restart.
type FileSweeper struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	what      string
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}
	now       func() time.Time
}

// NewWorkdirSweeper sweeps per-run working files.
func NewWorkdirSweeper(dir string, retention time.Duration, log zerolog.Logger) *FileSweeper {
	return newFileSweeper(dir, retention, "working files", log.With().Str("component", "workdir-sweeper").Logger())
}

// NewMediaSweeper sweeps a local media directory. Pending sessions live in
// memory only, so clips uploaded before a restart are never claimed or
// evicted; retention should cover the session TTL plus the longest run.
func NewMediaSweeper(dir string, retention time.Duration, log zerolog.Logger) *FileSweeper {
	return newFileSweeper(dir, retention, "stored clips", log.With().Str("component", "media-sweeper").Logger())
}

func newFileSweeper(dir string, retention time.Duration, what string, log zerolog.Logger) *FileSweeper {
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return &FileSweeper{
		dir:       dir,
		retention: retention,
		interval:  interval,
		what:      what,
		log:       log,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

func (p *FileSweeper) Start() {
	if p.started.CompareAndSwap(false, true) {
		go p.loop()
	}
}

// Stop ends the loop and waits for an in-progress sweep to finish.
func (p *FileSweeper) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.done
	}
}

func (p *FileSweeper) loop() {
	defer close(p.done)

	// Run once on startup to clear any backlog from downtime
	p.Sweep()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-p.stop:
			return
		}
	}
}

// Sweep removes stale files and returns how many were deleted.
func (p *FileSweeper) Sweep() int {
	if p.retention <= 0 {
		return 0
	}

	cutoff := p.now().Add(-p.retention)
	var prunedCount int
	var prunedBytes int64

	filepath.WalkDir(p.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err == nil {
			prunedCount++
			prunedBytes += info.Size()
			// Drop the date directory once its last clip is gone.
			if parent := filepath.Dir(path); parent != filepath.Clean(p.dir) {
				os.Remove(parent)
			}
		}
		return nil
	})

	if prunedCount > 0 {
		p.log.Warn().
			Int("pruned", prunedCount).
			Str("freed", humanizeBytes(prunedBytes)).
			Msg("removed orphaned " + p.what)
	}
	return prunedCount
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
