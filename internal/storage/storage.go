// Package storage holds uploaded clips until a pipeline run fetches them.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/voicenote/internal/config"
)

// MediaStore abstracts clip storage backends.
type MediaStore interface {
	// Save stores media data. key format: {YYYY-MM-DD}/{uuid}{ext}
	Save(ctx context.Context, key string, r io.Reader, contentType string) error

	// Open returns a reader for the stored clip.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the clip. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) bool

	// Type returns "local" or "s3".
	Type() string
}

// New creates a MediaStore based on config. Returns an error if S3 is
// configured but unreachable.
func New(cfg config.S3Config, mediaDir string, log zerolog.Logger) (MediaStore, error) {
	if !cfg.Enabled() {
		return NewLocalStore(mediaDir), nil
	}

	s3store, err := NewS3Store(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")
	return s3store, nil
}

// NewKey returns a fresh storage key for an upload named filename.
func NewKey(filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 8 {
		ext = ""
	}
	return now.UTC().Format("2006-01-02") + "/" + uuid.NewString() + ext
}

// BackgroundService is a stoppable background goroutine.
type BackgroundService interface {
	Start()
	Stop()
}
