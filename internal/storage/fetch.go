package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/snarg/voicenote/internal/media"
)

// ErrFetch marks a failure to materialize a stored clip locally.
var ErrFetch = errors.New("fetch failed")

// Fetcher copies stored clips into a private working directory.
type Fetcher struct {
	store   MediaStore
	workDir string
}

func NewFetcher(store MediaStore, workDir string) *Fetcher {
	return &Fetcher{store: store, workDir: workDir}
}

// Fetch copies ref into workDir under a unique name. No partial file is
// left behind on failure.
func (f *Fetcher) Fetch(ctx context.Context, ref media.Ref) (media.Asset, error) {
	if err := os.MkdirAll(f.workDir, 0o755); err != nil {
		return media.Asset{}, fmt.Errorf("%w: mkdir %s: %v", ErrFetch, f.workDir, err)
	}

	src, err := f.store.Open(ctx, ref.Key)
	if err != nil {
		return media.Asset{}, fmt.Errorf("%w: open %s: %v", ErrFetch, ref.Key, err)
	}
	defer src.Close()

	dst := filepath.Join(f.workDir, uuid.NewString()+path.Ext(ref.Key))
	out, err := os.Create(dst)
	if err != nil {
		return media.Asset{}, fmt.Errorf("%w: create: %v", ErrFetch, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return media.Asset{}, fmt.Errorf("%w: copy %s: %v", ErrFetch, ref.Key, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return media.Asset{}, fmt.Errorf("%w: close: %v", ErrFetch, err)
	}

	return media.Asset{
		LocalPath:       dst,
		Kind:            ref.Kind,
		DurationSeconds: ref.DurationSeconds,
	}, nil
}

// Discard deletes the stored clip behind ref.
func (f *Fetcher) Discard(ctx context.Context, ref media.Ref) error {
	return f.store.Delete(ctx, ref.Key)
}

// WorkDir returns the directory fetched files are written to.
func (f *Fetcher) WorkDir() string { return f.workDir }
