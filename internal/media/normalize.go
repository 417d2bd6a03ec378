package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// ErrNormalization marks any failure to turn a fetched clip into audio.
var ErrNormalization = errors.New("normalization failed")

// Normalizer converts an asset into an audio asset.
type Normalizer interface {
	Normalize(ctx context.Context, a Asset) (Asset, error)
}

// FFmpegNormalizer extracts the audio track of video clips with ffmpeg.
// Audio clips pass through untouched.
//
// On success the source video is deleted and only the derived audio file
// remains. On failure the source is left in place for the caller to clean
// up and any partial output is removed.
type FFmpegNormalizer struct {
	FFmpegPath  string
	FFprobePath string
	Log         zerolog.Logger
}

// NewFFmpegNormalizer returns a normalizer using the given binaries, falling
// back to "ffmpeg" and "ffprobe" from PATH.
func NewFFmpegNormalizer(ffmpegPath, ffprobePath string, log zerolog.Logger) *FFmpegNormalizer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegNormalizer{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		Log:         log.With().Str("component", "normalizer").Logger(),
	}
}

// Available reports whether both binaries resolve. Call once at startup.
func (n *FFmpegNormalizer) Available() bool {
	if _, err := exec.LookPath(n.FFmpegPath); err != nil {
		return false
	}
	_, err := exec.LookPath(n.FFprobePath)
	return err == nil
}

func (n *FFmpegNormalizer) Normalize(ctx context.Context, a Asset) (Asset, error) {
	if a.Kind != KindVideo {
		return a, nil
	}

	if _, err := os.Stat(a.LocalPath); err != nil {
		return a, fmt.Errorf("%w: source unreadable: %v", ErrNormalization, err)
	}

	streams, err := n.audioStreams(ctx, a.LocalPath)
	if err != nil {
		return a, fmt.Errorf("%w: ffprobe: %v", ErrNormalization, err)
	}
	if streams == 0 {
		return a, fmt.Errorf("%w: no audio track in %s", ErrNormalization, filepath.Base(a.LocalPath))
	}

	base := strings.TrimSuffix(a.LocalPath, filepath.Ext(a.LocalPath))
	out := base + ".m4a"
	if out == a.LocalPath {
		out = base + ".audio.m4a"
	}

	// ffmpeg -y -i input -vn -ac 1 -c:a aac -b:a 64k output.m4a
	cmd := exec.CommandContext(ctx, n.FFmpegPath,
		"-y", "-loglevel", "error",
		"-i", a.LocalPath,
		"-vn", "-ac", "1",
		"-c:a", "aac", "-b:a", "64k",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(out)
		return a, fmt.Errorf("%w: ffmpeg: %v: %s", ErrNormalization, err, strings.TrimSpace(stderr.String()))
	}
	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		os.Remove(out)
		return a, fmt.Errorf("%w: ffmpeg produced no output", ErrNormalization)
	}

	// Exactly one of source and derived may survive.
	if err := os.Remove(a.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		os.Remove(out)
		return a, fmt.Errorf("%w: remove source: %v", ErrNormalization, err)
	}

	n.Log.Debug().
		Str("source", filepath.Base(a.LocalPath)).
		Str("audio", filepath.Base(out)).
		Msg("extracted audio track, source removed")

	return Asset{LocalPath: out, Kind: KindAudio, DurationSeconds: a.DurationSeconds}, nil
}

// audioStreams counts audio streams with ffprobe.
func (n *FFmpegNormalizer) audioStreams(ctx context.Context, path string) (int, error) {
	cmd := exec.CommandContext(ctx, n.FFprobePath,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String()))
	}
	count := 0
	for _, line := range strings.Split(stdout.String(), "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count, nil
}

// ProbeDuration returns the clip length in whole seconds, rounded up.
func (n *FFmpegNormalizer) ProbeDuration(ctx context.Context, path string) (int, error) {
	cmd := exec.CommandContext(ctx, n.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("ffprobe: unparseable duration %q", strings.TrimSpace(stdout.String()))
	}
	return int(math.Ceil(secs)), nil
}
