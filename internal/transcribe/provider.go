// Package transcribe turns local audio files into text through remote
// speech-to-text services.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrTranscription marks any backend failure, including an empty result.
var ErrTranscription = errors.New("transcription failed")

// Transcript is the immutable text produced for one clip.
type Transcript struct {
	Text string
}

// Transcriber is the interface for speech-to-text backends.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (Transcript, error)
	Name() string // "whisper", "openai"
}

// Options are per-backend request options.
type Options struct {
	Model       string
	Language    string // empty lets the backend detect the spoken language
	Prompt      string
	Temperature float64
}

// result maps a backend response onto the Transcriber contract: every error
// wraps ErrTranscription and a blank text is a failure.
func result(text string, err error) (Transcript, error) {
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Transcript{}, fmt.Errorf("%w: empty result", ErrTranscription)
	}
	return Transcript{Text: text}, nil
}
