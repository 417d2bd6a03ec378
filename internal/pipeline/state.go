package pipeline

import (
	"context"
	"errors"

	"github.com/snarg/voicenote/internal/media"
	"github.com/snarg/voicenote/internal/quota"
	"github.com/snarg/voicenote/internal/rewrite"
	"github.com/snarg/voicenote/internal/storage"
	"github.com/snarg/voicenote/internal/transcribe"
)

// State is a step in a clip's lifecycle.
type State string

const (
	AwaitingChoice State = "awaiting_choice"
	Fetching       State = "fetching"
	Normalizing    State = "normalizing"
	Transcribing   State = "transcribing"
	Rewriting      State = "rewriting"
	Chunking       State = "chunking"
	Delivered      State = "delivered"
	Failed         State = "failed"
	Rejected       State = "rejected"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == Delivered || s == Failed || s == Rejected
}

var (
	// ErrQueueFull is returned by Choose when no worker slot is free. The
	// session is put back so the user can choose again.
	ErrQueueFull = errors.New("pipeline queue full")

	// ErrDelivery marks a sink failure while handing over chunks.
	ErrDelivery = errors.New("delivery failed")
)

// Kind maps err to the failure label recorded for operators.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, storage.ErrFetch):
		return "fetch"
	case errors.Is(err, media.ErrNormalization):
		return "normalization"
	case errors.Is(err, transcribe.ErrTranscription):
		return "transcription"
	case errors.Is(err, rewrite.ErrRewrite):
		return "rewrite"
	case errors.Is(err, quota.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrDelivery):
		return "delivery"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "internal"
}
