// Package media models fetched clips and converts video containers into an
// audio form the transcription backends accept.
package media

import "fmt"

// Kind is the media category reported by the source platform.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ParseKind accepts "audio"/"voice" and "video"/"video_note".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "audio", "voice":
		return KindAudio, nil
	case "video", "video_note":
		return KindVideo, nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// Ref is the opaque handle a session holds until a mode is chosen. Key
// addresses the object in the media store; DurationSeconds comes from the
// source platform's metadata at submission time.
type Ref struct {
	Key             string `json:"key"`
	Kind            Kind   `json:"kind"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Asset is a clip materialized on local disk for one pipeline run.
type Asset struct {
	LocalPath       string
	Kind            Kind
	DurationSeconds int
}
