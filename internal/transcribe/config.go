package transcribe

import (
	"fmt"

	"github.com/snarg/voicenote/internal/config"
)

// FromConfig builds the transcriber selected by TRANSCRIBE_PROVIDER.
func FromConfig(cfg *config.Config) (Transcriber, error) {
	opts := Options{
		Model:    cfg.WhisperModel,
		Language: cfg.TranscribeLanguage,
	}
	switch cfg.TranscribeProvider {
	case "whisper":
		if cfg.WhisperURL == "" {
			return nil, fmt.Errorf("whisper provider needs WHISPER_URL")
		}
		return NewWhisperClient(cfg.WhisperURL, opts, cfg.TranscribeTimeout), nil
	case "openai":
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, opts), nil
	}
	return nil, fmt.Errorf("unknown transcribe provider %q", cfg.TranscribeProvider)
}
