package rewrite

import (
	"fmt"

	"github.com/snarg/voicenote/internal/config"
)

// FromConfig builds the generator selected by REWRITE_PROVIDER.
func FromConfig(cfg *config.Config) (Generator, error) {
	switch cfg.RewriteProvider {
	case "openai":
		return NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.RewriteModel), nil
	case "anthropic":
		return NewAnthropicGenerator(cfg.AnthropicAPIKey, cfg.RewriteModel), nil
	}
	return nil, fmt.Errorf("unknown rewrite provider %q", cfg.RewriteProvider)
}
