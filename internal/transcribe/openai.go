package transcribe

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient transcribes through the OpenAI audio API using the
// go-openai SDK.
type OpenAIClient struct {
	client *openai.Client
	opts   Options
}

// NewOpenAIClient creates a client. baseURL may be empty for the public API.
func NewOpenAIClient(apiKey, baseURL string, opts Options) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if opts.Model == "" {
		opts.Model = openai.Whisper1
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		opts:   opts,
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       c.opts.Model,
		FilePath:    audioPath,
		Prompt:      c.opts.Prompt,
		Temperature: float32(c.opts.Temperature),
		Language:    c.opts.Language,
		Format:      openai.AudioResponseFormatJSON,
	})
	return result(resp.Text, err)
}
