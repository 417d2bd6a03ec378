package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint
// (speaches, whisper.cpp server, faster-whisper-server).
type WhisperClient struct {
	url    string
	opts   Options
	client *http.Client
}

// whisperResponse is the json response_format body.
type whisperResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// NewWhisperClient creates a new Whisper HTTP client.
func NewWhisperClient(url string, opts Options, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:    url,
		opts:   opts,
		client: &http.Client{Timeout: timeout},
	}
}

func (wc *WhisperClient) Name() string { return "whisper" }

// Transcribe uploads the file as multipart/form-data. Only non-default
// parameters are sent.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string) (Transcript, error) {
	return result(wc.transcribe(ctx, audioPath))
}

func (wc *WhisperClient) transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}

	if wc.opts.Model != "" {
		w.WriteField("model", wc.opts.Model)
	}
	if wc.opts.Language != "" {
		w.WriteField("language", wc.opts.Language)
	}
	if wc.opts.Prompt != "" {
		w.WriteField("prompt", wc.opts.Prompt)
	}
	if wc.opts.Temperature > 0 {
		w.WriteField("temperature", fmt.Sprintf("%.2f", wc.opts.Temperature))
	}
	w.WriteField("response_format", "json")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := wc.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body))
	}

	var out whisperResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Text, nil
}
