package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/snarg/voicenote/internal/media"
	"github.com/snarg/voicenote/internal/pipeline"
	"github.com/snarg/voicenote/internal/quota"
	"github.com/snarg/voicenote/internal/session"
)

// mockClips implements ClipService for testing.
type mockClips struct {
	mu         sync.Mutex
	lastUser   string
	lastRef    media.Ref
	lastChoice pipeline.Choice
	submitErr  error
	chooseErr  error
	cost       float64
}

func (m *mockClips) Submit(_ context.Context, userID string, ref media.Ref) (pipeline.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUser = userID
	m.lastRef = ref
	if errors.Is(m.submitErr, quota.ErrQuotaExceeded) {
		return pipeline.Submission{State: pipeline.Rejected, EstimatedCost: m.cost}, m.submitErr
	}
	if m.submitErr != nil {
		return pipeline.Submission{}, m.submitErr
	}
	return pipeline.Submission{State: pipeline.AwaitingChoice, Ref: ref}, nil
}

func (m *mockClips) Choose(_ context.Context, c pipeline.Choice) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastChoice = c
	if m.chooseErr != nil {
		return "", m.chooseErr
	}
	return "run-1", nil
}

// mockMedia implements MediaSaver in memory.
type mockMedia struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
}

func newMockMedia() *mockMedia { return &mockMedia{objects: make(map[string][]byte)} }

func (m *mockMedia) Save(_ context.Context, key string, r io.Reader, _ string) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = b
	m.mu.Unlock()
	return nil
}

func buildMultipartForm(t *testing.T, fields map[string]string, fileField string, fileData []byte, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	if fileData != nil && fileField != "" {
		part, err := writer.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(fileData)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func validFields() map[string]string {
	return map[string]string{"user_id": "u1", "duration": "42", "kind": "voice"}
}

func postClip(t *testing.T, h *ClipsHandler, fields map[string]string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := buildMultipartForm(t, fields, "media", data, "clip.OGG")
	req := httptest.NewRequest("POST", "/clips", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.Submit(rec, req)
	return rec
}

func TestSubmit_Accepted(t *testing.T) {
	clips := &mockClips{}
	store := newMockMedia()
	h := NewClipsHandler(clips, store, 1)

	rec := postClip(t, h, validFields(), []byte("fake-audio"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status string    `json:"status"`
		Ref    media.Ref `json:"ref"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "awaiting_choice" {
		t.Errorf("status = %q, want awaiting_choice", resp.Status)
	}
	if resp.Ref.Kind != media.KindAudio || resp.Ref.DurationSeconds != 42 {
		t.Errorf("ref = %+v", resp.Ref)
	}
	if !strings.HasSuffix(resp.Ref.Key, ".ogg") {
		t.Errorf("key %q should keep the lowercased extension", resp.Ref.Key)
	}
	if got := string(store.objects[resp.Ref.Key]); got != "fake-audio" {
		t.Errorf("stored %q, want fake-audio", got)
	}
	if clips.lastUser != "u1" || clips.lastRef.Key != resp.Ref.Key {
		t.Errorf("submit got user=%q ref=%+v", clips.lastUser, clips.lastRef)
	}
}

func TestSubmit_Rejected(t *testing.T) {
	clips := &mockClips{submitErr: fmt.Errorf("%w: estimated cost $0.01", quota.ErrQuotaExceeded), cost: 0.009}
	h := NewClipsHandler(clips, newMockMedia(), 1)

	rec := postClip(t, h, validFields(), []byte("x"))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "rejected" {
		t.Errorf("status = %v, want rejected", resp["status"])
	}
	if resp["estimated_cost"] != 0.009 {
		t.Errorf("estimated_cost = %v, want 0.009", resp["estimated_cost"])
	}
	if _, ok := resp["ref"]; ok {
		t.Error("rejected response should not carry a ref")
	}
}

func TestSubmit_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		data   []byte
	}{
		{"missing_user", map[string]string{"duration": "1", "kind": "audio"}, []byte("x")},
		{"topic_wildcard_user", map[string]string{"user_id": "a/#", "duration": "1", "kind": "audio"}, []byte("x")},
		{"bad_duration", map[string]string{"user_id": "u1", "duration": "abc", "kind": "audio"}, []byte("x")},
		{"negative_duration", map[string]string{"user_id": "u1", "duration": "-3", "kind": "audio"}, []byte("x")},
		{"bad_kind", map[string]string{"user_id": "u1", "duration": "1", "kind": "photo"}, []byte("x")},
		{"missing_file", validFields(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clips := &mockClips{}
			h := NewClipsHandler(clips, newMockMedia(), 1)
			rec := postClip(t, h, tt.fields, tt.data)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400; body: %s", rec.Code, rec.Body.String())
			}
			if clips.lastUser != "" {
				t.Error("submit should not be called")
			}
		})
	}
}

func TestSubmit_TooLarge(t *testing.T) {
	h := NewClipsHandler(&mockClips{}, newMockMedia(), 1)
	rec := postClip(t, h, validFields(), bytes.Repeat([]byte("a"), 2<<20))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestSubmit_StoreAndSubmitErrors(t *testing.T) {
	t.Run("store_fails", func(t *testing.T) {
		store := newMockMedia()
		store.saveErr = errors.New("disk full")
		clips := &mockClips{}
		rec := postClip(t, NewClipsHandler(clips, store, 1), validFields(), []byte("x"))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
		if clips.lastUser != "" {
			t.Error("submit should not be called when the store fails")
		}
	})
	t.Run("submit_fails", func(t *testing.T) {
		clips := &mockClips{submitErr: errors.New("ledger down")}
		rec := postClip(t, NewClipsHandler(clips, newMockMedia(), 1), validFields(), []byte("x"))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rec.Code)
		}
	})
}

func postChoice(t *testing.T, h *ClipsHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/clips/choice", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Choose(rec, req)
	return rec
}

func TestChoose(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		chooseErr  error
		wantStatus int
		wantCode   string
	}{
		{"transcript", `{"user_id":"u1","mode":"transcript"}`, nil, http.StatusAccepted, ""},
		{"summary_with_style", `{"user_id":"u1","mode":"summary","style":"business"}`, nil, http.StatusAccepted, ""},
		{"no_session", `{"user_id":"u1","mode":"transcript"}`, session.ErrNotFound, http.StatusNotFound, ErrNotFound},
		{"queue_full", `{"user_id":"u1","mode":"summary"}`, pipeline.ErrQueueFull, http.StatusServiceUnavailable, ErrQueueFull},
		{"other_error", `{"user_id":"u1","mode":"summary"}`, errors.New("boom"), http.StatusInternalServerError, ErrInternal},
		{"bad_mode", `{"user_id":"u1","mode":"poem"}`, nil, http.StatusBadRequest, ErrBadRequest},
		{"missing_user", `{"mode":"summary"}`, nil, http.StatusBadRequest, ErrBadRequest},
		{"wildcard_user", `{"user_id":"+","mode":"summary"}`, nil, http.StatusBadRequest, ErrBadRequest},
		{"malformed", `{bad`, nil, http.StatusBadRequest, ErrInvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewClipsHandler(&mockClips{chooseErr: tt.chooseErr}, newMockMedia(), 1)
			rec := postChoice(t, h, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				var body ErrorResponse
				json.Unmarshal(rec.Body.Bytes(), &body)
				if body.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
				}
			}
		})
	}
}

func TestChoose_PassesChoice(t *testing.T) {
	clips := &mockClips{}
	h := NewClipsHandler(clips, newMockMedia(), 1)
	rec := postChoice(t, h, `{"user_id":"u7","mode":"summary","style":"clarity","instruction":"make it short"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["run_id"] != "run-1" {
		t.Errorf("run_id = %q, want run-1", resp["run_id"])
	}
	c := clips.lastChoice
	if c.UserID != "u7" || c.Mode != session.ModeSummary || c.Style != "clarity" || c.Instruction != "make it short" {
		t.Errorf("choice = %+v", c)
	}
}
