package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/voicenote/internal/media"
	"github.com/snarg/voicenote/internal/pipeline"
	"github.com/snarg/voicenote/internal/quota"
	"github.com/snarg/voicenote/internal/session"
	"github.com/snarg/voicenote/internal/storage"
)

// ClipService is the pipeline surface the clip routes drive.
type ClipService interface {
	Submit(ctx context.Context, userID string, ref media.Ref) (pipeline.Submission, error)
	Choose(ctx context.Context, c pipeline.Choice) (string, error)
}

// MediaSaver stores uploaded clips.
type MediaSaver interface {
	Save(ctx context.Context, key string, r io.Reader, contentType string) error
}

type ClipsHandler struct {
	clips    ClipService
	media    MediaSaver
	maxBytes int64
	now      func() time.Time
}

func NewClipsHandler(clips ClipService, store MediaSaver, maxUploadMB int64) *ClipsHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &ClipsHandler{
		clips:    clips,
		media:    store,
		maxBytes: maxUploadMB << 20,
		now:      time.Now,
	}
}

type submitResponse struct {
	Status        string     `json:"status"`
	Ref           *media.Ref `json:"ref,omitempty"`
	EstimatedCost *float64   `json:"estimated_cost,omitempty"`
}

// Submit accepts a multipart upload (user_id, duration, kind, media) and
// parks it awaiting a mode choice.
func (h *ClipsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			WriteErrorWithCode(w, http.StatusRequestEntityTooLarge, ErrBadRequest, "upload exceeds size limit")
			return
		}
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	userID := strings.TrimSpace(r.FormValue("user_id"))
	if err := validateUserID(userID); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	tagUser(r, userID)
	duration, err := FormInt(r, "duration")
	if err != nil || duration < 0 {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "duration must be a non-negative integer")
		return
	}
	kind, err := media.ParseKind(r.FormValue("kind"))
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("media")
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "missing file: media")
		return
	}
	defer file.Close()

	log := hlog.FromRequest(r)
	ref := media.Ref{
		Key:             storage.NewKey(header.Filename, h.now()),
		Kind:            kind,
		DurationSeconds: duration,
	}
	if err := h.media.Save(r.Context(), ref.Key, file, header.Header.Get("Content-Type")); err != nil {
		log.Error().Err(err).Msg("failed to store upload")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "failed to store media")
		return
	}

	sub, err := h.clips.Submit(r.Context(), userID, ref)
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		cost := sub.EstimatedCost
		WriteJSON(w, http.StatusPaymentRequired, submitResponse{Status: string(pipeline.Rejected), EstimatedCost: &cost})
	case err != nil:
		log.Error().Err(err).Msg("submit failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "failed to submit clip")
	default:
		WriteJSON(w, http.StatusAccepted, submitResponse{Status: string(sub.State), Ref: &sub.Ref})
	}
}

type choiceRequest struct {
	UserID      string `json:"user_id"`
	Mode        string `json:"mode"`
	Style       string `json:"style"`
	Instruction string `json:"instruction"`
}

// Choose queues a run for the user's pending clip.
func (h *ClipsHandler) Choose(w http.ResponseWriter, r *http.Request) {
	var req choiceRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}
	if err := validateUserID(req.UserID); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	tagUser(r, req.UserID)
	mode, err := session.ParseMode(req.Mode)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}

	runID, err := h.clips.Choose(r.Context(), pipeline.Choice{
		UserID:      req.UserID,
		Mode:        mode,
		Style:       req.Style,
		Instruction: req.Instruction,
	})
	switch {
	case errors.Is(err, session.ErrNotFound):
		WriteErrorWithCode(w, http.StatusNotFound, ErrNotFound, "no pending clip for user")
	case errors.Is(err, pipeline.ErrQueueFull):
		WriteErrorWithCode(w, http.StatusServiceUnavailable, ErrQueueFull, "pipeline queue is full, try again later")
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("choose failed")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "failed to queue run")
	default:
		WriteJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	}
}

// validateUserID rejects IDs that cannot be used as a single MQTT topic
// level or a ledger key: empty, wildcards, separators, control characters.
func validateUserID(id string) error {
	switch {
	case id == "":
		return errors.New("missing field: user_id")
	case len(id) > 128:
		return errors.New("user_id longer than 128 bytes")
	case strings.ContainsAny(id, "/+#"):
		return fmt.Errorf("user_id %q must not contain '/', '+' or '#'", id)
	case strings.IndexFunc(id, unicode.IsControl) >= 0:
		return errors.New("user_id must not contain control characters")
	}
	return nil
}

// Routes registers clip routes on the given router.
func (h *ClipsHandler) Routes(r chi.Router) {
	r.Post("/clips", h.Submit)
	r.Post("/clips/choice", h.Choose)
}
