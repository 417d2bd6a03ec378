package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/voicenote/internal/ledger"
)

// UsageSource reads the usage ledger.
type UsageSource interface {
	GetUsage(ctx context.Context, userID string) (ledger.Usage, error)
	GetAllUsage(ctx context.Context) ([]ledger.Usage, error)
}

type UsageHandler struct {
	src UsageSource
}

func NewUsageHandler(src UsageSource) *UsageHandler {
	return &UsageHandler{src: src}
}

// ListUsage returns one row per registered user.
func (h *UsageHandler) ListUsage(w http.ResponseWriter, r *http.Request) {
	rows, err := h.src.GetAllUsage(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list usage")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "failed to list usage")
		return
	}
	if rows == nil {
		rows = []ledger.Usage{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"users": rows, "total": len(rows)})
}

// GetUsage returns totals for one user. Unknown users report zeros.
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	tagUser(r, userID)
	u, err := h.src.GetUsage(r.Context(), userID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to get usage")
		WriteErrorWithCode(w, http.StatusInternalServerError, ErrInternal, "failed to get usage")
		return
	}
	WriteJSON(w, http.StatusOK, u)
}

// Routes registers usage routes on the given router.
func (h *UsageHandler) Routes(r chi.Router) {
	r.Get("/usage", h.ListUsage)
	r.Get("/usage/{user_id}", h.GetUsage)
}
