package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/voicenote/internal/delivery"
)

// LiveSource is the event bus the SSE stream reads from.
type LiveSource interface {
	Subscribe(filter delivery.Filter) (<-chan delivery.Event, func())
	ReplaySince(lastEventID string, filter delivery.Filter) []delivery.Event
}

type EventsHandler struct {
	live      LiveSource
	keepalive time.Duration
}

func NewEventsHandler(live LiveSource) *EventsHandler {
	return &EventsHandler{live: live, keepalive: 15 * time.Second}
}

// StreamEvents opens an SSE connection and pushes delivered chunks and
// status notices, optionally limited to one user.
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		WriteError(w, http.StatusServiceUnavailable, "event streaming not available")
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	filter := delivery.Filter{}
	if v, ok := QueryString(r, "user_id"); ok {
		filter.UserID = v
		tagUser(r, v)
	}
	if v, ok := QueryString(r, "types"); ok {
		filter.Types = strings.Split(v, ",")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := h.live.Subscribe(filter)
	defer cancel()

	seen := ""
	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, e := range h.live.ReplaySince(lastEventID, filter) {
			writeEvent(w, e)
			seen = e.ID
		}
	}
	if err := rc.Flush(); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("streaming not supported")
		return
	}

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	log := hlog.FromRequest(r)
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			log.Info().Msg("SSE client disconnected")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if seen != "" && !after(event.ID, seen) {
				continue
			}
			writeEvent(w, event)
			rc.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			rc.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, e delivery.Event) {
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
}

// after reports whether event id a sorts after b. IDs are "<unix-ms>-<seq>".
func after(a, b string) bool {
	return seqOf(a) > seqOf(b)
}

func seqOf(id string) uint64 {
	i := strings.LastIndexByte(id, '-')
	var n uint64
	fmt.Sscan(id[i+1:], &n)
	return n
}

// Routes registers event routes on the given router.
func (h *EventsHandler) Routes(r chi.Router) {
	r.Get("/events/stream", h.StreamEvents)
}
