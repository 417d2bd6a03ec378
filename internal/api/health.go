package api

import (
	"context"
	"net/http"
	"time"
)

// HealthSource reports the state of the service's dependencies. Any func
// may be nil when the dependency is not configured.
type HealthSource struct {
	PingLedger    func(ctx context.Context) error
	MQTTConnected func() bool
	Transcriber   string
	Normalizer    func() bool
	Queue         func() (pending, inFlight int)
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	QueuePending  int               `json:"queue_pending"`
	QueueInFlight int               `json:"queue_in_flight"`
}

type HealthHandler struct {
	src       HealthSource
	version   string
	startTime time.Time
}

func NewHealthHandler(src HealthSource, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		src:       src,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Ledger check
	if h.src.PingLedger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		err := h.src.PingLedger(ctx)
		cancel()
		if err != nil {
			checks["ledger"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["ledger"] = "ok"
		}
	} else {
		checks["ledger"] = "not_configured"
	}

	// MQTT check
	if h.src.MQTTConnected != nil {
		if h.src.MQTTConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// ffmpeg is only needed for video clips, so its absence degrades.
	if h.src.Normalizer != nil {
		if h.src.Normalizer() {
			checks["ffmpeg"] = "ok"
		} else {
			checks["ffmpeg"] = "missing"
			if status == "healthy" {
				status = "degraded"
			}
		}
	}

	if h.src.Transcriber != "" {
		checks["transcription"] = h.src.Transcriber
	} else {
		checks["transcription"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}
	if h.src.Queue != nil {
		resp.QueuePending, resp.QueueInFlight = h.src.Queue()
	}

	WriteJSON(w, httpStatus, resp)
}
