package handler

import (
	"net/http"

	"message-feed/backend/internal/platform/httpx"
)

// Probe is the part of health.Checker the HTTP probes need.
type Probe interface {
	Serving() bool
}

// StatusResponse is the body of both probes.
type StatusResponse struct {
	Status string `json:"status"`
}

// Handler serves /healthz (liveness) and /readyz (readiness).
type Handler struct {
	probe Probe
}

// NewHandler returns probes backed by probe. A nil probe always reports ready.
func NewHandler(probe Probe) *Handler {
	return &Handler{probe: probe}
}

// Live always answers 200 while the process can run handlers.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// Ready reports the last published health status: 200 SERVING or 503 NOT_SERVING.
func (h *Handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if h.probe != nil && !h.probe.Serving() {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: "NOT_SERVING"})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, StatusResponse{Status: "SERVING"})
}
