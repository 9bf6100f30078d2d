package event

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

type Handler struct {
	service      *Service
	maxBodyBytes int64
	logger       *zap.Logger
}

func NewHandler(service *Service, maxBodyBytes int64, logger *zap.Logger) *Handler {
	return &Handler{
		service:      service,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// TrackHit accepts beacon bodies sent as application/json or text/plain. Dropped hits
// get the same 204 as stored ones.
func (h *Handler) TrackHit(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Track(r.Context(), NewHTTPRequest(r, h.maxBodyBytes)); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	healthy, status := h.service.HealthCheck(r.Context())

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{"healthy": healthy, "dependencies": status}); err != nil {
		h.logger.Error("failed to write health response", zap.Error(err))
	}
}
