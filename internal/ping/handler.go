package ping

import (
	"net/http"

	"go.uber.org/zap"
)

type Handler struct {
	prober *Prober
	logger *zap.Logger
}

func NewHandler(prober *Prober, logger *zap.Logger) *Handler {
	return &Handler{
		prober: prober,
		logger: logger,
	}
}

func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	res := h.prober.Probe(r.Header, w.Header())

	body := res.Error
	if body == "" {
		body = res.Body
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(res.Status)
	if _, err := w.Write([]byte(body)); err != nil {
		h.logger.Debug("failed to write ping response", zap.Error(err))
	}
}
