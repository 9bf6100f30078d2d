package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/Wuchinator/litetics/internal/event"
	"github.com/Wuchinator/litetics/internal/ping"
)

type Handlers struct {
	Hits *event.Handler
	Ping *ping.Handler
}

// Options tune the middleware stack. RateLimitRPS and RateLimitBurst apply per client IP;
// a zero RateLimitRPS disables rate limiting.
type Options struct {
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(h Handlers, opts Options, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	// beacons are sent cross-origin from the tracked sites
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "If-Modified-Since"},
		ExposedHeaders: []string{"Last-Modified"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Hits.Health)

	r.Group(func(r chi.Router) {
		if opts.RateLimitRPS > 0 {
			r.Use(rateLimit(newClientLimiters(opts.RateLimitRPS, opts.RateLimitBurst), logger))
		}

		r.Post("/hit", h.Hits.TrackHit)
		r.Get("/ping", h.Ping.Ping)
		r.Route("/api", func(r chi.Router) {
			r.Post("/hit", h.Hits.TrackHit)
			r.Get("/ping", h.Ping.Ping)
		})
	})

	return otelhttp.NewHandler(r, "litetics",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				logger.Debug("request served",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
