package ping

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	BodyNew  = "0"
	BodySeen = "1"
)

type HeaderGetter interface {
	Get(name string) string
}

type HeaderSetter interface {
	Set(name, value string)
}

// Result of one probe. Body is empty when Error is set.
type Result struct {
	Status int
	Body   string
	Error  string
}

// Prober answers "has this client been seen today" from the client's own HTTP cache:
// the first probe of a UTC day marks the response Last-Modified at midnight, and the
// browser replays it as If-Modified-Since until the cache entry expires at the next one.
type Prober struct {
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Prober)

func WithClock(now func() time.Time) Option {
	return func(p *Prober) {
		p.now = now
	}
}

func NewProber(logger *zap.Logger, opts ...Option) *Prober {
	p := &Prober{
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Prober) Probe(req HeaderGetter, resp HeaderSetter) Result {
	now := p.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	since := req.Get("If-Modified-Since")
	if since == "" {
		return unseen(resp, dayStart)
	}

	modified, err := parseDate(since)
	if err != nil {
		p.logger.Warn("failed to parse if-modified-since header", zap.String("value", since))
		return badRequest()
	}
	if modified.After(now) {
		p.logger.Warn("if-modified-since header is a future date", zap.String("value", since))
		return badRequest()
	}
	if modified.Before(dayStart) {
		return unseen(resp, dayStart)
	}

	nextDay := dayStart.AddDate(0, 0, 1)
	maxAge := int64(math.Ceil(nextDay.Sub(now).Seconds()))
	resp.Set("Last-Modified", since)
	resp.Set("Cache-Control", fmt.Sprintf("max-age=%d", maxAge))
	return Result{Status: http.StatusOK, Body: BodySeen}
}

func unseen(resp HeaderSetter, dayStart time.Time) Result {
	resp.Set("Last-Modified", dayStart.Format(http.TimeFormat))
	resp.Set("Cache-Control", "no-cache")
	return Result{Status: http.StatusOK, Body: BodyNew}
}

func badRequest() Result {
	return Result{Status: http.StatusBadRequest, Error: http.StatusText(http.StatusBadRequest)}
}

// parseDate accepts the HTTP date formats and RFC 3339.
func parseDate(v string) (time.Time, error) {
	if t, err := http.ParseTime(v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
