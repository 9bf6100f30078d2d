package ping

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2024, 3, 10, 15, 4, 5, 500_000_000, time.UTC)

func newTestProber() *Prober {
	return NewProber(zap.NewNop(), WithClock(func() time.Time { return now }))
}

func probe(t *testing.T, since string) (Result, http.Header) {
	t.Helper()
	req := http.Header{}
	if since != "" {
		req.Set("If-Modified-Since", since)
	}
	resp := http.Header{}
	return newTestProber().Probe(req, resp), resp
}

func TestProbeFirstVisit(t *testing.T) {
	res, headers := probe(t, "")

	assert.Equal(t, Result{Status: http.StatusOK, Body: BodyNew}, res)
	assert.Equal(t, "Sun, 10 Mar 2024 00:00:00 GMT", headers.Get("Last-Modified"))
	assert.Equal(t, "no-cache", headers.Get("Cache-Control"))
}

func TestProbeEarlierDay(t *testing.T) {
	for _, since := range []string{
		now.AddDate(0, 0, -2).Format(http.TimeFormat),
		"Sat, 09 Mar 2024 23:59:59 GMT",
		time.Unix(0, 0).UTC().Format(http.TimeFormat),
	} {
		res, headers := probe(t, since)

		assert.Equal(t, Result{Status: http.StatusOK, Body: BodyNew}, res, since)
		assert.Equal(t, "Sun, 10 Mar 2024 00:00:00 GMT", headers.Get("Last-Modified"), since)
		assert.Equal(t, "no-cache", headers.Get("Cache-Control"), since)
	}
}

func TestProbeSeenToday(t *testing.T) {
	since := now.Format(http.TimeFormat)

	res, headers := probe(t, since)

	assert.Equal(t, Result{Status: http.StatusOK, Body: BodySeen}, res)
	assert.Equal(t, since, headers.Get("Last-Modified"))
	// 8h55m54.5s left until midnight, rounded up
	assert.Equal(t, "max-age=32155", headers.Get("Cache-Control"))
}

func TestProbeMidnightIsToday(t *testing.T) {
	res, _ := probe(t, "Sun, 10 Mar 2024 00:00:00 GMT")
	assert.Equal(t, BodySeen, res.Body)
}

func TestProbeRFC3339(t *testing.T) {
	res, _ := probe(t, "2024-03-10T09:00:00+01:00")
	assert.Equal(t, BodySeen, res.Body)
}

func TestProbeBadRequest(t *testing.T) {
	for _, since := range []string{
		"not-a-real-date",
		"invalid-date",
		now.Add(time.Hour).Format(http.TimeFormat),
		now.AddDate(0, 0, 1).Format(http.TimeFormat),
	} {
		res, headers := probe(t, since)

		assert.Equal(t, Result{Status: http.StatusBadRequest, Error: "Bad Request"}, res, since)
		assert.Empty(t, headers, since)
	}
}

func TestHandlerPing(t *testing.T) {
	h := NewHandler(newTestProber(), zap.NewNop())

	rec := httptest.NewRecorder()
	h.Ping(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Body.String())
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")

	req := httptest.NewRequest(http.MethodGet, "/ping?u=example.com/", nil)
	req.Header.Set("If-Modified-Since", rec.Header().Get("Last-Modified"))
	rec = httptest.NewRecorder()
	h.Ping(rec, req)
	assert.Equal(t, "1", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("If-Modified-Since", "garbage")
	rec = httptest.NewRecorder()
	h.Ping(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Bad Request", rec.Body.String())
}
