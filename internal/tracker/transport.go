package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Wuchinator/litetics/pkg/httpretry"
)

var ErrUnexpectedStatus = errors.New("unexpected status")

// Transport carries beacons and ping probes to the collector.
type Transport interface {
	// Ping reports whether the probe answered "0", i.e. the URL was not seen today.
	Ping(ctx context.Context, pingURL string) (bool, error)
	Send(ctx context.Context, hit any) error
}

type cacheEntry struct {
	lastModified string
	body         string
	expires      time.Time
}

// HTTPTransport posts beacons as text/plain JSON and keeps a per-URL cache of ping
// responses that honors Last-Modified and max-age the way a browser HTTP cache does.
type HTTPTransport struct {
	trackURL string
	doer     httpretry.Doer
	now      func() time.Time
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewHTTPTransport(trackURL string, doer httpretry.Doer, now func() time.Time, logger *zap.Logger) *HTTPTransport {
	return &HTTPTransport{
		trackURL: trackURL,
		doer:     doer,
		now:      now,
		logger:   logger,
		cache:    make(map[string]cacheEntry),
	}
}

func (t *HTTPTransport) Ping(ctx context.Context, pingURL string) (bool, error) {
	t.mu.Lock()
	entry, cached := t.cache[pingURL]
	t.mu.Unlock()

	if cached && t.now().Before(entry.expires) {
		return entry.body == "0", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pingURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to build ping request: %w", err)
	}
	if cached && entry.lastModified != "" {
		req.Header.Set("If-Modified-Since", entry.lastModified)
	}

	resp, err := t.doer.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to ping: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return false, fmt.Errorf("failed to read ping response: %w", err)
	}
	body := string(raw)

	switch resp.StatusCode {
	case http.StatusNotModified:
		if !cached {
			return false, fmt.Errorf("%w: 304 without a cached response", ErrUnexpectedStatus)
		}
		body = entry.body
		t.store(pingURL, entry.lastModified, body, resp.Header)
	case http.StatusOK:
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			t.store(pingURL, lm, body, resp.Header)
		}
	default:
		t.logger.Warn("ping rejected",
			zap.String("url", pingURL),
			zap.Int("status", resp.StatusCode))
	}
	return body == "0", nil
}

func (t *HTTPTransport) store(pingURL, lastModified, body string, header http.Header) {
	entry := cacheEntry{lastModified: lastModified, body: body}
	if maxAge, ok := maxAge(header.Get("Cache-Control")); ok {
		entry.expires = t.now().Add(maxAge)
	}

	t.mu.Lock()
	t.cache[pingURL] = entry
	t.mu.Unlock()
}

// maxAge reads the max-age directive. no-cache responses are stored but always revalidated.
func maxAge(cacheControl string) (time.Duration, bool) {
	var age time.Duration
	found := false
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))
		if directive == "no-cache" || directive == "no-store" {
			return 0, false
		}
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			seconds, err := strconv.Atoi(v)
			if err != nil || seconds < 0 {
				continue
			}
			age = time.Duration(seconds) * time.Second
			found = true
		}
	}
	return age, found
}

func (t *HTTPTransport) Send(ctx context.Context, hit any) error {
	body, err := json.Marshal(hit)
	if err != nil {
		return fmt.Errorf("failed to marshal hit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.trackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build hit request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")

	resp, err := t.doer.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send hit: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}
