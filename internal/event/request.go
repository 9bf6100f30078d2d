package event

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Request is the only input shape the normalizer accepts. Hosts adapt their own
// request types to it.
type Request interface {
	Body(ctx context.Context) ([]byte, error)
	// Header returns "" for absent headers. Lookup is case-insensitive.
	Header(name string) string
}

type httpRequest struct {
	r        *http.Request
	maxBytes int64
}

// NewHTTPRequest adapts a net/http request. A positive maxBytes caps the body size.
func NewHTTPRequest(r *http.Request, maxBytes int64) Request {
	return &httpRequest{r: r, maxBytes: maxBytes}
}

func (h *httpRequest) Body(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.r.Body == nil {
		return nil, nil
	}
	if h.maxBytes <= 0 {
		return io.ReadAll(h.r.Body)
	}

	body, err := io.ReadAll(io.LimitReader(h.r.Body, h.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > h.maxBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

func (h *httpRequest) Header(name string) string {
	return h.r.Header.Get(name)
}

type payloadRequest struct {
	body    []byte
	headers http.Header
}

// NewPayloadRequest wraps an already materialized body and its headers.
func NewPayloadRequest(body []byte, headers map[string]string) Request {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return &payloadRequest{body: body, headers: h}
}

func (p *payloadRequest) Body(ctx context.Context) ([]byte, error) {
	return p.body, ctx.Err()
}

func (p *payloadRequest) Header(name string) string {
	return p.headers.Get(name)
}
