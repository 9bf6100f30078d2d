package server

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientLimitersEvictIdleClients(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	l := newClientLimiters(1, 1)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("192.0.2.1"))
	assert.False(t, l.allow("192.0.2.1"))
	assert.True(t, l.allow("192.0.2.2"))
	assert.Equal(t, 2, len(l.clients))

	now = now.Add(limiterIdleTTL)
	assert.True(t, l.allow("192.0.2.3"))
	assert.Equal(t, 1, len(l.clients))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.RemoteAddr = "2001:db8::1"
	assert.Equal(t, "2001:db8::1", clientIP(req))
}
