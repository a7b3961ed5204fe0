package httputil

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPDirectConnection(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:4431"
	r.Header.Set("X-Forwarded-For", "8.8.8.8")

	// Public peer: spoofable forwarded headers are ignored.
	assert.Equal(t, "203.0.113.7", ClientIP(r, nil))
}

func TestClientIPBehindPrivateProxy(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "203.0.113.7", ClientIP(r, nil))
}

func TestClientIPXRealIPFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "127.0.0.1:9999"
	r.Header.Set("X-Real-IP", "198.51.100.4")

	assert.Equal(t, "198.51.100.4", ClientIP(r, nil))
}

func TestClientIPTrustedProxyList(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.50:443"
	r.Header.Set("X-Forwarded-For", "198.51.100.4")

	// Not trusted: RemoteAddr wins.
	assert.Equal(t, "203.0.113.50", ClientIP(r, nil))
	// Trusted: forwarded header wins.
	assert.Equal(t, "198.51.100.4", ClientIP(r, []string{"203.0.113.50"}))
}

func TestClientIPNilRequest(t *testing.T) {
	assert.Equal(t, "", ClientIP(nil, nil))
}
