package ops

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/triggerflow/infrastructure/config"
	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/infrastructure/metrics"
	"github.com/R3E-Network/triggerflow/internal/ratelimit"
)

func testServer(t *testing.T, opsLimit int) (*Server, *miniredis.Miniredis) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectPing().WillReturnError(nil)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := logging.New("test", "error", "text")
	logger.SetOutput(io.Discard)
	m := metrics.NewWithRegistry("test", prometheus.NewRegistry())

	limiter := ratelimit.New(client, 3600, true, logger, m)
	server := New(config.OpsConfig{Host: "127.0.0.1", Port: 0}, db, client, limiter, opsLimit, logger)
	return server, mr
}

func TestHealthz(t *testing.T) {
	server, _ := testServer(t, 100)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/healthz", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	server.http.Handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestRateLimitHeadersPresent(t *testing.T) {
	server, _ := testServer(t, 100)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/healthz", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	server.http.Handler.ServeHTTP(w, r)

	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "3600", w.Header().Get("X-RateLimit-Window"))
	assert.Empty(t, w.Header().Get("X-RateLimit-Status"))
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	server, _ := testServer(t, 2)

	var lastCode int
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/healthz", nil)
		r.RemoteAddr = "203.0.113.7:1000"
		server.http.Handler.ServeHTTP(w, r)
		lastCode = w.Code

		if i == 2 {
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
			assert.Contains(t, w.Body.String(), "rate limit exceeded")
		}
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}

func TestRateLimitDegradedHeaderWhenRedisDown(t *testing.T) {
	server, mr := testServer(t, 100)
	mr.Close()

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/healthz", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	server.http.Handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "degraded", w.Header().Get("X-RateLimit-Status"))
}

func TestReadyzChecksBackingStores(t *testing.T) {
	server, _ := testServer(t, 100)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/readyz", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	server.http.Handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ready")
}

func TestReadyzFailsWhenRedisDown(t *testing.T) {
	server, mr := testServer(t, 100)
	mr.Close()

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/readyz", nil)
	r.RemoteAddr = "203.0.113.7:1000"
	server.http.Handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
