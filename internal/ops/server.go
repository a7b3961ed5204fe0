// Package ops exposes the operational HTTP surface: liveness, readiness and
// Prometheus metrics, rate limited per caller IP.
package ops

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/triggerflow/infrastructure/config"
	"github.com/R3E-Network/triggerflow/infrastructure/errors"
	"github.com/R3E-Network/triggerflow/infrastructure/httputil"
	"github.com/R3E-Network/triggerflow/infrastructure/logging"
	"github.com/R3E-Network/triggerflow/internal/ratelimit"
)

// Server is the operational HTTP server.
type Server struct {
	cfg     config.OpsConfig
	db      *sql.DB
	redis   *redis.Client
	limiter *ratelimit.Limiter
	limit   int64
	logger  *logging.Logger
	http    *http.Server
}

// New assembles the ops server.
func New(cfg config.OpsConfig, db *sql.DB, redisClient *redis.Client, limiter *ratelimit.Limiter, opsLimit int, logger *logging.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		db:      db,
		redis:   redisClient,
		limiter: limiter,
		limit:   int64(opsLimit),
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(s.rateLimit)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithFields(map[string]interface{}{
		"addr": s.http.Addr,
	}).Info("Ops server listening")

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// rateLimit applies the per-IP sliding window and writes the standard
// X-RateLimit headers on every response.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httputil.ClientIP(r, s.cfg.TrustedProxies)
		if ip == "" {
			ip = "unknown"
		}

		result, err := s.limiter.Check(r.Context(), ratelimit.IPScope(ip), s.limit, 1)
		if err != nil {
			// Fail-closed limiter with Redis down.
			httputil.WriteError(w, err)
			return
		}

		window := int(s.limiter.WindowSeconds())
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))
		w.Header().Set("X-RateLimit-Window", strconv.Itoa(window))
		if result.Degraded {
			w.Header().Set("X-RateLimit-Status", "degraded")
		}

		if !result.Allowed {
			s.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
				"ip":   ip,
				"path": r.URL.Path,
			})
			w.Header().Set("Retry-After", strconv.FormatInt(result.RetryAfter, 10))
			serviceErr := errors.RateLimitExceeded(int(result.Limit), window).
				WithDetails("retry_after", int(result.RetryAfter))
			httputil.WriteServiceError(w, serviceErr)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz verifies both backing stores are reachable.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		httputil.WriteServiceError(w, errors.Unavailable(errors.ErrCodeDatabaseError, "database unreachable", err))
		return
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		httputil.WriteServiceError(w, errors.Unavailable(errors.ErrCodeCacheError, "cache unreachable", err))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
