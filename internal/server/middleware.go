package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/jackzampolin/ocrpdf/internal/config"
	"github.com/jackzampolin/ocrpdf/internal/svcctx"
)

// guard holds the limits applied to pipeline endpoints.
type guard struct {
	sem     *semaphore.Weighted // nil = unbounded
	rps     float64             // 0 = unlimited
	burst   int
	timeout time.Duration

	limiters sync.Map // client IP -> *rate.Limiter
}

func newGuard(c config.ServerCfg) *guard {
	g := &guard{
		rps:     c.RateLimitPerSecond,
		burst:   c.RateLimitBurst,
		timeout: c.RequestTimeout,
	}
	if c.MaxConcurrentRequests > 0 {
		g.sem = semaphore.NewWeighted(int64(c.MaxConcurrentRequests))
	}
	if g.burst <= 0 {
		g.burst = 1
	}
	return g
}

func (g *guard) limiter(ip string) *rate.Limiter {
	if v, ok := g.limiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}
	v, _ := g.limiters.LoadOrStore(ip, rate.NewLimiter(rate.Limit(g.rps), g.burst))
	return v.(*rate.Limiter)
}

// retryAfter is the time for one token to refill, in whole seconds.
func (g *guard) retryAfter() string {
	return strconv.Itoa(int(math.Max(1, math.Ceil(1/g.rps))))
}

// resetLimiters drops per-client state so the map does not grow without
// bound.
func (g *guard) resetLimiters() {
	g.limiters.Clear()
}

// requireInit guards endpoints that run the pipeline: the server must be
// initialized, the client within its rate, and a request slot free.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services == nil || s.services.Pipeline == nil {
			writeError(w, http.StatusServiceUnavailable, "server not fully initialized")
			return
		}

		g := s.guard
		if g.rps > 0 && !g.limiter(clientIP(r)).Allow() {
			w.Header().Set("Retry-After", g.retryAfter())
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		if g.sem != nil {
			if !g.sem.TryAcquire(1) {
				writeError(w, http.StatusServiceUnavailable, "service at capacity")
				return
			}
			defer g.sem.Release(1)
		}
		if g.timeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), g.timeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		next(w, r)
	}
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withRequestID propagates or assigns X-Request-ID.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(svcctx.WithRequestID(r.Context(), id)))
	})
}

func withRecovery(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic in handler", "path", r.URL.Path, "panic", err,
					"request_id", svcctx.RequestIDFrom(r.Context()))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &wrapWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if ww.status >= 500 {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", sanitizeLogString(r.URL.Path),
			"status", ww.status,
			"duration", time.Since(start),
			"request_id", svcctx.RequestIDFrom(r.Context()))
	})
}

type wrapWriter struct {
	http.ResponseWriter
	status int
}

func (w *wrapWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if idx := strings.Index(ip, ","); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return strings.TrimSpace(ip)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return strings.TrimSpace(ip)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func sanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	s = strings.ReplaceAll(s, "\r", "")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: w.Header().Get("X-Request-ID")})
}
