// Package httpmiddleware holds net/http middleware shared by the HTTP services.
package httpmiddleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ragdesk/backend/go/pkg/circuitbreaker"
	"ragdesk/backend/go/pkg/logger"
	"ragdesk/backend/go/pkg/ratelimiter"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one listed runs first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RateLimit rejects requests with 429 while limiter refuses them.
func RateLimit(limiter ratelimiter.RateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// CircuitBreak runs the handler through breaker. Responses with a status of
// 500 or above count as failures; while the circuit is open requests get 503.
func CircuitBreak(breaker *circuitbreaker.Breaker) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			err := breaker.Execute(r.Context(), func(ctx context.Context) error {
				next.ServeHTTP(rw, r.WithContext(ctx))
				if rw.status >= http.StatusInternalServerError {
					return fmt.Errorf("server error: status code %d", rw.status)
				}
				return nil
			})
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				writeError(w, http.StatusServiceUnavailable, "service unavailable: circuit breaker is open")
			}
			// any other error was already written by the handler
		})
	}
}

// AccessLog logs one line per request.
func AccessLog(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			entry := log.WithFields(map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rw.status,
				"latency_ms": time.Since(start).Milliseconds(),
			})
			if rw.status >= http.StatusInternalServerError {
				entry.Warn("request failed")
				return
			}
			entry.Debug("request served")
		})
	}
}
