// Package httpserver wraps an arbitrary http.Handler (a gin.Engine, in
// this server's case) with rate-limiting and circuit-breaking middleware
// chosen from config, the same shape the teacher's pkg/http package uses
// — generalized from a hardcoded http.ServeMux to any http.Handler so
// gin's router can sit behind it unchanged. newRateLimiter keeps all five
// of the teacher's pkg/ratelimiter algorithms reachable, selected by
// config.RateLimiterConfig.Algorithm rather than hardcoding one.
package httpserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/maic-labs/mcs/internal/config"
	"github.com/maic-labs/mcs/pkg/circuitbreaker"
	"github.com/maic-labs/mcs/pkg/httpmiddleware"
	"github.com/maic-labs/mcs/pkg/ratelimiter"
)

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Server wraps the standard http.Server with middleware support, built
// around whatever http.Handler the caller supplies.
type Server struct {
	httpServer *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAddress sets the listen address.
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.httpServer.Addr = addr
	}
}

// NewServer wraps handler with rate limiting and circuit breaking per
// cfg, applying each only if enabled.
func NewServer(cfg *config.Config, handler http.Handler, opts ...ServerOption) (*Server, error) {
	var middlewares []Middleware

	if cfg.RateLimiter.Enabled {
		limiter := newRateLimiter(cfg.RateLimiter)
		log.Printf("enabling %s rate limiter middleware", cfg.RateLimiter.Algorithm)
		middlewares = append(middlewares, httpmiddleware.RateLimit(limiter))
	}

	if cfg.CircuitBreaker.Enabled {
		breaker, err := createCircuitBreaker(cfg.CircuitBreaker)
		if err != nil {
			return nil, fmt.Errorf("httpserver: creating circuit breaker: %w", err)
		}
		log.Println("enabling circuit breaker middleware")
		middlewares = append(middlewares, httpmiddleware.CircuitBreak(breaker))
	}

	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}

	srv := &Server{
		httpServer: &http.Server{Handler: handler},
	}

	for _, opt := range opts {
		opt(srv)
	}

	if srv.httpServer.Addr == "" {
		srv.httpServer.Addr = ":8080"
	}

	return srv, nil
}

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	log.Printf("starting server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// newRateLimiter picks the configured algorithm, defaulting to the token
// bucket when Algorithm is unset so existing configs keep working.
func newRateLimiter(cfg config.RateLimiterConfig) ratelimiter.RateLimiter {
	switch cfg.Algorithm {
	case "leaky_bucket":
		return ratelimiter.NewLeakyBucket(cfg.Rate, cfg.Capacity)
	case "fixed_window_counter":
		return ratelimiter.NewFixedWindowCounter(cfg.Capacity, cfg.Window)
	case "sliding_window_counter":
		return ratelimiter.NewSlidingWindowCounter(cfg.Capacity, cfg.Window, cfg.NumBuckets)
	case "sliding_window_log":
		return ratelimiter.NewSlidingWindowLog(cfg.Capacity, cfg.Window)
	default:
		return ratelimiter.NewTokenBucket(cfg.Rate, cfg.Capacity)
	}
}

func createCircuitBreaker(cfg config.CircuitBreakerConfig) (circuitbreaker.CircuitBreaker, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid circuit breaker timeout duration: %w", err)
	}
	return circuitbreaker.New(cfg.FailureThreshold, cfg.SuccessThreshold, timeout), nil
}
