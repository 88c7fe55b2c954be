package admission

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/mattjoyce/mcphub/internal/log"
	"github.com/mattjoyce/mcphub/internal/metrics"
)

// Handler is the work admitted by Middleware.
type Handler func(ctx context.Context) (any, error)

// Middleware applies rate limiting and envelope formatting to every call.
type Middleware struct {
	limiter   *RateLimiter
	collector metrics.Collector
	logger    *slog.Logger
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// WithCollector counts rate-limited calls on c.
func WithCollector(c metrics.Collector) MiddlewareOption {
	return func(m *Middleware) { m.collector = c }
}

// NewMiddleware creates a Middleware. A nil limiter disables rate limiting.
func NewMiddleware(limiter *RateLimiter, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		limiter:   limiter,
		collector: metrics.Nop{},
		logger:    log.WithComponent("admission"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limiter returns the rate limiter, or nil.
func (m *Middleware) Limiter() *RateLimiter {
	return m.limiter
}

// Do rate-limits clientKey and runs fn. It never panics and never returns a raw
// error: every outcome, including a panic in fn, becomes an Envelope.
func (m *Middleware) Do(ctx context.Context, clientKey, op string, fn Handler) (env Envelope) {
	requestID := RequestID(ctx)
	logger := m.logger.With("request_id", requestID, "op", op, "client", clientKey)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic in handler", "panic", rec, "stack", string(debug.Stack()))
			env = Failure(requestID, fmt.Errorf("internal error (request %s)", requestID))
		}
	}()

	if m.limiter != nil {
		if err := m.limiter.Allow(clientKey); err != nil {
			m.collector.RateLimited()
			logger.Warn("rate limit exceeded")
			return Failure(requestID, err)
		}
	}

	data, err := fn(ctx)
	if err != nil {
		env = Failure(requestID, err)
		if env.Error.Code == CodeInternal {
			logger.Error("call failed", "error", err)
		} else {
			logger.Debug("call failed", "code", env.Error.Code, "error", err)
		}
		return env
	}
	return Success(requestID, data)
}

// RequestID returns the id set by chi's RequestID middleware, or a fresh UUID.
func RequestID(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}
