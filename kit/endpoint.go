// Package kit provides transport-agnostic endpoint plumbing: the Endpoint
// abstraction, middleware chaining, request-scoped context keys shared by
// the HTTP and MCP surfaces, and the MCP tool adapter.
package kit

import (
	"context"
	"log/slog"
	"time"

	"github.com/pearl-OS/PearlOS-sub006/idgen"
)

// Endpoint is the transport-agnostic unit of work. Decoding happens at the
// transport edge; business logic sees only (ctx, request).
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first argument is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// RequestID ensures every request context carries a request ID, generating
// one when the transport did not supply it.
func RequestID(gen idgen.Generator) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if GetRequestID(ctx) == "" {
				ctx = WithRequestID(ctx, gen())
			}
			return next(ctx, req)
		}
	}
}

// Logging logs one line per request with the request ID, transport, and
// duration. Failures log at Warn, successes at Debug.
func Logging(logger *slog.Logger) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			if err != nil {
				logger.Warn("endpoint failed",
					"request_id", GetRequestID(ctx),
					"transport", GetTransport(ctx),
					"duration_ms", time.Since(start).Milliseconds(),
					"error", err)
				return resp, err
			}
			logger.Debug("endpoint ok",
				"request_id", GetRequestID(ctx),
				"transport", GetTransport(ctx),
				"duration_ms", time.Since(start).Milliseconds())
			return resp, err
		}
	}
}
