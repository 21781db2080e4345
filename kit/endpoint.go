// Package kit adapts transport-neutral endpoints to the MCP server and
// carries request metadata through contexts.
package kit

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Endpoint is a transport-neutral handler.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call of the endpoint named name.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"endpoint", name,
				"transport", GetTransport(ctx),
				"request_id", GetRequestID(ctx),
				"duration", time.Since(start).Round(time.Millisecond),
			}
			if err != nil {
				logger.Warn("kit: call failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("kit: call", attrs...)
			}
			return resp, err
		}
	}
}

// Recover turns a panic in the endpoint into an error carrying the stack.
func Recover() Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (resp any, err error) {
			defer func() {
				if p := recover(); p != nil {
					resp = nil
					err = fmt.Errorf("kit: panic: %v\n%s", p, debug.Stack())
				}
			}()
			return next(ctx, req)
		}
	}
}

type contextKey string

const (
	transportKey contextKey = "kit_transport"
	requestIDKey contextKey = "kit_request_id"
)

// WithTransport records the transport serving the request ("mcp", "http").
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport defaults to "local".
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey).(string); ok {
		return v
	}
	return "local"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}
