// Package middleware provides middleware utilities for MCP request handling.
package middleware

import (
	"context"

	"github.com/felixgeelhaar/mcp-bridge/protocol"
)

// HandlerFunc is the signature for request handlers.
type HandlerFunc func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

// Middleware wraps a handler with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middleware into a single middleware.
// Chain(m1, m2, m3)(h) runs m1, then m2, then m3, then h.
// Nil entries are skipped.
func Chain(middlewares ...Middleware) Middleware {
	return func(final HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			if middlewares[i] == nil {
				continue
			}
			final = middlewares[i](final)
		}
		return final
	}
}

// Skip applies m to every request except those for the given methods,
// which go straight to the next handler. Lifecycle methods such as
// initialize and ping are the usual candidates.
func Skip(m Middleware, methods ...string) Middleware {
	skipped := make(map[string]struct{}, len(methods))
	for _, method := range methods {
		skipped[method] = struct{}{}
	}
	return func(next HandlerFunc) HandlerFunc {
		wrapped := m(next)
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			if _, ok := skipped[req.Method]; ok {
				return next(ctx, req)
			}
			return wrapped(ctx, req)
		}
	}
}
