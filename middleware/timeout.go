package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/mcp-bridge/protocol"
)

// Timeout returns middleware that bounds each request to d. A handler that
// fails because its deadline passed yields a CodeRequestTimeout error, so
// the caller gets an error response instead of an internal error.
// A non-positive d disables the timeout.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			resp, err := next(ctx, req)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
				return nil, protocol.NewRequestTimeout("request timed out: " + req.Method).
					WithData(map[string]any{"timeout": d.String()})
			}
			return resp, err
		}
	}
}
