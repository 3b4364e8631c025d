package middleware

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/mcp-bridge/protocol"
)

// PanicHandler is called when a panic is recovered.
type PanicHandler func(ctx context.Context, req *protocol.Request, panicVal any) (*protocol.Response, error)

// Recover returns middleware that converts handler panics into internal
// errors carrying the method and request id as error data.
func Recover() Middleware {
	return RecoverWithHandler(panicError)
}

// RecoverWithLogger is Recover that also logs each panic at error level.
func RecoverWithLogger(logger Logger) Middleware {
	return RecoverWithHandler(func(ctx context.Context, req *protocol.Request, panicVal any) (*protocol.Response, error) {
		fields := []Field{F("method", req.Method), F("panic", fmt.Sprint(panicVal))}
		if id := RequestIDFromContext(ctx); id != "" {
			fields = append(fields, F("request_id", id))
		}
		logger.Error("handler panicked", fields...)
		return panicError(ctx, req, panicVal)
	})
}

// RecoverWithHandler returns middleware that calls handler with the recovered value.
func RecoverWithHandler(handler PanicHandler) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) (resp *protocol.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp, err = handler(ctx, req, r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func panicError(ctx context.Context, req *protocol.Request, panicVal any) (*protocol.Response, error) {
	data := map[string]any{"method": req.Method}
	if id := RequestIDFromContext(ctx); id != "" {
		data["requestId"] = id
	}
	return nil, protocol.NewInternalError(fmt.Sprintf("panic in %s: %v", req.Method, panicVal)).WithData(data)
}
