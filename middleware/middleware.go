package middleware

import "time"

// DefaultStack returns the stack installed by the in-process server when no
// middleware is configured: request IDs, panic recovery and logging.
// RequestID runs first so recovered panics carry the request id.
func DefaultStack(logger Logger) []Middleware {
	return []Middleware{
		RequestID(),
		RecoverWithLogger(logger),
		Logging(logger),
	}
}

// DefaultStackWithTimeout returns the default stack with a per-request deadline.
func DefaultStackWithTimeout(logger Logger, timeout time.Duration) []Middleware {
	return []Middleware{
		RequestID(),
		RecoverWithLogger(logger),
		Timeout(timeout),
		Logging(logger),
	}
}
