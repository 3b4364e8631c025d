// Package middleware provides the request handler chain used by the
// in-process server.
//
// Middleware wraps the next handler in the chain, allowing pre- and
// post-processing of requests:
//
//	chain := middleware.Chain(
//	    middleware.Recover(),
//	    middleware.RequestID(),
//	    middleware.Logging(logger),
//	)
//	handler := chain(baseHandler)
//
// # Available Middleware
//
//   - Recover: converts panics into internal errors
//   - RequestID: injects a UUID request ID into the context
//   - Timeout: enforces request deadlines
//   - Logging: logs request method, duration and failures
//   - RateLimit, RateLimitByMethod: token bucket limiting backed by fortify
//   - OTel: OpenTelemetry spans and request metrics
//
// # Logging
//
// Logger is the structured logging interface shared by the whole module;
// the transport package reports bridge diagnostics through it. NopLogger
// discards everything and NewZapLogger adapts a *zap.Logger.
package middleware
