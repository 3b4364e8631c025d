package transport

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/mcp-bridge/middleware"
)

// BridgeOption configures a Bridge.
type BridgeOption func(*bridgeConfig)

type bridgeConfig struct {
	name           string
	scheduler      Scheduler
	logger         middleware.Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

func defaultBridgeConfig() *bridgeConfig {
	return &bridgeConfig{
		name:           "inprocess",
		logger:         middleware.NopLogger{},
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
}

// WithName sets the bridge name reported in logs and telemetry.
func WithName(name string) BridgeOption {
	return func(c *bridgeConfig) {
		c.name = name
	}
}

// WithScheduler sets the queue used for deferred deliveries in both
// directions. By default each bridge runs one Loop per direction and stops
// them on Close. With a single shared scheduler, a handler that waits on
// Send of the same bridge blocks that scheduler.
func WithScheduler(s Scheduler) BridgeOption {
	return func(c *bridgeConfig) {
		c.scheduler = s
	}
}

// WithLogger sets the logger for bridge diagnostics.
func WithLogger(l middleware.Logger) BridgeOption {
	return func(c *bridgeConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracerProvider sets a custom tracer provider.
func WithTracerProvider(tp trace.TracerProvider) BridgeOption {
	return func(c *bridgeConfig) {
		c.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom meter provider.
func WithMeterProvider(mp metric.MeterProvider) BridgeOption {
	return func(c *bridgeConfig) {
		c.meterProvider = mp
	}
}
