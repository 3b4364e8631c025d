// Package transport provides the transport contract and the in-process bridge.
package transport

import (
	"context"

	"github.com/felixgeelhaar/mcp-bridge/protocol"
)

// MessageHandler receives inbound messages. A non-nil error (or a panic)
// reports a delivery failure.
type MessageHandler func(msg *protocol.Message) error

// ErrorHandler receives delivery and setup failures.
type ErrorHandler func(err error)

// CloseHandler is invoked once when the transport is torn down.
type CloseHandler func()

// Transport is a bidirectional message channel.
//
// Handler setters only store the handler; passing nil clears it.
type Transport interface {
	SetOnMessage(h MessageHandler)
	OnMessage() MessageHandler

	SetOnError(h ErrorHandler)
	OnError() ErrorHandler

	SetOnClose(h CloseHandler)
	OnClose() CloseHandler

	// Start connects the transport. Calling Start twice without an
	// intervening Close is an error.
	Start(ctx context.Context) error

	// Send delivers msg to the other side.
	Send(ctx context.Context, msg *protocol.Message) error

	// Close tears the transport down. Closing a closed transport is a no-op.
	Close(ctx context.Context) error
}

// Responder is the endpoint that answers requests. Connect is called with
// the transport it should use; it typically registers a message handler.
type Responder interface {
	Connect(ctx context.Context, t Transport) error
}

// ResponderFunc is an adapter to allow ordinary functions as responders.
type ResponderFunc func(ctx context.Context, t Transport) error

// Connect calls f(ctx, t).
func (f ResponderFunc) Connect(ctx context.Context, t Transport) error {
	return f(ctx, t)
}

// NotificationSender can send JSON-RPC notifications to the other side.
type NotificationSender interface {
	SendNotification(ctx context.Context, method string, params any) error
}

// notificationSenderKey is the context key for the notification sender.
type notificationSenderKey struct{}

// ContextWithNotificationSender returns a context with the notification sender attached.
func ContextWithNotificationSender(ctx context.Context, sender NotificationSender) context.Context {
	return context.WithValue(ctx, notificationSenderKey{}, sender)
}

// NotificationSenderFromContext returns the notification sender from context, or nil if none.
func NotificationSenderFromContext(ctx context.Context) NotificationSender {
	sender, _ := ctx.Value(notificationSenderKey{}).(NotificationSender)
	return sender
}
