package transport

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/mcp-bridge/protocol"
)

// peer is the transport handed to the responder by Bridge.Start.
// All of its state is guarded by the bridge mutex. A peer from an earlier,
// failed Start no longer affects the bridge.
type peer struct {
	bridge *Bridge

	onMessage MessageHandler
	onError   ErrorHandler
	onClose   CloseHandler
}

var _ Transport = (*peer)(nil)

// current reports whether p is still the bridge's peer. Caller holds b.mu.
func (p *peer) current() bool {
	return p.bridge.peer == p
}

// SetOnMessage registers the responder's handler on the bridge.
// Clearing it marks the peer disconnected.
func (p *peer) SetOnMessage(h MessageHandler) {
	b := p.bridge
	b.mu.Lock()
	defer b.mu.Unlock()
	p.onMessage = h
	if !p.current() {
		return
	}
	b.inward = h
	b.peerConnected = h != nil
}

func (p *peer) OnMessage() MessageHandler {
	p.bridge.mu.Lock()
	defer p.bridge.mu.Unlock()
	return p.onMessage
}

func (p *peer) SetOnError(h ErrorHandler) {
	p.bridge.mu.Lock()
	defer p.bridge.mu.Unlock()
	p.onError = h
}

func (p *peer) OnError() ErrorHandler {
	p.bridge.mu.Lock()
	defer p.bridge.mu.Unlock()
	return p.onError
}

func (p *peer) SetOnClose(h CloseHandler) {
	p.bridge.mu.Lock()
	defer p.bridge.mu.Unlock()
	p.onClose = h
}

func (p *peer) OnClose() CloseHandler {
	p.bridge.mu.Lock()
	defer p.bridge.mu.Unlock()
	return p.onClose
}

// Start is a no-op; the bridge's Start decides when the pair is connected.
func (p *peer) Start(ctx context.Context) error {
	return nil
}

// Send delivers msg to the requester's message handler on a later
// scheduler turn. It does not wait: handler failures go to the requester's
// error handler, and a message with no handler to receive it is dropped.
func (p *peer) Send(ctx context.Context, msg *protocol.Message) error {
	b := p.bridge
	b.mu.Lock()
	live := p.current() && !b.closed
	sched := b.outbound
	b.mu.Unlock()

	if !live || sched == nil {
		b.drop(ToRequester)
		return nil
	}

	_, span := b.tel.startSpan(ctx, "mcp.bridge.deliver",
		attribute.String("mcp.bridge.direction", string(ToRequester)),
	)

	sched.Schedule(func() {
		handler := b.OnMessage()
		if handler == nil {
			span.End()
			b.drop(ToRequester)
			return
		}
		err := invoke(handler, msg)
		if err != nil {
			err = &DeliveryError{Direction: ToRequester, Err: err}
			b.reportError(err)
		}
		b.tel.delivered(span, ToRequester, err)
	})
	return nil
}

// Close marks the peer disconnected. It never closes the bridge: only an
// explicit Bridge.Close tears the pair down.
func (p *peer) Close(ctx context.Context) error {
	b := p.bridge
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.current() {
		b.peerConnected = false
	}
	return nil
}
