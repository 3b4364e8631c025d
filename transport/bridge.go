package transport

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/felixgeelhaar/mcp-bridge/middleware"
	"github.com/felixgeelhaar/mcp-bridge/protocol"
)

// Bridge connects a requester and a responder inside one process.
//
// The Bridge itself is the requester's transport. On Start it hands the
// responder a peer transport; messages sent on one side are delivered to
// the handler registered on the other side on a later turn of the
// scheduler, never on the sender's stack.
//
// Each direction has its own queue, so the requester's handlers may call
// Send on the same bridge. The responder's handler must not wait on Send
// of the bridge that delivered to it.
type Bridge struct {
	responder Responder
	cfg       *bridgeConfig
	tel       *telemetry

	mu       sync.Mutex
	inbound  Scheduler // deliveries to the responder
	outbound Scheduler // deliveries to the requester, close handler
	inLoop   *Loop
	outLoop  *Loop
	starting bool
	started       bool
	closed        bool
	peerConnected bool
	peer          *peer

	onMessage MessageHandler
	onError   ErrorHandler
	onClose   CloseHandler
	inward    MessageHandler
}

var _ Transport = (*Bridge)(nil)

// NewBridge creates a bridge bound to responder.
func NewBridge(responder Responder, opts ...BridgeOption) (*Bridge, error) {
	if responder == nil {
		return nil, ErrInvalidArgument
	}
	if f, ok := responder.(ResponderFunc); ok && f == nil {
		return nil, ErrInvalidArgument
	}

	cfg := defaultBridgeConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &Bridge{
		responder: responder,
		cfg:       cfg,
		tel:       newTelemetry(cfg),
		inbound:   cfg.scheduler,
		outbound:  cfg.scheduler,
	}, nil
}

// SetOnMessage sets the handler for messages sent by the responder.
func (b *Bridge) SetOnMessage(h MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onMessage = h
}

// OnMessage returns the requester message handler.
func (b *Bridge) OnMessage() MessageHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onMessage
}

// SetOnError sets the requester error handler.
func (b *Bridge) SetOnError(h ErrorHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = h
}

// OnError returns the requester error handler.
func (b *Bridge) OnError() ErrorHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onError
}

// SetOnClose sets the requester close handler.
func (b *Bridge) SetOnClose(h CloseHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClose = h
}

// OnClose returns the requester close handler.
func (b *Bridge) OnClose() CloseHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onClose
}

// Started reports whether Start has completed and Close has not been called.
func (b *Bridge) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// PeerConnected reports whether the responder has a message handler registered.
func (b *Bridge) PeerConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peerConnected
}

// Start connects the responder by calling its Connect with a fresh peer
// transport. A Connect failure is reported to the error handler and
// returned as a *StartError; the bridge stays unstarted.
//
// If the responder has not registered a message handler when Connect
// returns, Start waits one scheduler turn and checks again. A responder
// that registers later still works, but until then Send fails with
// ErrPeerUnavailable.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started || b.starting {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.starting = true
	if b.inbound == nil {
		b.inLoop = NewLoop(WithPanicHandler(b.taskPanicked))
		b.outLoop = NewLoop(WithPanicHandler(b.taskPanicked))
		b.inbound, b.outbound = b.inLoop, b.outLoop
	}
	p := &peer{bridge: b}
	b.peer = p
	b.mu.Unlock()

	ctx, span := b.tel.startSpan(ctx, "mcp.bridge.start")
	defer span.End()

	if err := b.connect(ctx, p); err != nil {
		startErr := &StartError{Err: err}
		span.RecordError(startErr)
		span.SetStatus(codes.Error, startErr.Error())

		b.mu.Lock()
		b.starting = false
		b.peer = nil
		b.inward = nil
		b.peerConnected = false
		loops := b.releaseLoops()
		onError := b.onError
		b.mu.Unlock()
		stopLoops(loops)

		b.cfg.logger.Error("responder connect failed",
			middleware.F("bridge", b.cfg.name),
			middleware.F("error", err.Error()),
		)
		if onError != nil {
			onError(startErr)
		}
		return startErr
	}

	if b.awaitingInward() {
		b.yield(ctx)
		if b.awaitingInward() {
			b.cfg.logger.Warn("inward handler not registered after start",
				middleware.F("bridge", b.cfg.name),
			)
		}
	}

	b.mu.Lock()
	b.starting = false
	if b.closed {
		// Close ran while the responder was connecting.
		loops := b.releaseLoops()
		b.mu.Unlock()
		stopLoops(loops)
		span.SetStatus(codes.Error, ErrClosed.Error())
		return ErrClosed
	}
	b.started = true
	b.mu.Unlock()

	span.SetStatus(codes.Ok, "")
	b.cfg.logger.Debug("bridge started", middleware.F("bridge", b.cfg.name))
	return nil
}

// Send delivers msg to the responder's message handler on a later
// scheduler turn and waits for the handler to return. A handler failure is
// reported to the error handler and returned as a *DeliveryError.
//
// If ctx ends first, Send returns ctx.Err(); the delivery still happens.
func (b *Bridge) Send(ctx context.Context, msg *protocol.Message) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return ErrNotStarted
	}
	handler := b.inward
	if handler == nil || !b.peerConnected {
		b.mu.Unlock()
		return ErrPeerUnavailable
	}
	sched := b.inbound
	var stopped <-chan struct{}
	if b.inLoop != nil {
		stopped = b.inLoop.Done()
	}
	b.mu.Unlock()

	_, span := b.tel.startSpan(ctx, "mcp.bridge.deliver",
		attribute.String("mcp.bridge.direction", string(ToResponder)),
	)

	done := make(chan error, 1)
	sched.Schedule(func() {
		err := invoke(handler, msg)
		if err != nil {
			err = &DeliveryError{Direction: ToResponder, Err: err}
			b.reportError(err)
		}
		b.tel.delivered(span, ToResponder, err)
		done <- err
	})

	select {
	case err := <-done:
		return err
	case <-stopped:
		// The loop drained without running the delivery: Close won the race.
		select {
		case err := <-done:
			return err
		default:
			span.End()
			return ErrNotStarted
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the bridge, clears every handler and invokes the close
// handler on a later scheduler turn. Deliveries already scheduled still
// run. The responder is not closed; its owner manages it.
//
// Close on a bridge that is not started is a no-op. A Close that runs
// while Start is connecting the responder makes that Start return
// ErrClosed. A closed bridge cannot be restarted.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed || (!b.started && !b.starting) {
		b.mu.Unlock()
		return nil
	}
	starting := b.starting
	b.started = false
	b.closed = true
	b.peerConnected = false
	b.peer = nil

	onClose := b.onClose
	b.onMessage = nil
	b.onError = nil
	b.onClose = nil
	b.inward = nil

	outbound := b.outbound
	var loops []*Loop
	if !starting {
		// An in-flight Start still needs its loops; it stops them itself.
		loops = b.releaseLoops()
	}
	b.mu.Unlock()

	if onClose != nil {
		outbound.Schedule(onClose)
	}
	stopLoops(loops)

	b.cfg.logger.Debug("bridge closed", middleware.F("bridge", b.cfg.name))
	return nil
}

func (b *Bridge) connect(ctx context.Context, p *peer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return b.responder.Connect(ctx, p)
}

// awaitingInward reports whether Start is still waiting for the responder
// to register its message handler.
func (b *Bridge) awaitingInward() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inward == nil && !b.closed
}

// releaseLoops detaches the loops the bridge owns and returns them for
// stopping. Caller holds b.mu.
func (b *Bridge) releaseLoops() []*Loop {
	if b.inLoop == nil {
		return nil
	}
	loops := []*Loop{b.inLoop, b.outLoop}
	b.inLoop, b.outLoop = nil, nil
	b.inbound, b.outbound = nil, nil
	return loops
}

func stopLoops(loops []*Loop) {
	for _, l := range loops {
		l.Stop()
	}
}

// yield waits for one turn of the inbound scheduler.
func (b *Bridge) yield(ctx context.Context) {
	b.mu.Lock()
	sched := b.inbound
	b.mu.Unlock()

	turned := make(chan struct{})
	sched.Schedule(func() { close(turned) })
	select {
	case <-turned:
	case <-ctx.Done():
	}
}

// reportError hands err to the requester error handler registered at the
// time of the failure.
func (b *Bridge) reportError(err error) {
	b.cfg.logger.Error("delivery failed",
		middleware.F("bridge", b.cfg.name),
		middleware.F("error", err.Error()),
	)

	b.mu.Lock()
	onError := b.onError
	b.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

func (b *Bridge) taskPanicked(v any) {
	b.cfg.logger.Error("scheduled task panicked",
		middleware.F("bridge", b.cfg.name),
		middleware.F("panic", fmt.Sprint(v)),
	)
}

func (b *Bridge) drop(dir Direction) {
	b.tel.drop(dir)
	b.cfg.logger.Warn("message dropped: no outward handler",
		middleware.F("bridge", b.cfg.name),
		middleware.F("direction", string(dir)),
	)
}

// invoke calls h, turning a panic into an error.
func invoke(h MessageHandler, msg *protocol.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return h(msg)
}
