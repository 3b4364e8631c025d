// Package transport provides the transport capability contract and an
// in-process implementation of it.
//
// A Transport exposes three handler slots (message, error, close) and a
// Start/Send/Close lifecycle. Requesters and responders only depend on
// this contract, so the same client and server code runs over any
// implementation.
//
// # Bridge
//
// Bridge connects a requester and a responder inside one process. The
// requester owns the Bridge; the responder receives a peer Transport
// through Responder.Connect during Start:
//
//	b, err := transport.NewBridge(srv,
//	    transport.WithLogger(logger),
//	)
//	b.SetOnMessage(func(msg *protocol.Message) error {
//	    // responses and notifications from the responder
//	    return nil
//	})
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	err = b.Send(ctx, msg)
//
// Deliveries are deferred onto a Scheduler. By default the bridge runs one
// Loop per direction, each a single goroutine draining a FIFO queue, so
// messages sent in one direction arrive in order and handlers never run on
// the caller's stack. No order is kept between the two directions.
//
// The requester's handlers may call Send on the same Bridge, for example
// to follow up on a notification. The responder's handler must not block on
// Send or Start of the Bridge that delivered to it.
//
// # Errors
//
// Failures are reported with sentinel errors (ErrNotStarted,
// ErrPeerUnavailable, ...) or with *StartError and *DeliveryError, which
// match both their sentinel and the underlying cause under errors.Is.
package transport
