package transport

import (
	"errors"
	"fmt"
)

// Bridge errors.
var (
	// ErrInvalidArgument is returned when a bridge is built without a responder.
	ErrInvalidArgument = errors.New("transport: invalid argument")
	// ErrAlreadyStarted is returned by Start on a started bridge.
	ErrAlreadyStarted = errors.New("transport: already started")
	// ErrClosed is returned by Start on a bridge that has been closed.
	ErrClosed = errors.New("transport: closed")
	// ErrStartFailure marks errors raised by the responder while connecting.
	ErrStartFailure = errors.New("transport: start failed")
	// ErrNotStarted is returned by Send before Start or after Close.
	ErrNotStarted = errors.New("transport: not started")
	// ErrPeerUnavailable is returned by Send when the responder has no handler.
	ErrPeerUnavailable = errors.New("transport: peer unavailable")
	// ErrDeliveryFailure marks errors raised by a message handler.
	ErrDeliveryFailure = errors.New("transport: delivery failed")
)

// Direction identifies which way a message travels through a bridge.
type Direction string

// Delivery directions.
const (
	ToResponder Direction = "requester_to_responder"
	ToRequester Direction = "responder_to_requester"
)

// StartError wraps the error returned by a responder's Connect.
type StartError struct {
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("transport: start failed: %v", e.Err)
}

// Unwrap exposes both ErrStartFailure and the cause to errors.Is.
func (e *StartError) Unwrap() []error {
	return []error{ErrStartFailure, e.Err}
}

// DeliveryError wraps an error raised by a handler during a deferred delivery.
type DeliveryError struct {
	Direction Direction
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("transport: delivery %s failed: %v", e.Direction, e.Err)
}

// Unwrap exposes both ErrDeliveryFailure and the cause to errors.Is.
func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDeliveryFailure, e.Err}
}

// panicError converts a recovered panic value into an error.
func panicError(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", v)
}
