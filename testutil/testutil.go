// Package testutil provides helpers for testing code that runs over the
// in-process bridge.
//
//	func TestMyServer(t *testing.T) {
//	    srv := server.New(server.Info{Name: "test", Version: "1.0.0"})
//	    srv.Handle("greet", greet)
//
//	    c := testutil.NewInProcessClient(t, srv)
//	    resp, err := c.Call(context.Background(), "greet", map[string]any{"name": "World"})
//	    ...
//	}
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcp-bridge/client"
	"github.com/felixgeelhaar/mcp-bridge/protocol"
	"github.com/felixgeelhaar/mcp-bridge/transport"
)

// DefaultWait bounds the Recorder wait helpers.
const DefaultWait = 2 * time.Second

// EchoResponder answers every request {id, method, params} with
// {id, result: {echoed: params}}. Notifications are ignored.
func EchoResponder() transport.Responder {
	return transport.ResponderFunc(func(ctx context.Context, t transport.Transport) error {
		t.SetOnMessage(func(msg *protocol.Message) error {
			if !msg.IsRequest() {
				return nil
			}
			var params any
			if len(msg.Params) > 0 {
				if err := json.Unmarshal(msg.Params, &params); err != nil {
					return err
				}
			}
			resp, err := protocol.NewResultMessage(msg.ID, map[string]any{"echoed": params})
			if err != nil {
				return err
			}
			return t.Send(ctx, resp)
		})
		return nil
	})
}

// Recorder collects what a transport delivers to its handlers.
type Recorder struct {
	mu       sync.Mutex
	cond     *sync.Cond
	messages []*protocol.Message
	errors   []error
	closes   int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	r := &Recorder{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Attach registers the recorder's handlers on t.
func (r *Recorder) Attach(t transport.Transport) {
	t.SetOnMessage(r.HandleMessage)
	t.SetOnError(r.HandleError)
	t.SetOnClose(r.HandleClose)
}

// HandleMessage records msg.
func (r *Recorder) HandleMessage(msg *protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	r.cond.Broadcast()
	return nil
}

// HandleError records err.
func (r *Recorder) HandleError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
	r.cond.Broadcast()
}

// HandleClose counts a close notification.
func (r *Recorder) HandleClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	r.cond.Broadcast()
}

// Messages returns the messages recorded so far.
func (r *Recorder) Messages() []*protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*protocol.Message(nil), r.messages...)
}

// Errors returns the errors recorded so far.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

// Closes returns how many close notifications were recorded.
func (r *Recorder) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}

// WaitMessages waits until at least n messages were recorded and returns them.
func (r *Recorder) WaitMessages(t testing.TB, n int) []*protocol.Message {
	t.Helper()
	if !r.wait(func() bool { return len(r.messages) >= n }) {
		t.Fatalf("timed out waiting for %d messages, got %d", n, len(r.Messages()))
	}
	return r.Messages()
}

// WaitErrors waits until at least n errors were recorded and returns them.
func (r *Recorder) WaitErrors(t testing.TB, n int) []error {
	t.Helper()
	if !r.wait(func() bool { return len(r.errors) >= n }) {
		t.Fatalf("timed out waiting for %d errors, got %d", n, len(r.Errors()))
	}
	return r.Errors()
}

// WaitClosed waits for a close notification.
func (r *Recorder) WaitClosed(t testing.TB) {
	t.Helper()
	if !r.wait(func() bool { return r.closes > 0 }) {
		t.Fatal("timed out waiting for close")
	}
}

// wait blocks until cond holds or DefaultWait passes. cond runs with r.mu held.
func (r *Recorder) wait(cond func() bool) bool {
	timer := time.AfterFunc(DefaultWait, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.cond.Broadcast()
	})
	defer timer.Stop()

	deadline := time.Now().Add(DefaultWait)
	r.mu.Lock()
	defer r.mu.Unlock()
	for !cond() {
		if !time.Now().Before(deadline) {
			return false
		}
		r.cond.Wait()
	}
	return true
}

// NewInProcessClient connects a client to responder through a bridge, runs
// the initialize handshake and closes the client when the test ends.
func NewInProcessClient(t testing.TB, responder transport.Responder, opts ...client.Option) *client.Client {
	t.Helper()

	bridge, err := transport.NewBridge(responder)
	if err != nil {
		t.Fatalf("failed to create bridge: %v", err)
	}

	c := client.New(bridge, opts...)
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("failed to start client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	if _, err := c.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	return c
}
