package transport

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcp-bridge/protocol"
)

func TestNewBridge(t *testing.T) {
	t.Run("rejects nil responder", func(t *testing.T) {
		if _, err := NewBridge(nil); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("rejects nil responder func", func(t *testing.T) {
		var f ResponderFunc
		if _, err := NewBridge(f); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})

	t.Run("does not connect", func(t *testing.T) {
		r := &capturingResponder{}
		b, err := NewBridge(r)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.calls != 0 {
			t.Errorf("Connect called %d times", r.calls)
		}
		if b.Started() || b.PeerConnected() {
			t.Error("new bridge should be idle")
		}
	})
}

func TestBridge_Handlers(t *testing.T) {
	b, err := NewBridge(echoResponder())
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	if b.OnMessage() != nil || b.OnError() != nil || b.OnClose() != nil {
		t.Fatal("handlers should start unset")
	}

	var calls []string
	b.SetOnMessage(func(*protocol.Message) error { calls = append(calls, "first"); return nil })
	b.SetOnMessage(func(*protocol.Message) error { calls = append(calls, "second"); return nil })
	b.SetOnError(func(error) {})
	b.SetOnClose(func() {})

	if len(calls) != 0 {
		t.Fatal("setting a handler must not invoke it")
	}
	_ = b.OnMessage()(nil)
	if len(calls) != 1 || calls[0] != "second" {
		t.Errorf("calls = %v, want last assignment to win", calls)
	}
	if b.OnError() == nil || b.OnClose() == nil {
		t.Error("expected handlers to be set")
	}

	b.SetOnMessage(nil)
	if b.OnMessage() != nil {
		t.Error("nil should clear the handler")
	}
}

func TestBridge_Start(t *testing.T) {
	t.Run("connects responder with a peer transport", func(t *testing.T) {
		r := &capturingResponder{handler: func(*protocol.Message) error { return nil }}
		b := startBridge(t, r)

		if r.calls != 1 {
			t.Errorf("Connect called %d times, want 1", r.calls)
		}
		if r.peer() == nil || r.peer() == Transport(b) {
			t.Error("responder should get its own transport")
		}
		if !b.Started() || !b.PeerConnected() {
			t.Error("expected started and connected")
		}
	})

	t.Run("second start fails and keeps wiring", func(t *testing.T) {
		r := &capturingResponder{}
		var delivered atomic.Int32
		r.handler = func(*protocol.Message) error {
			delivered.Add(1)
			return nil
		}
		b := startBridge(t, r)
		firstPeer := r.peer()

		if err := b.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
			t.Fatalf("err = %v, want ErrAlreadyStarted", err)
		}
		if r.calls != 1 || r.peer() != firstPeer {
			t.Error("second start must not reconnect")
		}
		if err := b.Send(context.Background(), newRequest(t, "1", "ping", nil)); err != nil {
			t.Fatalf("Send after failed restart: %v", err)
		}
		if delivered.Load() != 1 {
			t.Errorf("delivered = %d, want 1", delivered.Load())
		}
	})

	t.Run("connect failure is reported and returned", func(t *testing.T) {
		boom := errors.New("boom")
		b, _ := NewBridge(ResponderFunc(func(ctx context.Context, tr Transport) error {
			return boom
		}))

		var reported error
		b.SetOnError(func(err error) { reported = err })

		err := b.Start(context.Background())
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Fatalf("err = %v, want message containing boom", err)
		}
		if !errors.Is(err, ErrStartFailure) || !errors.Is(err, boom) {
			t.Errorf("err = %v, want StartFailure wrapping boom", err)
		}
		var startErr *StartError
		if !errors.As(err, &startErr) {
			t.Errorf("err = %T, want *StartError", err)
		}
		if reported != err {
			t.Errorf("error handler got %v, want %v", reported, err)
		}
		if b.Started() {
			t.Error("bridge should remain unstarted")
		}
		if err := b.Send(context.Background(), newRequest(t, "1", "ping", nil)); !errors.Is(err, ErrNotStarted) {
			t.Errorf("Send err = %v, want ErrNotStarted", err)
		}
	})

	t.Run("connect panic becomes start failure", func(t *testing.T) {
		b, _ := NewBridge(ResponderFunc(func(ctx context.Context, tr Transport) error {
			panic("boom")
		}))
		err := b.Start(context.Background())
		if !errors.Is(err, ErrStartFailure) || !strings.Contains(err.Error(), "boom") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("can start again after a failed start", func(t *testing.T) {
		var attempts int
		var stale Transport
		b, _ := NewBridge(ResponderFunc(func(ctx context.Context, tr Transport) error {
			attempts++
			if attempts == 1 {
				stale = tr
				tr.SetOnMessage(func(*protocol.Message) error { return nil })
				return errors.New("not yet")
			}
			tr.SetOnMessage(func(*protocol.Message) error { return nil })
			return nil
		}))
		defer b.Close(context.Background())

		if err := b.Start(context.Background()); err == nil {
			t.Fatal("expected first start to fail")
		}
		if b.PeerConnected() {
			t.Error("failed start must not leave the peer connected")
		}
		if err := b.Start(context.Background()); err != nil {
			t.Fatalf("second start: %v", err)
		}

		stale.SetOnMessage(nil)
		if !b.PeerConnected() {
			t.Error("a stale peer must not disconnect the current one")
		}
	})

	t.Run("start after close fails", func(t *testing.T) {
		b := startBridge(t, echoResponder())
		_ = b.Close(context.Background())
		if err := b.Start(context.Background()); !errors.Is(err, ErrClosed) {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	})

	t.Run("waits one turn for late registration", func(t *testing.T) {
		loop := NewLoop()
		defer loop.Stop()

		b := startBridge(t, ResponderFunc(func(ctx context.Context, tr Transport) error {
			loop.Schedule(func() {
				tr.SetOnMessage(func(*protocol.Message) error { return nil })
			})
			return nil
		}), WithScheduler(loop))

		if !b.PeerConnected() {
			t.Fatal("expected handler registered within one turn")
		}
		if err := b.Send(context.Background(), newRequest(t, "1", "ping", nil)); err != nil {
			t.Errorf("Send: %v", err)
		}
	})

	t.Run("warns when responder never registers", func(t *testing.T) {
		logger := &recordingLogger{}
		b := startBridge(t, ResponderFunc(func(ctx context.Context, tr Transport) error {
			return nil
		}), WithLogger(logger))

		if !b.Started() {
			t.Error("start should still succeed")
		}
		if !logger.has("warn: inward handler not registered after start") {
			t.Errorf("entries = %v", logger.entries)
		}
		if err := b.Send(context.Background(), newRequest(t, "1", "ping", nil)); !errors.Is(err, ErrPeerUnavailable) {
			t.Errorf("err = %v, want ErrPeerUnavailable", err)
		}
	})
}

func TestBridge_Send(t *testing.T) {
	t.Run("fails before start", func(t *testing.T) {
		b, _ := NewBridge(echoResponder())
		if err := b.Send(context.Background(), newRequest(t, "1", "echo", nil)); !errors.Is(err, ErrNotStarted) {
			t.Errorf("err = %v, want ErrNotStarted", err)
		}
	})

	t.Run("fails when peer clears its handler", func(t *testing.T) {
		r := &capturingResponder{handler: func(*protocol.Message) error { return nil }}
		b := startBridge(t, r)

		var reported error
		b.SetOnError(func(err error) { reported = err })

		r.peer().SetOnMessage(nil)
		if err := b.Send(context.Background(), newRequest(t, "1", "echo", nil)); !errors.Is(err, ErrPeerUnavailable) {
			t.Errorf("err = %v, want ErrPeerUnavailable", err)
		}
		if reported != nil {
			t.Errorf("error handler should not be called, got %v", reported)
		}
	})

	t.Run("fails when peer closes", func(t *testing.T) {
		r := &capturingResponder{handler: func(*protocol.Message) error { return nil }}
		b := startBridge(t, r)

		var closed atomic.Int32
		b.SetOnClose(func() { closed.Add(1) })

		if err := r.peer().Close(context.Background()); err != nil {
			t.Fatalf("peer Close: %v", err)
		}
		if err := b.Send(context.Background(), newRequest(t, "1", "echo", nil)); !errors.Is(err, ErrPeerUnavailable) {
			t.Errorf("err = %v, want ErrPeerUnavailable", err)
		}
		if !b.Started() {
			t.Error("peer close must not close the bridge")
		}
		time.Sleep(10 * time.Millisecond)
		if closed.Load() != 0 {
			t.Error("peer close must not fire the bridge close handler")
		}
	})

	t.Run("echo round trip", func(t *testing.T) {
		b, err := NewBridge(echoResponder())
		if err != nil {
			t.Fatalf("NewBridge: %v", err)
		}
		defer b.Close(context.Background())

		received := make(chan *protocol.Message, 1)
		b.SetOnMessage(func(msg *protocol.Message) error {
			received <- msg
			return nil
		})

		if err := b.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}

		req := &protocol.Message{
			JSONRPC: protocol.JSONRPCVersion,
			ID:      json.RawMessage(`"1"`),
			Method:  "echo",
			Params:  json.RawMessage(`{"foo":"bar"}`),
		}
		if err := b.Send(context.Background(), req); err != nil {
			t.Fatalf("Send: %v", err)
		}

		resp := receive(t, received)
		if string(resp.ID) != `"1"` {
			t.Errorf("id = %s, want \"1\"", resp.ID)
		}
		var result struct {
			Echoed map[string]string `json:"echoed"`
		}
		if err := resp.DecodeResult(&result); err != nil {
			t.Fatalf("DecodeResult: %v", err)
		}
		if result.Echoed["foo"] != "bar" {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("relays the same message value", func(t *testing.T) {
		var got *protocol.Message
		r := &capturingResponder{handler: func(msg *protocol.Message) error {
			got = msg
			return nil
		}}
		b := startBridge(t, r)

		msg := newRequest(t, "1", "echo", map[string]int{"n": 1})
		if err := b.Send(context.Background(), msg); err != nil {
			t.Fatalf("Send: %v", err)
		}
		if got != msg {
			t.Error("bridge must pass the message through untouched")
		}
	})

	t.Run("delivers on a later turn", func(t *testing.T) {
		sched := &manualScheduler{}
		var delivered atomic.Bool
		r := &capturingResponder{handler: func(*protocol.Message) error {
			delivered.Store(true)
			return nil
		}}
		b := startBridge(t, r, WithScheduler(sched))

		msg := newRequest(t, "1", "echo", nil)
		errCh := make(chan error, 1)
		go func() {
			errCh <- b.Send(context.Background(), msg)
		}()

		waitFor(t, "delivery to be scheduled", func() bool { return sched.Len() == 1 })
		if delivered.Load() {
			t.Fatal("delivery ran before the scheduler turn")
		}
		sched.RunPending()

		if err := <-errCh; err != nil {
			t.Fatalf("Send: %v", err)
		}
		if !delivered.Load() {
			t.Error("expected delivery")
		}
	})

	t.Run("responder handler error rejects send", func(t *testing.T) {
		boom := errors.New("boom")
		r := &capturingResponder{handler: func(*protocol.Message) error { return boom }}
		b := startBridge(t, r)

		reported := make(chan error, 1)
		b.SetOnError(func(err error) { reported <- err })

		err := b.Send(context.Background(), newRequest(t, "1", "echo", nil))
		if !errors.Is(err, boom) || !errors.Is(err, ErrDeliveryFailure) {
			t.Fatalf("err = %v, want delivery failure wrapping boom", err)
		}
		var delivery *DeliveryError
		if !errors.As(err, &delivery) || delivery.Direction != ToResponder {
			t.Errorf("err = %#v, want DeliveryError toward responder", err)
		}
		if got := <-reported; got != err {
			t.Errorf("error handler got %v, want %v", got, err)
		}
	})

	t.Run("responder handler panic rejects send", func(t *testing.T) {
		r := &capturingResponder{handler: func(*protocol.Message) error { panic("kaboom") }}
		b := startBridge(t, r)

		err := b.Send(context.Background(), newRequest(t, "1", "echo", nil))
		if !errors.Is(err, ErrDeliveryFailure) || !strings.Contains(err.Error(), "kaboom") {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("context ends before delivery", func(t *testing.T) {
		sched := &manualScheduler{}
		var delivered atomic.Bool
		r := &capturingResponder{handler: func(*protocol.Message) error {
			delivered.Store(true)
			return nil
		}}
		b := startBridge(t, r, WithScheduler(sched))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := b.Send(ctx, newRequest(t, "1", "echo", nil)); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}

		sched.RunPending()
		if !delivered.Load() {
			t.Error("a scheduled delivery is not retracted")
		}
	})
}

func TestPeer_Send(t *testing.T) {
	t.Run("requester handler error goes to error handler only", func(t *testing.T) {
		r := &capturingResponder{handler: func(*protocol.Message) error { return nil }}
		b := startBridge(t, r)

		boom := errors.New("boom")
		b.SetOnMessage(func(*protocol.Message) error { return boom })
		reported := make(chan error, 1)
		b.SetOnError(func(err error) { reported <- err })

		resp, _ := protocol.NewResultMessage(json.RawMessage(`1`), "ok")
		if err := r.peer().Send(context.Background(), resp); err != nil {
			t.Fatalf("peer Send: %v", err)
		}

		select {
		case err := <-reported:
			var delivery *DeliveryError
			if !errors.Is(err, boom) || !errors.As(err, &delivery) || delivery.Direction != ToRequester {
				t.Errorf("err = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for error")
		}
	})

	t.Run("drops messages without an outward handler", func(t *testing.T) {
		logger := &recordingLogger{}
		r := &capturingResponder{handler: func(*protocol.Message) error { return nil }}
		_ = startBridge(t, r, WithLogger(logger))

		resp, _ := protocol.NewResultMessage(json.RawMessage(`1`), "ok")
		if err := r.peer().Send(context.Background(), resp); err != nil {
			t.Fatalf("peer Send: %v", err)
		}
		waitFor(t, "drop warning", func() bool {
			return logger.has("warn: message dropped: no outward handler")
		})
	})

	t.Run("keeps order within a direction", func(t *testing.T) {
		r := &capturingResponder{handler: func(*protocol.Message) error { return nil }}
		b := startBridge(t, r)

		var mu sync.Mutex
		var got []string
		done := make(chan struct{})
		b.SetOnMessage(func(msg *protocol.Message) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, string(msg.ID))
			if len(got) == 20 {
				close(done)
			}
			return nil
		})

		for i := 0; i < 20; i++ {
			id, _ := json.Marshal(i)
			resp, _ := protocol.NewResultMessage(id, i)
			_ = r.peer().Send(context.Background(), resp)
		}

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for deliveries")
		}

		mu.Lock()
		defer mu.Unlock()
		for i, id := range got {
			want, _ := json.Marshal(i)
			if id != string(want) {
				t.Fatalf("position %d got id %s", i, id)
			}
		}
	})

	t.Run("outward handler can send on the same bridge", func(t *testing.T) {
		inbound := make(chan *protocol.Message, 1)
		r := &capturingResponder{handler: func(msg *protocol.Message) error {
			inbound <- msg
			return nil
		}}
		b := startBridge(t, r)

		followUp := newRequest(t, "2", "tools/list", nil)
		sent := make(chan error, 1)
		b.SetOnMessage(func(*protocol.Message) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			sent <- b.Send(ctx, followUp)
			return nil
		})

		note, _ := protocol.NewRequestMessage(nil, "notifications/tools/list_changed", nil)
		if err := r.peer().Send(context.Background(), note); err != nil {
			t.Fatalf("peer Send: %v", err)
		}

		select {
		case err := <-sent:
			if err != nil {
				t.Fatalf("Send from outward handler: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Send from outward handler did not return")
		}
		if got := receive(t, inbound); got != followUp {
			t.Errorf("responder received %v, want the follow-up request", got)
		}
	})

	t.Run("start is a no-op", func(t *testing.T) {
		r := &capturingResponder{handler: func(*protocol.Message) error { return nil }}
		b := startBridge(t, r)
		if err := r.peer().Start(context.Background()); err != nil {
			t.Errorf("peer Start: %v", err)
		}
		if !b.Started() {
			t.Error("bridge should stay started")
		}
	})

	t.Run("peer handlers are stored", func(t *testing.T) {
		r := &capturingResponder{}
		_ = startBridge(t, r)
		p := r.peer()

		p.SetOnError(func(error) {})
		p.SetOnClose(func() {})
		if p.OnError() == nil || p.OnClose() == nil || p.OnMessage() != nil {
			t.Error("unexpected peer handler state")
		}
	})
}

func TestBridge_Close(t *testing.T) {
	t.Run("invokes close handler once asynchronously", func(t *testing.T) {
		sched := &manualScheduler{}
		b := startBridge(t, echoResponder(), WithScheduler(sched))

		var calls atomic.Int32
		b.SetOnClose(func() { calls.Add(1) })

		if err := b.Close(context.Background()); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if calls.Load() != 0 {
			t.Fatal("close handler ran synchronously")
		}
		_ = b.Close(context.Background())
		_ = b.Close(context.Background())

		sched.RunPending()
		if calls.Load() != 1 {
			t.Errorf("close handler calls = %d, want 1", calls.Load())
		}
	})

	t.Run("clears handlers before notifying", func(t *testing.T) {
		b := startBridge(t, echoResponder())

		msg := newRequest(t, "1", "echo", nil)
		done := make(chan struct{})
		var sendErr error
		b.SetOnMessage(func(*protocol.Message) error { return nil })
		b.SetOnError(func(error) {})
		b.SetOnClose(func() {
			sendErr = b.Send(context.Background(), msg)
			_ = b.Close(context.Background())
			close(done)
		})

		_ = b.Close(context.Background())

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("close handler not invoked")
		}
		if !errors.Is(sendErr, ErrNotStarted) {
			t.Errorf("send from close handler = %v, want ErrNotStarted", sendErr)
		}
		if b.OnMessage() != nil || b.OnError() != nil || b.OnClose() != nil {
			t.Error("handlers should be cleared")
		}
		if b.Started() || b.PeerConnected() {
			t.Error("bridge should be stopped and disconnected")
		}
	})

	t.Run("close during start aborts it", func(t *testing.T) {
		connecting := make(chan struct{})
		release := make(chan struct{})
		r := ResponderFunc(func(ctx context.Context, tr Transport) error {
			tr.SetOnMessage(func(*protocol.Message) error { return nil })
			close(connecting)
			<-release
			return nil
		})
		b, err := NewBridge(r)
		if err != nil {
			t.Fatalf("NewBridge: %v", err)
		}
		closed := make(chan struct{})
		b.SetOnClose(func() { close(closed) })

		started := make(chan error, 1)
		go func() { started <- b.Start(context.Background()) }()
		<-connecting

		if err := b.Close(context.Background()); err != nil {
			t.Fatalf("Close: %v", err)
		}
		close(release)

		if err := <-started; !errors.Is(err, ErrClosed) {
			t.Errorf("Start = %v, want ErrClosed", err)
		}
		if b.Started() || b.PeerConnected() {
			t.Error("bridge should stay stopped")
		}
		select {
		case <-closed:
		case <-time.After(2 * time.Second):
			t.Fatal("close handler not invoked")
		}
	})

	t.Run("close handler panic is logged", func(t *testing.T) {
		logger := &recordingLogger{}
		b := startBridge(t, echoResponder(), WithLogger(logger))
		b.SetOnClose(func() { panic("close failed") })

		_ = b.Close(context.Background())
		waitFor(t, "panic log", func() bool {
			return logger.has("error: scheduled task panicked")
		})
	})

	t.Run("send after close fails", func(t *testing.T) {
		b := startBridge(t, echoResponder())
		_ = b.Close(context.Background())
		if err := b.Send(context.Background(), newRequest(t, "1", "echo", nil)); !errors.Is(err, ErrNotStarted) {
			t.Errorf("err = %v, want ErrNotStarted", err)
		}
	})

	t.Run("no-op before start", func(t *testing.T) {
		b, _ := NewBridge(echoResponder())
		called := false
		b.SetOnClose(func() { called = true })
		if err := b.Close(context.Background()); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if called || b.OnClose() == nil {
			t.Error("close before start must not touch handlers")
		}
	})

	t.Run("does not close the responder side", func(t *testing.T) {
		var peerClosed atomic.Bool
		r := &capturingResponder{handler: func(*protocol.Message) error { return nil }}
		b := startBridge(t, r)
		r.peer().SetOnClose(func() { peerClosed.Store(true) })

		_ = b.Close(context.Background())
		time.Sleep(10 * time.Millisecond)
		if peerClosed.Load() {
			t.Error("bridge close must not notify the responder")
		}
	})

	t.Run("in-flight delivery still runs", func(t *testing.T) {
		sched := &manualScheduler{}
		var delivered atomic.Bool
		r := &capturingResponder{handler: func(*protocol.Message) error {
			delivered.Store(true)
			return nil
		}}
		b := startBridge(t, r, WithScheduler(sched))

		msg := newRequest(t, "1", "echo", nil)
		errCh := make(chan error, 1)
		go func() { errCh <- b.Send(context.Background(), msg) }()
		waitFor(t, "delivery to be scheduled", func() bool { return sched.Len() == 1 })

		_ = b.Close(context.Background())
		sched.RunPending()

		if err := <-errCh; err != nil {
			t.Errorf("Send: %v", err)
		}
		if !delivered.Load() {
			t.Error("expected the pre-close delivery to run")
		}
	})

	t.Run("responder sends after close are dropped", func(t *testing.T) {
		logger := &recordingLogger{}
		r := &capturingResponder{handler: func(*protocol.Message) error { return nil }}
		b := startBridge(t, r, WithLogger(logger))
		var got atomic.Int32
		b.SetOnMessage(func(*protocol.Message) error { got.Add(1); return nil })

		_ = b.Close(context.Background())
		resp, _ := protocol.NewResultMessage(json.RawMessage(`1`), "late")
		if err := r.peer().Send(context.Background(), resp); err != nil {
			t.Fatalf("peer Send: %v", err)
		}
		if !logger.has("warn: message dropped: no outward handler") {
			t.Error("expected drop warning")
		}
		if got.Load() != 0 {
			t.Error("closed bridge delivered a message")
		}
	})
}
