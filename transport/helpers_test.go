package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/mcp-bridge/middleware"
	"github.com/felixgeelhaar/mcp-bridge/protocol"
)

// manualScheduler queues tasks until the test runs them.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []func()
}

func (s *manualScheduler) Schedule(task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

func (s *manualScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// RunPending runs the tasks queued so far and returns how many ran.
func (s *manualScheduler) RunPending() int {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()
	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

// recordingLogger is a concurrency-safe Logger that keeps every entry.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg)
}

func (l *recordingLogger) Info(msg string, fields ...middleware.Field)  { l.add("info", msg) }
func (l *recordingLogger) Error(msg string, fields ...middleware.Field) { l.add("error", msg) }
func (l *recordingLogger) Debug(msg string, fields ...middleware.Field) { l.add("debug", msg) }
func (l *recordingLogger) Warn(msg string, fields ...middleware.Field)  { l.add("warn", msg) }

func (l *recordingLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}

// echoResponder answers {id, method, params} with {id, result: {echoed: params}}.
func echoResponder() ResponderFunc {
	return func(ctx context.Context, t Transport) error {
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
			return t.Send(context.Background(), resp)
		})
		return nil
	}
}

// capturingResponder stores the peer transport and registers handler on it.
type capturingResponder struct {
	mu        sync.Mutex
	transport Transport
	handler   MessageHandler
	calls     int
}

func (r *capturingResponder) Connect(ctx context.Context, t Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport = t
	r.calls++
	if r.handler != nil {
		t.SetOnMessage(r.handler)
	}
	return nil
}

func (r *capturingResponder) peer() Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transport
}

func newRequest(t *testing.T, id, method string, params any) *protocol.Message {
	t.Helper()
	msg, err := protocol.NewRequestMessage(json.RawMessage(`"`+id+`"`), method, params)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func receive(t *testing.T, ch <-chan *protocol.Message) *protocol.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func startBridge(t *testing.T, r Responder, opts ...BridgeOption) *Bridge {
	t.Helper()
	b, err := NewBridge(r, opts...)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}
