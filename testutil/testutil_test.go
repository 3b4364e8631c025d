package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/felixgeelhaar/mcp-bridge/protocol"
	"github.com/felixgeelhaar/mcp-bridge/transport"
)

func TestEchoResponder(t *testing.T) {
	bridge, err := transport.NewBridge(EchoResponder())
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	rec := NewRecorder()
	rec.Attach(bridge)
	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	req := &protocol.Message{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`"1"`),
		Method:  "echo",
		Params:  json.RawMessage(`{"foo":"bar"}`),
	}
	if err := bridge.Send(context.Background(), req); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msg := rec.WaitMessages(t, 1)[0]
	if string(msg.ID) != `"1"` || string(msg.Result) != `{"echoed":{"foo":"bar"}}` {
		t.Errorf("response = id %s result %s", msg.ID, msg.Result)
	}

	note, _ := protocol.NewRequestMessage(nil, "ignored", nil)
	if err := bridge.Send(context.Background(), note); err != nil {
		t.Fatalf("Send notification: %v", err)
	}

	if err := bridge.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	rec.WaitClosed(t)
	if rec.Closes() != 1 {
		t.Errorf("closes = %d, want 1", rec.Closes())
	}
	if len(rec.Messages()) != 1 {
		t.Errorf("messages = %d, want 1", len(rec.Messages()))
	}
}

func TestRecorder_StartFailure(t *testing.T) {
	bridge, _ := transport.NewBridge(transport.ResponderFunc(func(ctx context.Context, tr transport.Transport) error {
		return errors.New("boom")
	}))
	rec := NewRecorder()
	rec.Attach(bridge)

	err := bridge.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v, want boom", err)
	}

	errs := rec.WaitErrors(t, 1)
	if errs[0] != err {
		t.Errorf("recorded %v, want %v", errs[0], err)
	}
}

func TestNewInProcessClient(t *testing.T) {
	c := NewInProcessClient(t, EchoResponder())
	resp, err := c.Call(context.Background(), "echo", []int{1, 2})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp.Result) != `{"echoed":[1,2]}` {
		t.Errorf("result = %s", resp.Result)
	}
}
