package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/felixgeelhaar/mcp-bridge/protocol"
	"github.com/felixgeelhaar/mcp-bridge/transport"
)

// ProgressToken identifies the request a progress notification belongs to.
type ProgressToken string

// ProgressReporter sends notifications/progress for a long-running request.
type ProgressReporter interface {
	// Report sends a progress update. Values must increase between calls;
	// a non-increasing value is nudged just above the previous one.
	Report(ctx context.Context, progress float64, total *float64, message string) error
	// Token returns the progress token, or empty string if none.
	Token() ProgressToken
}

type progressReporter struct {
	token    ProgressToken
	notifier transport.NotificationSender

	mu   sync.Mutex
	last float64
}

func (p *progressReporter) Token() ProgressToken {
	return p.token
}

func (p *progressReporter) Report(ctx context.Context, progress float64, total *float64, message string) error {
	p.mu.Lock()
	if progress <= p.last {
		progress = p.last + 0.1
	}
	p.last = progress
	p.mu.Unlock()

	params := map[string]any{
		"progressToken": string(p.token),
		"progress":      progress,
	}
	if total != nil {
		params["total"] = *total
	}
	if message != "" {
		params["message"] = message
	}
	return p.notifier.SendNotification(ctx, protocol.MethodProgress, params)
}

type noopProgressReporter struct{}

func (noopProgressReporter) Report(context.Context, float64, *float64, string) error { return nil }
func (noopProgressReporter) Token() ProgressToken                                    { return "" }

// ProgressFromRequest returns a reporter for req. Without a progress token
// in the request's _meta, or outside a connected server, the reporter
// discards updates.
func ProgressFromRequest(ctx context.Context, req *protocol.Request) ProgressReporter {
	token := ExtractProgressToken(req.Params)
	sender := transport.NotificationSenderFromContext(ctx)
	if token == "" || sender == nil {
		return noopProgressReporter{}
	}
	return &progressReporter{token: token, notifier: sender}
}

// ExtractProgressToken reads params._meta.progressToken. Numeric tokens are
// kept in their JSON form.
func ExtractProgressToken(params json.RawMessage) ProgressToken {
	if len(params) == 0 {
		return ""
	}
	var p struct {
		Meta struct {
			ProgressToken json.RawMessage `json:"progressToken"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(params, &p); err != nil || len(p.Meta.ProgressToken) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Meta.ProgressToken, &s); err == nil {
		return ProgressToken(s)
	}
	return ProgressToken(p.Meta.ProgressToken)
}
