// Package client provides an MCP client that runs over any transport,
// including the in-process bridge.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/mcp-bridge/middleware"
	"github.com/felixgeelhaar/mcp-bridge/protocol"
	"github.com/felixgeelhaar/mcp-bridge/transport"
)

// ErrClosed is returned for calls made on, or pending when, the client closes.
var ErrClosed = errors.New("client: closed")

// ServerInfo contains information about the connected server.
type ServerInfo struct {
	Name            string
	Version         string
	ProtocolVersion string
}

// NotificationHandler receives notifications sent by the server.
// It runs on the transport's delivery goroutine and must not block.
type NotificationHandler func(msg *protocol.Message)

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	timeout       time.Duration
	clientName    string
	clientVer     string
	protocolVer   string
	logger        middleware.Logger
	notifications NotificationHandler
}

// WithTimeout sets the default timeout for requests. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// WithClientInfo sets the client name and version for initialization.
func WithClientInfo(name, version string) Option {
	return func(o *clientOptions) {
		o.clientName = name
		o.clientVer = version
	}
}

// WithProtocolVersion sets the protocol version to use.
func WithProtocolVersion(version string) Option {
	return func(o *clientOptions) {
		o.protocolVer = version
	}
}

// WithLogger sets the client logger.
func WithLogger(l middleware.Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNotificationHandler sets the handler for server notifications.
func WithNotificationHandler(h NotificationHandler) Option {
	return func(o *clientOptions) {
		o.notifications = h
	}
}

// Client is an MCP client that communicates with an MCP server.
type Client struct {
	transport transport.Transport
	opts      clientOptions
	requestID atomic.Int64

	mu         sync.Mutex
	pending    map[string]chan *protocol.Message
	closed     bool
	serverInfo *ServerInfo
}

// New creates a client on t. Call Start before making requests.
func New(t transport.Transport, opts ...Option) *Client {
	options := clientOptions{
		timeout:     30 * time.Second,
		clientName:  "mcp-bridge-client",
		clientVer:   "1.0.0",
		protocolVer: protocol.MCPVersion,
		logger:      middleware.NopLogger{},
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Client{
		transport: t,
		opts:      options,
		pending:   make(map[string]chan *protocol.Message),
	}
}

// Start registers the client's handlers on the transport and starts it.
func (c *Client) Start(ctx context.Context) error {
	c.transport.SetOnMessage(c.handleMessage)
	c.transport.SetOnError(c.handleError)
	c.transport.SetOnClose(c.handleClose)
	if err := c.transport.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	return nil
}

// Initialize performs the MCP handshake with the server.
func (c *Client) Initialize(ctx context.Context) (*ServerInfo, error) {
	params := map[string]any{
		"protocolVersion": c.opts.protocolVer,
		"clientInfo": map[string]any{
			"name":    c.opts.clientName,
			"version": c.opts.clientVer,
		},
		"capabilities": map[string]any{},
	}

	resp, err := c.Call(ctx, protocol.MethodInitialize, params)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := resp.DecodeResult(&result); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	info := &ServerInfo{
		Name:            result.ServerInfo.Name,
		Version:         result.ServerInfo.Version,
		ProtocolVersion: result.ProtocolVersion,
	}

	c.mu.Lock()
	c.serverInfo = info
	c.mu.Unlock()

	if err := c.Notify(ctx, protocol.MethodInitialized, nil); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}
	return info, nil
}

// ServerInfo returns the info from the last successful Initialize, or nil.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Ping checks that the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, protocol.MethodPing, nil)
	return err
}

// Call sends a request and waits for the matching response. A JSON-RPC
// error response is returned as a *protocol.Error.
func (c *Client) Call(ctx context.Context, method string, params any) (*protocol.Message, error) {
	id := json.RawMessage(strconv.FormatInt(c.requestID.Add(1), 10))

	req, err := protocol.NewRequestMessage(id, method, params)
	if err != nil {
		return nil, err
	}

	if c.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.timeout)
		defer cancel()
	}

	ch := make(chan *protocol.Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[string(id)] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, string(id))
		c.mu.Unlock()
	}()

	if err := c.transport.Send(ctx, req); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify sends a notification; no response is expected.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	msg, err := protocol.NewRequestMessage(nil, method, params)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, msg)
}

// Close closes the transport and fails every pending call with ErrClosed.
func (c *Client) Close(ctx context.Context) error {
	c.failPending()
	return c.transport.Close(ctx)
}

func (c *Client) handleMessage(msg *protocol.Message) error {
	switch {
	case msg.IsResponse():
		c.mu.Lock()
		ch, ok := c.pending[string(msg.ID)]
		if ok {
			delete(c.pending, string(msg.ID))
		}
		c.mu.Unlock()
		if !ok {
			c.opts.logger.Warn("response for unknown request", middleware.F("id", string(msg.ID)))
			return nil
		}
		ch <- msg
	case msg.IsNotification():
		if c.opts.notifications != nil {
			c.opts.notifications(msg)
		}
	case msg.IsRequest():
		// Server-initiated requests are not supported. The reply is sent
		// off the delivery goroutine: Send waits for delivery.
		reply := protocol.NewErrorMessage(msg.ID, protocol.NewMethodNotFound(msg.Method))
		go func() {
			if err := c.transport.Send(context.Background(), reply); err != nil {
				c.opts.logger.Debug("reply to server request failed", middleware.F("error", err.Error()))
			}
		}()
	}
	return nil
}

func (c *Client) handleError(err error) {
	c.opts.logger.Error("transport error", middleware.F("error", err.Error()))
}

func (c *Client) handleClose() {
	c.failPending()
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}
