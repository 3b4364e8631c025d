// Package mcp wires an MCP client to an in-process server.
//
// The server, client and transport packages can be used on their own; this
// package only provides shortcuts for the common case of running both sides
// in one process:
//
//	srv := mcp.NewServer(mcp.ServerInfo{Name: "demo", Version: "1.0.0"})
//	srv.Handle("echo", func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
//	    return protocol.NewResponse(req.ID, req.Params), nil
//	})
//
//	c, err := mcp.ConnectInProcess(ctx, srv)
//	if err != nil {
//	    return err
//	}
//	defer c.Close(ctx)
//
//	resp, err := c.Call(ctx, "echo", map[string]string{"hello": "world"})
package mcp

import (
	"context"

	"github.com/felixgeelhaar/mcp-bridge/client"
	"github.com/felixgeelhaar/mcp-bridge/middleware"
	"github.com/felixgeelhaar/mcp-bridge/server"
	"github.com/felixgeelhaar/mcp-bridge/transport"
)

// Re-export core types for convenience

// ServerInfo contains server metadata exposed to clients.
type ServerInfo = server.Info

// Server is the MCP server instance.
type Server = server.Server

// Client is the MCP client instance.
type Client = client.Client

// Bridge is the in-process transport.
type Bridge = transport.Bridge

// Responder is anything that can attach to a transport.
type Responder = transport.Responder

// Logger is the structured logger used across the module.
type Logger = middleware.Logger

// LogField is a structured logging field.
type LogField = middleware.Field

// Middleware wraps a request handler.
type Middleware = middleware.Middleware

// NewServer creates a new MCP server with the given info and options.
func NewServer(info ServerInfo, opts ...server.Option) *Server {
	return server.New(info, opts...)
}

// NewBridge creates an in-process transport for responder.
func NewBridge(responder Responder, opts ...transport.BridgeOption) (*Bridge, error) {
	return transport.NewBridge(responder, opts...)
}

// ConnectOption configures ConnectInProcess.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	bridge []transport.BridgeOption
	client []client.Option
}

// WithBridgeOptions passes options to the underlying Bridge.
func WithBridgeOptions(opts ...transport.BridgeOption) ConnectOption {
	return func(o *connectOptions) {
		o.bridge = append(o.bridge, opts...)
	}
}

// WithClientOptions passes options to the Client.
func WithClientOptions(opts ...client.Option) ConnectOption {
	return func(o *connectOptions) {
		o.client = append(o.client, opts...)
	}
}

// ConnectInProcess bridges a new client to responder, starts it and
// performs the initialize handshake. The caller closes the returned client.
func ConnectInProcess(ctx context.Context, responder Responder, opts ...ConnectOption) (*Client, error) {
	options := &connectOptions{}
	for _, opt := range opts {
		opt(options)
	}

	b, err := transport.NewBridge(responder, options.bridge...)
	if err != nil {
		return nil, err
	}

	c := client.New(b, options.client...)
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	if _, err := c.Initialize(ctx); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return c, nil
}

// LogF creates a new log field with the given key and value.
func LogF(key string, value any) LogField {
	return middleware.F(key, value)
}
