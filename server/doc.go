// Package server provides a JSON-RPC responder that can be connected to any
// transport, including the in-process bridge.
//
// A Server routes requests by method name through a middleware chain:
//
//	srv := server.New(server.Info{Name: "demo", Version: "1.0.0"})
//	srv.Handle("echo", func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
//	    return protocol.NewResponse(req.ID, json.RawMessage(req.Params)), nil
//	})
//
//	bridge, _ := transport.NewBridge(srv)
//
// initialize and ping are answered out of the box. Requests produce exactly
// one response; notifications produce none.
package server
