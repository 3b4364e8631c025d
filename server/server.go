package server

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/felixgeelhaar/mcp-bridge/middleware"
	"github.com/felixgeelhaar/mcp-bridge/protocol"
	"github.com/felixgeelhaar/mcp-bridge/transport"
)

// Info contains server metadata exposed to clients.
type Info struct {
	Name    string
	Version string
}

// Manifest is the result of the initialize request.
type Manifest struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      ManifestInfo   `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

// ManifestInfo identifies the server in a Manifest.
type ManifestInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. It is also used by the default
// middleware stack.
func WithLogger(l middleware.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMiddleware replaces the default middleware stack.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(s *Server) {
		s.middleware = append([]middleware.Middleware{}, mw...)
		s.customStack = true
	}
}

// Server routes JSON-RPC requests to registered handlers.
type Server struct {
	mu sync.RWMutex

	info        Info
	logger      middleware.Logger
	handlers    map[string]middleware.HandlerFunc
	middleware  []middleware.Middleware
	customStack bool
}

var _ transport.Responder = (*Server)(nil)

// New creates a server. Without WithMiddleware it uses middleware.DefaultStack.
func New(info Info, opts ...Option) *Server {
	s := &Server{
		info:     info,
		logger:   middleware.NopLogger{},
		handlers: make(map[string]middleware.HandlerFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.customStack {
		s.middleware = middleware.DefaultStack(s.logger)
	}

	s.handlers[protocol.MethodInitialize] = s.handleInitialize
	s.handlers[protocol.MethodPing] = handlePing
	s.handlers[protocol.MethodInitialized] = handleNoop
	s.handlers[protocol.MethodCancelled] = handleNoop
	return s
}

// Info returns the server info.
func (s *Server) Info() Info {
	return s.info
}

// Handle registers h for method, replacing any previous handler.
func (s *Server) Handle(method string, h middleware.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Use appends middleware to the chain.
func (s *Server) Use(mw ...middleware.Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middleware = append(s.middleware, mw...)
}

// Methods returns the registered method names, sorted.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Manifest returns the initialize result.
func (s *Server) Manifest() Manifest {
	return Manifest{
		ProtocolVersion: protocol.MCPVersion,
		ServerInfo:      ManifestInfo{Name: s.info.Name, Version: s.info.Version},
		Capabilities:    map[string]any{},
	}
}

// HandleRequest runs req through the middleware chain and the handler
// registered for its method.
func (s *Server) HandleRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	s.mu.RLock()
	chain := middleware.Chain(s.middleware...)
	s.mu.RUnlock()
	return chain(s.dispatch)(ctx, req)
}

func (s *Server) dispatch(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	s.mu.RLock()
	h, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		return nil, protocol.NewMethodNotFound(req.Method)
	}
	return h(ctx, req)
}

// Connect registers the server as the message handler of t. Messages are
// handled with a context derived from ctx that is never canceled.
func (s *Server) Connect(ctx context.Context, t transport.Transport) error {
	base := transport.ContextWithNotificationSender(context.WithoutCancel(ctx), &notifier{t: t})

	t.SetOnMessage(func(msg *protocol.Message) error {
		return s.handleMessage(base, t, msg)
	})
	t.SetOnError(func(err error) {
		s.logger.Error("transport error", middleware.F("error", err.Error()))
	})

	s.logger.Debug("server connected", middleware.F("server", s.info.Name))
	return nil
}

func (s *Server) handleMessage(ctx context.Context, t transport.Transport, msg *protocol.Message) error {
	switch {
	case msg.IsResponse():
		s.logger.Debug("ignoring response", middleware.F("id", string(msg.ID)))
		return nil
	case msg.Method == "":
		if len(msg.ID) == 0 {
			return nil
		}
		return t.Send(ctx, protocol.NewErrorMessage(msg.ID, protocol.NewInvalidRequest("missing method")))
	}

	req := msg.Request()
	resp, err := s.HandleRequest(ctx, req)

	if req.IsNotification() {
		return nil
	}

	if err != nil {
		var mcpErr *protocol.Error
		if errors.As(err, &mcpErr) {
			resp = protocol.NewErrorResponse(req.ID, mcpErr)
		} else {
			resp = protocol.NewErrorResponse(req.ID, protocol.NewInternalError(err.Error()))
		}
	}
	if resp == nil {
		resp = protocol.NewResponse(req.ID, map[string]any{})
	}
	resp.JSONRPC = protocol.JSONRPCVersion
	resp.ID = req.ID

	out, err := protocol.MessageFromResponse(resp)
	if err != nil {
		out = protocol.NewErrorMessage(req.ID, protocol.NewInternalError(err.Error()))
	}
	return t.Send(ctx, out)
}

func (s *Server) handleInitialize(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return protocol.NewResponse(req.ID, s.Manifest()), nil
}

func handlePing(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return protocol.NewResponse(req.ID, map[string]any{}), nil
}

func handleNoop(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return nil, nil
}

// notifier sends notifications over the connected transport.
type notifier struct {
	t transport.Transport
}

func (n *notifier) SendNotification(ctx context.Context, method string, params any) error {
	msg, err := protocol.NewRequestMessage(nil, method, params)
	if err != nil {
		return err
	}
	return n.t.Send(ctx, msg)
}
