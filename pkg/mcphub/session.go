package mcphub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Session is one live tool-server session as seen by a Connection. The
// protocol itself (handshake, framing, streaming) lives behind it.
type Session interface {
	// ListTools returns every tool the server advertises.
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	// Wait blocks until the session ends and reports why.
	Wait() error
	Close() error
}

// DialRequest carries everything a Dialer needs to open one session.
type DialRequest struct {
	Server     string
	Config     ServerConfig
	ClientInfo *mcp.Implementation
	// Lifetime bounds the opened session, which must outlive the ctx passed
	// to Dial: that one only covers the handshake. Nil means the session
	// lives until closed.
	Lifetime context.Context
	// OnToolListChanged is invoked when the server announces that its tool
	// list changed. It may be nil.
	OnToolListChanged func()
}

// Dialer opens sessions. Hubs use an SDKDialer unless told otherwise.
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, req DialRequest) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, req DialRequest) (Session, error) { return f(ctx, req) }

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// HTTPAuthProvider dynamically supplies an Authorization header (for example,
// "Bearer <token>") for outbound HTTP requests.
type HTTPAuthProvider func(context.Context) (string, error)

// SDKDialer opens sessions with the modelcontextprotocol/go-sdk client: stdio
// servers through mcp.CommandTransport, HTTP servers through the Streamable
// HTTP or SSE client transports.
type SDKDialer struct {
	// HTTPClient is the base client for HTTP transports. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
	// MaxRetries is passed to the Streamable HTTP transport.
	MaxRetries int
	// ClientOptions are applied to every mcp.Client the dialer builds.
	ClientOptions mcp.ClientOptions
	// AuthProvider, when set, fills in Authorization on HTTP requests that do
	// not already carry one.
	AuthProvider HTTPAuthProvider
	// LogJSONRPC prints every MCP request, notification and reply through
	// Logger at debug level unless RPCLogger is set.
	LogJSONRPC bool
	RPCLogger  RPCLogger
	Logger     *slog.Logger
}

// Dial connects to the server described by req.Config.
func (d *SDKDialer) Dial(ctx context.Context, req DialRequest) (Session, error) {
	switch cfg := req.Config.Transport.(type) {
	case *StdioTransport:
		transport, err := d.buildStdioTransport(req.Server, cfg)
		if err != nil {
			return nil, err
		}
		return d.attempt(ctx, req, transport)
	case *HTTPTransport:
		return d.dialHTTP(ctx, req, cfg)
	default:
		return nil, fmt.Errorf("mcphub: unsupported transport for %q", req.Server)
	}
}

func (d *SDKDialer) attempt(ctx context.Context, req DialRequest, transport mcp.Transport) (Session, error) {
	impl := req.ClientInfo
	if impl == nil {
		impl = &mcp.Implementation{Name: req.Server, Version: defaultClientVersion}
	}
	opts := d.ClientOptions
	original := opts.ToolListChangedHandler
	opts.ToolListChangedHandler = func(ctx context.Context, r *mcp.ToolListChangedRequest) {
		if original != nil {
			original(ctx, r)
		}
		if req.OnToolListChanged != nil {
			req.OnToolListChanged()
		}
	}
	client := mcp.NewClient(impl, &opts)
	if logger := d.resolveLogger(); logger != nil {
		client.AddSendingMiddleware(rpcTap(req.Server, logger, RPCDirectionSend))
		client.AddReceivingMiddleware(rpcTap(req.Server, logger, RPCDirectionReceive))
	}
	lifetime := req.Lifetime
	if lifetime == nil {
		lifetime = context.Background()
	}
	session, err := client.Connect(ctx, &sessionTransport{lifetime: lifetime, delegate: transport}, nil)
	if err != nil {
		return nil, err
	}
	return &sdkSession{session: session}, nil
}

func (d *SDKDialer) dialHTTP(ctx context.Context, req DialRequest, cfg *HTTPTransport) (Session, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcphub: url missing for %q", req.Server)
	}
	client := d.decorateHTTPClient(d.HTTPClient, headerFromMap(cfg.Headers), d.AuthProvider)
	sseTransport := &mcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: client}
	if CheckURLIsSSEServer(cfg.URL) {
		return d.attempt(ctx, req, sseTransport)
	}

	streamable := &mcp.StreamableClientTransport{
		Endpoint:   cfg.URL,
		HTTPClient: client,
		MaxRetries: d.MaxRetries,
	}
	session, streamErr := d.attempt(ctx, req, streamable)
	if streamErr == nil {
		return session, nil
	}
	session, err := d.attempt(ctx, req, sseTransport)
	if err != nil {
		return nil, fmt.Errorf("streamable error: %v; sse error: %w", streamErr, err)
	}
	return session, nil
}

func (d *SDKDialer) buildStdioTransport(serverID string, cfg *StdioTransport) (mcp.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcphub: command missing for %q", serverID)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Cwd
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func (d *SDKDialer) resolveLogger() RPCLogger {
	if d.RPCLogger != nil {
		return d.RPCLogger
	}
	if !d.LogJSONRPC {
		return nil
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(event RPCLogEvent) {
		logger.Debug("jsonrpc", "server", event.ServerID, "direction", strings.ToUpper(string(event.Direction)), "message", string(event.Message))
	}
}

func (d *SDKDialer) decorateHTTPClient(base *http.Client, headers http.Header, provider HTTPAuthProvider) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:         defaultRoundTripper(base.Transport),
		headers:      headers,
		authProvider: provider,
	}
	return &clone
}

type sdkSession struct {
	session *mcp.ClientSession
}

func (s *sdkSession) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	var all []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := s.session.ListTools(ctx, params)
		if err != nil {
			if isMethodUnavailableError(err, "tools/list") {
				return all, nil
			}
			return nil, err
		}
		all = append(all, res.Tools...)
		if res.NextCursor == "" {
			return all, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (s *sdkSession) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	return s.session.CallTool(ctx, params)
}

func (s *sdkSession) Wait() error  { return s.session.Wait() }
func (s *sdkSession) Close() error { return s.session.Close() }

// sessionTransport connects its delegate on the session lifetime instead of
// the handshake context: SSE streams and the streamable hanging GET are
// bound to the context given to Connect. The handshake context can still
// abort a Connect in progress. The delegate's connection is returned as is,
// since the SDK looks for optional methods on it.
type sessionTransport struct {
	lifetime context.Context
	delegate mcp.Transport
}

func (t *sessionTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	connCtx, cancel := context.WithCancel(t.lifetime)
	stop := context.AfterFunc(ctx, cancel)
	conn, err := t.delegate.Connect(connCtx)
	if !stop() {
		cancel()
		if err == nil {
			_ = conn.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		cancel()
		return nil, err
	}
	return conn, nil
}

// rpcMessage is the logged form of one request, notification or reply.
type rpcMessage struct {
	Method string     `json:"method"`
	Params mcp.Params `json:"params,omitempty"`
	Result mcp.Result `json:"result,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// rpcTap logs every message passing through a client's sending (outbound
// requests) or receiving (server-initiated) method handlers, and the reply
// to each request.
func rpcTap(serverID string, logger RPCLogger, dir RPCDirection) mcp.Middleware {
	replyDir := RPCDirectionReceive
	if dir == RPCDirectionReceive {
		replyDir = RPCDirectionSend
	}
	emit := func(direction RPCDirection, msg rpcMessage) {
		encoded, err := json.Marshal(msg)
		if err != nil {
			encoded = []byte(err.Error())
		}
		logger(RPCLogEvent{Direction: direction, Message: encoded, ServerID: serverID})
	}
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			emit(dir, rpcMessage{Method: method, Params: req.GetParams()})
			res, err := next(ctx, method, req)
			if strings.HasPrefix(method, "notifications/") {
				return res, err
			}
			reply := rpcMessage{Method: method, Result: res}
			if err != nil {
				reply.Result = nil
				reply.Error = err.Error()
			}
			emit(replyDir, reply)
			return res, err
		}
	}
}

type headerDecorator struct {
	next         http.RoundTripper
	headers      http.Header
	authProvider HTTPAuthProvider
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if d.authProvider != nil && req.Header.Get("Authorization") == "" {
		token, err := d.authProvider(req.Context())
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", token)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}

func headerFromMap(headers map[string]string) http.Header {
	if len(headers) == 0 {
		return nil
	}
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return h
}

func isMethodUnavailableError(err error, method string) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	if !(strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")) {
		return false
	}
	return strings.Contains(lower, strings.ToLower(method)) || strings.Contains(lower, "method not found")
}
