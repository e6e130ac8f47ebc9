package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
	"github.com/vikashloomba/mcp-client-hub-go/pkg/mcphub"
)

const protectedResourcePath = "/.well-known/oauth-protected-resource"

// Gateway exposes a Streamable MCP server that fronts the toolset of an
// mcphub.Hub under a single HTTP endpoint.
type Gateway struct {
	hub  *mcphub.Hub
	opts Options

	tools *toolIndex

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	mux           *http.ServeMux
	httpHandler   http.Handler

	serverMu     sync.Mutex
	httpServerMu sync.Mutex
	httpServer   *http.Server

	unsubscribe func()
	closeOnce   sync.Once
}

// NewGateway builds a Gateway, registers the hub's current toolset, and keeps
// it in sync with every snapshot the hub publishes until Close.
func NewGateway(hub *mcphub.Hub, opts *Options) (*Gateway, error) {
	if hub == nil {
		return nil, fmt.Errorf("mcpgateway: hub is required")
	}
	options := opts.withDefaults()
	if options.TokenOptions != nil && options.TokenVerifier == nil {
		return nil, fmt.Errorf("mcpgateway: TokenOptions requires a TokenVerifier")
	}
	g := &Gateway{
		hub:   hub,
		opts:  options,
		tools: newToolIndex(options.Namespace),
	}

	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{HasTools: true})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.httpHandler = g.mountHandler()

	g.unsubscribe = hub.Subscribe(g.apply)
	g.apply(hub.Status())
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// ServeMux returns the mux behind Handler so callers can register extra
// routes. Routes added here bypass the bearer check.
func (g *Gateway) ServeMux() *http.ServeMux {
	return g.mux
}

// Server returns the underlying MCP server.
func (g *Gateway) Server() *mcp.Server {
	return g.server
}

// Options returns a copy of the options the gateway runs with, defaults
// applied.
func (g *Gateway) Options() Options {
	return g.opts
}

// ToolNames lists the tools currently advertised downstream.
func (g *Gateway) ToolNames() []string {
	return g.tools.Names()
}

// ListenAndServe runs an HTTP server until the provided context is cancelled or
// the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		serv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcpgateway: server already running on %s", serv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	g.opts.Logger.Info("gateway listening", "addr", g.opts.Addr, "path", g.opts.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

// Close stops following the hub. The hub itself is left running.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		if g.unsubscribe != nil {
			g.unsubscribe()
		}
	})
}

func (g *Gateway) apply(st mcphub.HubStatus) {
	g.serverMu.Lock()
	defer g.serverMu.Unlock()

	removed, added, stale := g.tools.Update(st)
	if stale {
		return
	}
	if len(removed) > 0 {
		g.server.RemoveTools(removed...)
	}
	for _, reg := range added {
		g.server.AddTool(reg.Tool, g.makeToolHandler(reg.Target))
	}
	if len(removed) > 0 || len(added) > 0 {
		g.opts.Logger.Debug("gateway tools synced", "version", st.Version, "removed", len(removed), "added", len(added))
	}
}

func (g *Gateway) makeToolHandler(target toolTarget) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := any(nil)
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}
		return g.hub.CallServerTool(ctx, target.ServerID, target.NativeName, args)
	}
}

func (g *Gateway) mountHandler() http.Handler {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	var endpoint http.Handler = g.streamHandler
	if g.opts.TokenVerifier != nil {
		endpoint = auth.RequireBearerToken(g.opts.TokenVerifier, g.opts.TokenOptions)(endpoint)
	}
	mux := http.NewServeMux()
	mux.Handle(path, endpoint)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", endpoint)
	}
	if g.opts.AuthorizationServer != "" {
		mux.Handle(protectedResourcePath, cors.AllowAll().Handler(http.HandlerFunc(g.serveProtectedResource)))
	}
	g.mux = mux
	if g.opts.CORS != nil {
		return cors.New(*g.opts.CORS).Handler(mux)
	}
	return mux
}

type protectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
}

func (g *Gateway) serveProtectedResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	meta := protectedResourceMetadata{
		Resource:               scheme + "://" + r.Host + g.opts.Path,
		AuthorizationServers:   []string{g.opts.AuthorizationServer},
		BearerMethodsSupported: []string{"header"},
	}
	if g.opts.TokenOptions != nil {
		meta.ScopesSupported = g.opts.TokenOptions.Scopes
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(meta); err != nil {
		g.opts.Logger.Error("write protected resource metadata", "error", err)
	}
}
