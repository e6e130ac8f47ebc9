package mcphub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

const (
	defaultClientName    = "mcphub"
	defaultClientVersion = "1.0.0"
	defaultServerName    = "server"
)

var (
	// ErrMissingConfig is returned by AddServer and AddServers when a server
	// is added without a config.
	ErrMissingConfig = errors.New("mcphub: server config is required")
	// ErrUnknownServer is returned by CallServerTool for names outside the
	// config.
	ErrUnknownServer = errors.New("mcphub: unknown server")
	// ErrToolNotFound is returned by CallTool for names outside the toolset.
	ErrToolNotFound = errors.New("mcphub: tool not found")
)

// Options configures a Hub instance.
type Options struct {
	// ClientInfo identifies the hub to every server during initialization.
	// Defaults to {Name: "mcphub", Version: "1.0.0"}.
	ClientInfo *mcp.Implementation
	// Dialer opens sessions. Defaults to an SDKDialer.
	Dialer Dialer
	// ConnectTimeout bounds each connect attempt. Defaults to 30s.
	ConnectTimeout time.Duration
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// OnStatusChange receives every snapshot the hub publishes.
	OnStatusChange func(HubStatus)
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.ClientInfo == nil {
		opts.ClientInfo = &mcp.Implementation{Name: defaultClientName, Version: defaultClientVersion}
	} else {
		impl := *opts.ClientInfo
		opts.ClientInfo = &impl
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = &SDKDialer{Logger: opts.Logger}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	return opts
}

// NamedServer pairs a requested name with a config for AddServers. An empty
// Name falls back to "server".
type NamedServer struct {
	Name   string
	Config *ServerConfig
}

// Hub keeps exactly one Connection per configured server name and publishes
// an aggregate HubStatus whenever anything changes.
//
// Mutating methods apply their change synchronously (connections are created
// and removed before they return), then publish exactly one snapshot.
// Connections publish on their own when a connect finishes or a session drops.
type Hub struct {
	opts Options

	mu          sync.Mutex
	config      *ServerMap
	connections map[string]*Connection
	disposed    bool

	// batching is non-zero while a mutating method is applying changes;
	// connection callbacks fired meanwhile are folded into that method's
	// single notification.
	batching atomic.Int32

	notifyMu sync.Mutex
	version  atomic.Uint64

	subMu     sync.RWMutex
	subs      []subscriber
	nextSubID uint64
}

type subscriber struct {
	id uint64
	fn func(HubStatus)
}

// NewHub constructs a Hub and applies cfg, which may be nil.
func NewHub(cfg *ServerMap, opts *Options) *Hub {
	h := &Hub{
		opts:        opts.withDefaults(),
		config:      NewServerMap(),
		connections: make(map[string]*Connection),
	}
	if h.opts.OnStatusChange != nil {
		h.Subscribe(h.opts.OnStatusChange)
	}
	if cfg.Len() > 0 {
		h.UpdateConfig(cfg)
	}
	return h
}

// Subscribe registers fn for every published snapshot and returns a function
// that removes it. fn runs without hub locks held and may call back into the
// hub.
func (h *Hub) Subscribe(fn func(HubStatus)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	h.subMu.Lock()
	h.nextSubID++
	id := h.nextSubID
	h.subs = append(h.subs, subscriber{id: id, fn: fn})
	h.subMu.Unlock()
	return func() {
		h.subMu.Lock()
		h.subs = slices.DeleteFunc(h.subs, func(s subscriber) bool { return s.id == id })
		h.subMu.Unlock()
	}
}

// UpdateConfig makes next the declarative server set. Servers present in
// both maps get their connection updated (which decides between patching and
// reconnecting), new servers get a connection, and missing ones are disposed.
func (h *Hub) UpdateConfig(next *ServerMap) {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		h.opts.Logger.Debug("ignoring config update on disposed hub")
		return
	}
	h.applyLocked(next.Clone())
	h.mu.Unlock()
	h.notifyStatusChange()
}

// AddServer adds cfg under name, or under a suffixed variant ("name-1",
// "name-2", ...) when name is taken, and returns the name used.
func (h *Hub) AddServer(name string, cfg *ServerConfig) (string, error) {
	names, err := h.AddServers([]NamedServer{{Name: name, Config: cfg}})
	if err != nil {
		return "", err
	}
	return names[0], nil
}

// AddServers adds several servers in one pass. Names are made unique against
// the existing config and against each other.
func (h *Hub) AddServers(list []NamedServer) ([]string, error) {
	for _, s := range list {
		if s.Config == nil {
			return nil, ErrMissingConfig
		}
	}
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return nil, errors.New("mcphub: hub disposed")
	}
	next := h.config.Clone()
	names := make([]string, 0, len(list))
	for _, s := range list {
		base := s.Name
		if base == "" {
			base = defaultServerName
		}
		name := generateUniqueName(base, next.Has)
		next.Set(name, s.Config.Clone())
		names = append(names, name)
	}
	h.applyLocked(next)
	h.mu.Unlock()
	h.notifyStatusChange()
	return names, nil
}

// RemoveServer drops name from the config and disposes its connection.
func (h *Hub) RemoveServer(name string) {
	h.mu.Lock()
	if h.disposed || !h.config.Has(name) {
		h.mu.Unlock()
		h.opts.Logger.Debug("ignoring remove for unknown server", "server", name)
		return
	}
	next := h.config.Clone()
	next.Delete(name)
	h.applyLocked(next)
	h.mu.Unlock()
	h.notifyStatusChange()
}

// Start enables name.
func (h *Hub) Start(name string) {
	h.mutateServer("start", name, func(cfg *ServerConfig) { cfg.Disabled = false })
}

// Stop disables name, closing its session.
func (h *Hub) Stop(name string) {
	h.mutateServer("stop", name, func(cfg *ServerConfig) { cfg.Disabled = true })
}

// ToggleToolEnabled flips whether tool is listed in server's DisabledTools.
// This never reconnects.
func (h *Hub) ToggleToolEnabled(server, tool string) {
	h.mutateServer("toggle tool", server, func(cfg *ServerConfig) {
		if slices.Contains(cfg.DisabledTools, tool) {
			cfg.DisabledTools = slices.DeleteFunc(cfg.DisabledTools, func(t string) bool { return t == tool })
			return
		}
		cfg.DisabledTools = append(cfg.DisabledTools, tool)
	})
}

// SetToolEnabled enables or disables tool on server. Repeating a call leaves
// DisabledTools unchanged.
func (h *Hub) SetToolEnabled(server, tool string, enabled bool) {
	h.mutateServer("set tool", server, func(cfg *ServerConfig) {
		if enabled {
			cfg.DisabledTools = slices.DeleteFunc(cfg.DisabledTools, func(t string) bool { return t == tool })
			return
		}
		if !slices.Contains(cfg.DisabledTools, tool) {
			cfg.DisabledTools = append(cfg.DisabledTools, tool)
		}
	})
}

// Restart reconnects name regardless of whether its config changed.
func (h *Hub) Restart(name string) {
	h.mu.Lock()
	conn, ok := h.connections[name]
	if h.disposed || !ok {
		h.mu.Unlock()
		h.opts.Logger.Debug("ignoring restart for unknown server", "server", name)
		return
	}
	h.batching.Add(1)
	conn.Restart()
	h.batching.Add(-1)
	h.mu.Unlock()
	h.notifyStatusChange()
}

// Status builds the current aggregate snapshot without changing anything.
// Version is that of the most recent notification.
func (h *Hub) Status() HubStatus {
	h.mu.Lock()
	order := h.config.Names()
	statuses := make(map[string]ConnectionStatus, len(h.connections))
	for name, conn := range h.connections {
		statuses[name] = conn.Status()
	}
	h.mu.Unlock()

	st := BuildStatus(order, statuses)
	st.Version = h.version.Load()
	return st
}

// ConnectionStatus returns the status of one server.
func (h *Hub) ConnectionStatus(name string) (ConnectionStatus, bool) {
	h.mu.Lock()
	conn, ok := h.connections[name]
	h.mu.Unlock()
	if !ok {
		return ConnectionStatus{}, false
	}
	return conn.Status(), true
}

// CurrentConfig returns a copy of the declarative config.
func (h *Hub) CurrentConfig() *ServerMap {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.config.Clone()
}

// ServerNames returns the configured names in config order.
func (h *Hub) ServerNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.config.Names()
}

// CallTool invokes a tool from the current toolset. The call goes straight to
// the session the tool was listed from.
func (h *Hub) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	tool, ok := h.Status().Toolset[name]
	if !ok || tool.Execute == nil {
		return nil, fmt.Errorf("%w: %q", ErrToolNotFound, name)
	}
	return tool.Execute(ctx, args)
}

// CallServerTool invokes tool on a specific server, bypassing the collision
// resolution of the flat toolset. The server must be ready and the tool
// enabled.
func (h *Hub) CallServerTool(ctx context.Context, server, tool string, args any) (*mcp.CallToolResult, error) {
	st, ok := h.ConnectionStatus(server)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServer, server)
	}
	if st.Status != StateReady {
		return nil, fmt.Errorf("mcphub: server %q is %s", server, st.Status)
	}
	t, ok := st.Tools[tool]
	if !ok || t.Disabled || t.Execute == nil {
		return nil, fmt.Errorf("%w: %q on %q", ErrToolNotFound, tool, server)
	}
	return t.Execute(ctx, args)
}

// Dispose tears down every connection and publishes a final, empty snapshot.
// Sessions close in the background; use Close to wait for them.
func (h *Hub) Dispose() {
	if h.dispose() != nil {
		h.notifyStatusChange()
	}
}

// Close disposes the hub and waits until every session has closed or ctx is
// done.
func (h *Hub) Close(ctx context.Context) error {
	conns := h.dispose()
	if conns == nil {
		return nil
	}
	h.notifyStatusChange()
	var g errgroup.Group
	for _, conn := range conns {
		g.Go(func() error {
			if err := conn.Shutdown(ctx); err != nil {
				return fmt.Errorf("mcphub: close %q: %w", conn.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// dispose returns the disposed connections, or nil when the hub was
// already disposed.
func (h *Hub) dispose() []*Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return nil
	}
	h.disposed = true
	conns := make([]*Connection, 0, len(h.connections))
	for _, name := range h.config.Names() {
		if conn, ok := h.connections[name]; ok {
			conn.Dispose()
			conns = append(conns, conn)
		}
	}
	h.connections = make(map[string]*Connection)
	h.config = NewServerMap()
	return conns
}

func (h *Hub) mutateServer(op, name string, fn func(*ServerConfig)) {
	h.mu.Lock()
	cfg, ok := h.config.Get(name)
	if h.disposed || !ok {
		h.mu.Unlock()
		h.opts.Logger.Debug("ignoring "+op+" for unknown server", "server", name)
		return
	}
	cfg = cfg.Clone()
	fn(&cfg)
	next := h.config.Clone()
	next.Set(name, cfg)
	h.applyLocked(next)
	h.mu.Unlock()
	h.notifyStatusChange()
}

// applyLocked reconciles connections with next, which the hub takes
// ownership of.
func (h *Hub) applyLocked(next *ServerMap) {
	h.batching.Add(1)
	defer h.batching.Add(-1)

	for _, name := range h.config.Names() {
		if next.Has(name) {
			continue
		}
		if conn, ok := h.connections[name]; ok {
			conn.Dispose()
			delete(h.connections, name)
			h.opts.Logger.Debug("server removed", "server", name)
		}
	}
	for _, name := range next.Names() {
		cfg, _ := next.Get(name)
		if conn, ok := h.connections[name]; ok {
			conn.UpdateConfig(cfg)
			continue
		}
		h.connections[name] = NewConnection(name, cfg, ConnectionOptions{
			ClientInfo:     h.opts.ClientInfo,
			Dialer:         h.opts.Dialer,
			ConnectTimeout: h.opts.ConnectTimeout,
			Logger:         h.opts.Logger,
			OnStatusChange: h.connectionChanged,
		})
		h.opts.Logger.Debug("server added", "server", name)
	}
	h.config = next
}

func (h *Hub) connectionChanged() {
	if h.batching.Load() > 0 {
		return
	}
	h.notifyStatusChange()
}

// notifyStatusChange publishes one snapshot. Snapshots are built and
// numbered under notifyMu, so versions are handed out in build order.
func (h *Hub) notifyStatusChange() {
	h.notifyMu.Lock()
	st := h.Status()
	st.Version = h.version.Add(1)
	h.notifyMu.Unlock()

	h.subMu.RLock()
	subs := slices.Clone(h.subs)
	h.subMu.RUnlock()
	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					h.opts.Logger.Error("status subscriber panicked", "panic", r)
				}
			}()
			s.fn(st)
		}()
	}
}

// generateUniqueName returns base, or base with the first numeric suffix
// ("-1", "-2", ...) for which taken reports false.
func generateUniqueName(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !taken(candidate) {
			return candidate
		}
	}
}
