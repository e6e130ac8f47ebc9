package mcphub

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	// ClientInfo is the identity advertised to the server.
	ClientInfo *mcp.Implementation
	Dialer     Dialer
	// ConnectTimeout bounds dialing plus the initial tool listing. Zero means
	// no limit beyond what the dialer imposes.
	ConnectTimeout time.Duration
	Logger         *slog.Logger
	// OnStatusChange is called, without locks held, after every state change
	// the connection makes, including ones it makes on its own.
	OnStatusChange func()
}

// Connection owns the session to one tool server, its cached tools, and its
// status. Methods never block on I/O: connects run in the background and
// their outcome is only observable through Status and OnStatusChange.
//
// Every connect attempt is tagged with an epoch. Teardown bumps the epoch, so
// an attempt that completes after a restart or Dispose finds itself stale,
// closes its session, and changes nothing.
type Connection struct {
	name       string
	clientInfo *mcp.Implementation
	dialer     Dialer
	timeout    time.Duration
	logger     *slog.Logger

	mu             sync.Mutex
	config         ServerConfig
	state          State
	errMsg         string
	tools          map[string]Tool
	session        Session
	epoch          uint64
	cancel         context.CancelFunc // ends the current attempt's session lifetime
	disposed       bool
	onStatusChange func()
	closeErr       error

	closing sync.WaitGroup
}

// NewConnection creates the connection for name. Unless cfg is disabled it
// starts connecting immediately.
func NewConnection(name string, cfg ServerConfig, opts ConnectionOptions) *Connection {
	if opts.Dialer == nil {
		opts.Dialer = &SDKDialer{Logger: opts.Logger}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Connection{
		name:           name,
		clientInfo:     opts.ClientInfo,
		dialer:         opts.Dialer,
		timeout:        opts.ConnectTimeout,
		logger:         opts.Logger,
		config:         cfg.Clone(),
		state:          StateStopped,
		onStatusChange: opts.OnStatusChange,
	}
	if !cfg.Disabled {
		c.mu.Lock()
		c.startLocked()
		c.mu.Unlock()
	}
	return c
}

// Name returns the server name the connection was created for.
func (c *Connection) Name() string { return c.name }

// Config returns a copy of the current configuration.
func (c *Connection) Config() ServerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Clone()
}

// Status returns the last known snapshot, even while a connect is in flight.
func (c *Connection) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := ConnectionStatus{Status: c.state, Error: c.errMsg}
	if len(c.tools) > 0 {
		st.Tools = maps.Clone(c.tools)
	}
	return st
}

// IsToolDisabled reports whether the current config hides the named tool.
func (c *Connection) IsToolDisabled(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.IsToolDisabled(name)
}

// UpdateConfig applies next. Disabling tears the session down; enabling or a
// transport change reconnects; anything else only re-evaluates which tools
// are disabled, leaving the live session untouched.
func (c *Connection) UpdateConfig(next ServerConfig) {
	next = next.Clone()
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	prev := c.config
	c.config = next
	var stale Session
	switch {
	case next.Disabled:
		if c.state != StateStopped {
			c.logger.Debug("stopping server", "server", c.name)
		}
		stale = c.teardownLocked()
		c.state = StateStopped
		c.errMsg = ""
	case prev.Disabled || ShouldRestartDueToConfigChanged(prev, next):
		stale = c.teardownLocked()
		c.startLocked()
	default:
		c.applyDisabledToolsLocked()
	}
	cb := c.onStatusChange
	c.mu.Unlock()

	c.closeAsync(stale)
	notify(cb)
}

// Restart tears down any session and reconnects regardless of config changes.
// A disabled connection stays stopped.
func (c *Connection) Restart() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	stale := c.teardownLocked()
	if c.config.Disabled {
		c.state = StateStopped
		c.errMsg = ""
	} else {
		c.startLocked()
	}
	cb := c.onStatusChange
	c.mu.Unlock()

	c.closeAsync(stale)
	notify(cb)
}

// Dispose cancels any in-flight connect, closes the session in the background
// and drops the status callback. Further calls on the connection are no-ops.
func (c *Connection) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	stale := c.teardownLocked()
	c.state = StateStopped
	c.errMsg = ""
	c.onStatusChange = nil
	c.mu.Unlock()

	c.closeAsync(stale)
}

// Shutdown disposes the connection and waits for its session to close.
func (c *Connection) Shutdown(ctx context.Context) error {
	c.Dispose()
	done := make(chan struct{})
	go func() {
		c.closing.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// teardownLocked invalidates the current epoch and detaches the session so
// the caller can close it outside the lock.
func (c *Connection) teardownLocked() Session {
	c.epoch++
	c.releaseLocked()
	s := c.session
	c.session = nil
	c.tools = nil
	return s
}

// releaseLocked cancels the lifetime of the current attempt's session.
func (c *Connection) releaseLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Connection) startLocked() {
	c.epoch++
	epoch := c.epoch
	life, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = StateStarting
	c.errMsg = ""
	c.logger.Debug("connecting server", "server", c.name, "transport", TransportOf(c.config.Transport))
	go c.connect(life, epoch, c.config.Clone())
}

// connect dials under a handshake context bounded by the connect timeout.
// The session itself lives on life, which only teardown or a failure
// cancels.
func (c *Connection) connect(life context.Context, epoch uint64, cfg ServerConfig) {
	ctx := life
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(life, c.timeout)
		defer cancel()
	}
	session, err := c.dialer.Dial(ctx, DialRequest{
		Server:            c.name,
		Config:            cfg,
		ClientInfo:        c.clientInfo,
		Lifetime:          life,
		OnToolListChanged: func() { go c.refreshTools(epoch) },
	})
	if err != nil {
		c.fail(epoch, err)
		return
	}
	listed, err := session.ListTools(ctx)
	if err != nil {
		_ = session.Close()
		c.fail(epoch, err)
		return
	}

	c.mu.Lock()
	if c.epoch != epoch || c.disposed {
		c.mu.Unlock()
		_ = session.Close()
		return
	}
	c.session = session
	c.tools = c.buildToolsLocked(session, listed)
	c.state = StateReady
	c.errMsg = ""
	cb := c.onStatusChange
	c.mu.Unlock()

	c.logger.Info("server ready", "server", c.name, "tools", len(listed))
	go c.watch(epoch, session)
	notify(cb)
}

// watch turns an unsolicited session end into the error state.
func (c *Connection) watch(epoch uint64, session Session) {
	waitErr := session.Wait()

	c.mu.Lock()
	if c.epoch != epoch || c.disposed || c.session != session {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.tools = nil
	c.releaseLocked()
	c.state = StateError
	c.errMsg = "connection closed"
	if msg, ok := ReadableError(waitErr); ok {
		c.errMsg = msg
	}
	cb := c.onStatusChange
	c.mu.Unlock()

	c.logger.Warn("server session closed", "server", c.name, "error", waitErr)
	notify(cb)
}

func (c *Connection) refreshTools(epoch uint64) {
	c.mu.Lock()
	session := c.session
	if c.epoch != epoch || c.disposed || session == nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	listed, err := session.ListTools(ctx)
	if err != nil {
		c.logger.Warn("refresh tools", "server", c.name, "error", err)
		return
	}

	c.mu.Lock()
	if c.epoch != epoch || c.disposed || c.session != session {
		c.mu.Unlock()
		return
	}
	c.tools = c.buildToolsLocked(session, listed)
	cb := c.onStatusChange
	c.mu.Unlock()

	c.logger.Debug("tools refreshed", "server", c.name, "tools", len(listed))
	notify(cb)
}

func (c *Connection) fail(epoch uint64, err error) {
	c.mu.Lock()
	if c.epoch != epoch || c.disposed {
		c.mu.Unlock()
		return
	}
	c.state = StateError
	c.errMsg, _ = ReadableError(err)
	c.tools = nil
	c.releaseLocked()
	cb := c.onStatusChange
	c.mu.Unlock()

	c.logger.Warn("server connect failed", "server", c.name, "error", err)
	notify(cb)
}

func (c *Connection) buildToolsLocked(session Session, listed []*mcp.Tool) map[string]Tool {
	tools := make(map[string]Tool, len(listed))
	for _, t := range listed {
		if t == nil {
			continue
		}
		name := t.Name
		tools[name] = Tool{
			Server:      c.name,
			Name:        name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Disabled:    c.config.IsToolDisabled(name),
			Execute: func(ctx context.Context, args any) (*mcp.CallToolResult, error) {
				return session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
			},
		}
	}
	return tools
}

func (c *Connection) applyDisabledToolsLocked() {
	if len(c.tools) == 0 {
		return
	}
	patched := make(map[string]Tool, len(c.tools))
	for name, tool := range c.tools {
		tool.Disabled = c.config.IsToolDisabled(name)
		patched[name] = tool
	}
	c.tools = patched
}

func (c *Connection) closeAsync(s Session) {
	if s == nil {
		return
	}
	c.closing.Add(1)
	go func() {
		defer c.closing.Done()
		if err := s.Close(); err != nil {
			c.logger.Debug("close session", "server", c.name, "error", err)
			c.mu.Lock()
			c.closeErr = errors.Join(c.closeErr, err)
			c.mu.Unlock()
		}
	}()
}

func notify(cb func()) {
	if cb != nil {
		cb()
	}
}
