package mcphub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSession is an in-memory Session. Close ends it the way the hub would;
// drop ends it the way a crashing server would.
type fakeSession struct {
	server string

	mu                sync.Mutex
	tools             []*mcp.Tool
	calls             []*mcp.CallToolParams
	closed            bool
	waitErr           error
	onToolListChanged func()

	done     chan struct{}
	doneOnce sync.Once
}

func newFakeSession(server string, tools ...string) *fakeSession {
	s := &fakeSession{server: server, done: make(chan struct{})}
	s.setTools(tools...)
	return s
}

func (s *fakeSession) setTools(names ...string) {
	tools := make([]*mcp.Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, &mcp.Tool{
			Name:        name,
			Description: s.server + " " + name,
			InputSchema: map[string]any{"type": "object"},
		})
	}
	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
}

func (s *fakeSession) ListTools(context.Context) ([]*mcp.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("session closed")
	}
	return append([]*mcp.Tool(nil), s.tools...), nil
}

func (s *fakeSession) CallTool(_ context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("session closed")
	}
	s.calls = append(s.calls, params)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: s.server + ":" + params.Name}},
	}, nil
}

func (s *fakeSession) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

func (s *fakeSession) drop(err error) {
	s.mu.Lock()
	s.waitErr = err
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeSession) announceToolListChanged() {
	s.mu.Lock()
	fn := s.onToolListChanged
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// fakeDialer hands out fakeSessions advertising the tools registered for each
// server. While gate is set every Dial blocks until the gate closes.
type fakeDialer struct {
	mu       sync.Mutex
	tools    map[string][]string
	errs     map[string]error
	gate     chan struct{}
	dials    map[string]int
	sessions map[string][]*fakeSession
	requests []DialRequest
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		tools:    make(map[string][]string),
		errs:     make(map[string]error),
		dials:    make(map[string]int),
		sessions: make(map[string][]*fakeSession),
	}
}

func (d *fakeDialer) withTools(server string, tools ...string) *fakeDialer {
	d.mu.Lock()
	d.tools[server] = tools
	d.mu.Unlock()
	return d
}

func (d *fakeDialer) failWith(server string, err error) {
	d.mu.Lock()
	d.errs[server] = err
	d.mu.Unlock()
}

func (d *fakeDialer) hold() chan struct{} {
	gate := make(chan struct{})
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
	return gate
}

func (d *fakeDialer) Dial(ctx context.Context, req DialRequest) (Session, error) {
	d.mu.Lock()
	d.dials[req.Server]++
	d.requests = append(d.requests, req)
	gate := d.gate
	err := d.errs[req.Server]
	tools := d.tools[req.Server]
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	s := newFakeSession(req.Server, tools...)
	s.onToolListChanged = req.OnToolListChanged
	d.mu.Lock()
	d.sessions[req.Server] = append(d.sessions[req.Server], s)
	d.mu.Unlock()
	return s, nil
}

func (d *fakeDialer) dialCount(server string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[server]
}

func (d *fakeDialer) sessionsFor(server string) []*fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeSession(nil), d.sessions[server]...)
}

func (d *fakeDialer) lastRequest(t *testing.T) DialRequest {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.requests, "nothing dialed")
	return d.requests[len(d.requests)-1]
}

func (d *fakeDialer) lastSession(t *testing.T, server string) *fakeSession {
	t.Helper()
	sessions := d.sessionsFor(server)
	require.NotEmpty(t, sessions, "no session dialed for %s", server)
	return sessions[len(sessions)-1]
}

// statusRecorder collects every snapshot a hub publishes.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []HubStatus
}

func (r *statusRecorder) record(st HubStatus) {
	r.mu.Lock()
	r.statuses = append(r.statuses, st)
	r.mu.Unlock()
}

func (r *statusRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statuses)
}

func (r *statusRecorder) last() HubStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return HubStatus{}
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *statusRecorder) all() []HubStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HubStatus(nil), r.statuses...)
}

func stdio(command string, args ...string) ServerConfig {
	return ServerConfig{Transport: &StdioTransport{Command: command, Args: args}}
}

func waitForConnState(t *testing.T, c *Connection, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Status().Status == want
	}, waitFor, 5*time.Millisecond, "connection %s never reached %s (now %s)", c.Name(), want, c.Status().Status)
}

func waitForHubState(t *testing.T, h *Hub, server string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := h.ConnectionStatus(server)
		return ok && st.Status == want
	}, waitFor, 5*time.Millisecond, "server %s never reached %s", server, want)
}
