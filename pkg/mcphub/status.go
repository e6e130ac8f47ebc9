package mcphub

import (
	"context"
	"maps"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// State is the lifecycle position of a Connection.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateError    State = "error"
)

// ToolFunc invokes a tool on the session it was listed from.
type ToolFunc func(ctx context.Context, args any) (*mcp.CallToolResult, error)

// Tool describes one tool advertised by a server. Disabled reflects the
// server's DisabledTools at the time the snapshot was taken.
type Tool struct {
	Server      string   `json:"server"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	InputSchema any      `json:"inputSchema,omitempty"`
	Disabled    bool     `json:"disabled"`
	Execute     ToolFunc `json:"-"`
}

// ConnectionStatus is a point-in-time view of one Connection.
type ConnectionStatus struct {
	Status State           `json:"status"`
	Error  string          `json:"error,omitempty"`
	Tools  map[string]Tool `json:"tools,omitempty"`
}

// HubStatus is the aggregate view handed to subscribers. Version grows with
// every snapshot the hub builds, so a subscriber receiving deliveries from
// several goroutines can drop the stale ones.
type HubStatus struct {
	Version     uint64                      `json:"version"`
	Servers     []string                    `json:"servers"`
	Connections map[string]ConnectionStatus `json:"connections"`
	Toolset     map[string]Tool             `json:"toolset"`
}

// BuildStatus merges per-connection statuses, visited in order, into one
// snapshot. Tools from ready connections that are not disabled are flattened
// into a single namespace; on a name clash the later server wins.
func BuildStatus(order []string, statuses map[string]ConnectionStatus) HubStatus {
	out := HubStatus{
		Servers:     append([]string(nil), order...),
		Connections: make(map[string]ConnectionStatus, len(order)),
		Toolset:     make(map[string]Tool),
	}
	for _, name := range order {
		st, ok := statuses[name]
		if !ok {
			continue
		}
		out.Connections[name] = st.clone()
		if st.Status != StateReady {
			continue
		}
		for toolName, tool := range st.Tools {
			if tool.Disabled {
				continue
			}
			out.Toolset[toolName] = tool
		}
	}
	return out
}

func (s ConnectionStatus) clone() ConnectionStatus {
	s.Tools = maps.Clone(s.Tools)
	return s
}
