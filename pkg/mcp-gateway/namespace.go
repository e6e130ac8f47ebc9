package mcpgateway

import (
	"fmt"

	"github.com/vikashloomba/mcp-client-hub-go/pkg/mcphub"
)

// NamespaceStrategy decides which hub tools the gateway exposes and under
// what names. Implementations must be deterministic for a given snapshot.
type NamespaceStrategy interface {
	Expose(st mcphub.HubStatus) []ExposedTool
}

// ExposedTool is one downstream tool and the upstream tool it forwards to.
type ExposedTool struct {
	Name string
	Tool mcphub.Tool
}

// FlatNamespace mirrors the hub's toolset: names are passed through and a
// later server shadows an earlier one on collisions.
type FlatNamespace struct{}

func (FlatNamespace) Expose(st mcphub.HubStatus) []ExposedTool {
	out := make([]ExposedTool, 0, len(st.Toolset))
	for name, tool := range st.Toolset {
		out = append(out, ExposedTool{Name: name, Tool: tool})
	}
	return out
}

// ServerPrefixNamespace prefixes every tool with its originating server,
// separating fields with a configurable delimiter (defaults to "__" to stay
// within the characters MCP allows in tool names). Nothing is shadowed.
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

// ToolName returns the downstream name of toolName on serverID.
func (s ServerPrefixNamespace) ToolName(serverID, toolName string) string {
	return fmt.Sprintf("%s%s%s", serverID, s.separator(), toolName)
}

func (s ServerPrefixNamespace) Expose(st mcphub.HubStatus) []ExposedTool {
	var out []ExposedTool
	for _, server := range st.Servers {
		conn, ok := st.Connections[server]
		if !ok || conn.Status != mcphub.StateReady {
			continue
		}
		for name, tool := range conn.Tools {
			if tool.Disabled {
				continue
			}
			out = append(out, ExposedTool{Name: s.ToolName(server, name), Tool: tool})
		}
	}
	return out
}
