// Package mcphub keeps a declarative set of Model Context Protocol (MCP) tool
// servers connected from a single Go process and exposes their tools as one
// flat, always-current toolset.
//
// # Core entry points
//
//   - Hub is the long-lived orchestration type. Construct it with NewHub, then
//     drive it with UpdateConfig, AddServer / RemoveServer, Start / Stop,
//     Restart, and ToggleToolEnabled / SetToolEnabled.
//   - ServerConfig pairs a Transport (*StdioTransport or *HTTPTransport) with
//     a Customization (Disabled, DisabledTools). ServerMap keeps configs in
//     insertion order and round-trips through YAML and JSON; ParseServerMap
//     reads the usual {"mcpServers": {...}} documents.
//   - Connection owns one server's session. It reconnects only when the
//     transport changes and patches disabled tools in place otherwise.
//   - HubStatus is the aggregate snapshot delivered to Subscribe callbacks and
//     Options.OnStatusChange. Its Toolset maps tool names to Tool values whose
//     Execute calls the originating session directly.
//
// Sessions are opened by a Dialer. SDKDialer, the default, speaks stdio,
// Streamable HTTP and SSE through modelcontextprotocol/go-sdk; tests and
// embedders can substitute their own.
package mcphub
