// Package mcpgateway serves the toolset of an mcphub.Hub as a single
// Streamable MCP server. Downstream clients connect to one endpoint; every
// snapshot the hub publishes is diffed into tool registrations, and calls are
// forwarded to the server the tool was listed from.
package mcpgateway
