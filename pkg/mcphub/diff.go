package mcphub

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
)

// CheckURLIsSSEServer guesses, before dialing, whether raw points at a legacy
// SSE endpoint: true iff the URL parses and its path contains "sse"
// (case-sensitive). The query string is ignored. A host:port without a
// scheme, such as "localhost:3000/sse", parses as an opaque URL whose path
// follows the port, and is checked the same way.
func CheckURLIsSSEServer(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return false
	}
	if u.Opaque != "" {
		return strings.Contains(u.Opaque, "sse")
	}
	return strings.Contains(u.Path, "sse")
}

// ShouldRestartDueToConfigChanged reports whether moving from prev to next
// needs a fresh session. Only transport fields count; Disabled and
// DisabledTools are patched in place.
func ShouldRestartDueToConfigChanged(prev, next ServerConfig) bool {
	kind := TransportOf(prev.Transport)
	if kind != TransportOf(next.Transport) {
		return true
	}
	if kind == "" {
		return false
	}
	switch a := prev.Transport.(type) {
	case *StdioTransport:
		b := next.Transport.(*StdioTransport)
		return a.Command != b.Command ||
			a.Cwd != b.Cwd ||
			!slices.Equal(a.Args, b.Args) ||
			!maps.Equal(a.Env, b.Env)
	case *HTTPTransport:
		b := next.Transport.(*HTTPTransport)
		return a.URL != b.URL || !maps.Equal(a.Headers, b.Headers)
	}
	return false
}

// ReadableError normalizes an arbitrary failure value to a message. Errors
// yield their message and other values their JSON encoding (so a typed nil
// becomes "null"). An untyped nil reports ok=false.
func ReadableError(v any) (msg string, ok bool) {
	switch e := v.(type) {
	case nil:
		return "", false
	case error:
		return e.Error(), true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v), true
	}
	return string(data), true
}
