package mcphub

// Lightweight helpers for narrowing and inspecting Transport values without
// forcing consumers to use a type switch at every call site.

// ConfigTransport identifies the transport family used by a ServerConfig.
type ConfigTransport string

const (
	TransportStdio ConfigTransport = "stdio"
	TransportHTTP  ConfigTransport = "http"
)

// TransportOf returns the transport kind for a Transport.
// Returns an empty string when the value is nil.
func TransportOf(t Transport) ConfigTransport {
	if t == nil {
		return ""
	}
	switch v := t.(type) {
	case *StdioTransport:
		if v == nil {
			return ""
		}
	case *HTTPTransport:
		if v == nil {
			return ""
		}
	}
	return t.transportKind()
}

// IsStdio reports whether t is a non-nil *StdioTransport.
func IsStdio(t Transport) bool {
	c, ok := t.(*StdioTransport)
	return ok && c != nil
}

// IsHTTP reports whether t is a non-nil *HTTPTransport.
func IsHTTP(t Transport) bool {
	c, ok := t.(*HTTPTransport)
	return ok && c != nil
}

// AsStdio narrows t to *StdioTransport, returning (nil, false) when it
// does not match.
func AsStdio(t Transport) (*StdioTransport, bool) {
	c, ok := t.(*StdioTransport)
	if !ok || c == nil {
		return nil, false
	}
	return c, true
}

// AsHTTP narrows t to *HTTPTransport, returning (nil, false) when it
// does not match.
func AsHTTP(t Transport) (*HTTPTransport, bool) {
	c, ok := t.(*HTTPTransport)
	if !ok || c == nil {
		return nil, false
	}
	return c, true
}

// IsStdioTransport reports whether cfg launches a subprocess, i.e. a command
// is present.
func IsStdioTransport(cfg ServerConfig) bool {
	c, ok := AsStdio(cfg.Transport)
	return ok && c.Command != ""
}

// IsHTTPTransport reports whether cfg dials a URL and carries no command.
func IsHTTPTransport(cfg ServerConfig) bool {
	c, ok := AsHTTP(cfg.Transport)
	return ok && c.URL != ""
}
