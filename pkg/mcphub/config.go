package mcphub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"
)

// Transport describes how a tool server is reached. The only implementations
// are *StdioTransport and *HTTPTransport, so a config is never both.
type Transport interface {
	transportKind() ConfigTransport
}

// StdioTransport describes a tool server spawned as a subprocess speaking the
// line protocol over stdin/stdout.
type StdioTransport struct {
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
}

func (*StdioTransport) transportKind() ConfigTransport { return TransportStdio }

// HTTPTransport describes a tool server reachable over Streamable HTTP or SSE.
type HTTPTransport struct {
	URL     string
	Headers map[string]string
}

func (*HTTPTransport) transportKind() ConfigTransport { return TransportHTTP }

// Customization holds the per-server settings that never require a reconnect.
type Customization struct {
	Disabled      bool
	DisabledTools []string
}

// ServerConfig combines a transport payload with its customization.
type ServerConfig struct {
	Transport Transport
	Customization
}

// Clone returns a deep copy so callers can mutate the result freely.
func (c ServerConfig) Clone() ServerConfig {
	out := ServerConfig{Customization: Customization{
		Disabled:      c.Disabled,
		DisabledTools: slices.Clone(c.DisabledTools),
	}}
	switch t := c.Transport.(type) {
	case *StdioTransport:
		out.Transport = &StdioTransport{
			Command: t.Command,
			Args:    slices.Clone(t.Args),
			Cwd:     t.Cwd,
			Env:     maps.Clone(t.Env),
		}
	case *HTTPTransport:
		out.Transport = &HTTPTransport{URL: t.URL, Headers: maps.Clone(t.Headers)}
	}
	return out
}

// IsToolDisabled reports whether name is listed in DisabledTools.
func (c ServerConfig) IsToolDisabled(name string) bool {
	return slices.Contains(c.DisabledTools, name)
}

// wireServerConfig is the flat persisted shape: stdio fields and http fields
// side by side, intersected with the customization fields.
type wireServerConfig struct {
	Command       string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args          []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Cwd           string            `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Env           map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL           string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers       map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Disabled      bool              `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	DisabledTools []string          `json:"disabledTools,omitempty" yaml:"disabledTools,omitempty"`
}

func (w wireServerConfig) toConfig() (ServerConfig, error) {
	cfg := ServerConfig{Customization: Customization{
		Disabled:      w.Disabled,
		DisabledTools: w.DisabledTools,
	}}
	switch {
	case w.Command != "":
		cfg.Transport = &StdioTransport{Command: w.Command, Args: w.Args, Cwd: w.Cwd, Env: w.Env}
	case w.URL != "":
		cfg.Transport = &HTTPTransport{URL: w.URL, Headers: w.Headers}
	default:
		return ServerConfig{}, errors.New("mcphub: server config needs either command or url")
	}
	return cfg, nil
}

func (c ServerConfig) toWire() wireServerConfig {
	w := wireServerConfig{Disabled: c.Disabled, DisabledTools: c.DisabledTools}
	switch t := c.Transport.(type) {
	case *StdioTransport:
		w.Command, w.Args, w.Cwd, w.Env = t.Command, t.Args, t.Cwd, t.Env
	case *HTTPTransport:
		w.URL, w.Headers = t.URL, t.Headers
	}
	return w
}

// UnmarshalYAML decodes the flat persisted shape.
func (c *ServerConfig) UnmarshalYAML(value *yaml.Node) error {
	var w wireServerConfig
	if err := value.Decode(&w); err != nil {
		return err
	}
	cfg, err := w.toConfig()
	if err != nil {
		return err
	}
	*c = cfg
	return nil
}

// MarshalYAML encodes the flat persisted shape.
func (c ServerConfig) MarshalYAML() (any, error) {
	return c.toWire(), nil
}

// UnmarshalJSON decodes the flat persisted shape.
func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	var w wireServerConfig
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	cfg, err := w.toConfig()
	if err != nil {
		return err
	}
	*c = cfg
	return nil
}

// MarshalJSON encodes the flat persisted shape.
func (c ServerConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.toWire())
}

// ServerMap is an insertion-ordered map of server name to config. Iteration
// order matters: the hub flattens tools in this order and later servers win
// name collisions.
type ServerMap struct {
	names  []string
	byName map[string]ServerConfig
}

// NewServerMap returns an empty map.
func NewServerMap() *ServerMap {
	return &ServerMap{byName: make(map[string]ServerConfig)}
}

// Len returns the number of entries. A nil map is empty.
func (m *ServerMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.names)
}

// Names returns the keys in insertion order.
func (m *ServerMap) Names() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.names)
}

// Get returns the config registered under name.
func (m *ServerMap) Get(name string) (ServerConfig, bool) {
	if m == nil {
		return ServerConfig{}, false
	}
	cfg, ok := m.byName[name]
	return cfg, ok
}

// Has reports whether name is present.
func (m *ServerMap) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// Set stores cfg under name. Existing keys keep their position.
func (m *ServerMap) Set(name string, cfg ServerConfig) {
	if m.byName == nil {
		m.byName = make(map[string]ServerConfig)
	}
	if _, ok := m.byName[name]; !ok {
		m.names = append(m.names, name)
	}
	m.byName[name] = cfg
}

// Delete removes name, reporting whether it was present.
func (m *ServerMap) Delete(name string) bool {
	if m == nil {
		return false
	}
	if _, ok := m.byName[name]; !ok {
		return false
	}
	delete(m.byName, name)
	m.names = slices.DeleteFunc(m.names, func(n string) bool { return n == name })
	return true
}

// Clone deep-copies every entry.
func (m *ServerMap) Clone() *ServerMap {
	out := NewServerMap()
	if m == nil {
		return out
	}
	for _, name := range m.names {
		out.Set(name, m.byName[name].Clone())
	}
	return out
}

// UnmarshalYAML decodes a mapping node, preserving key order.
func (m *ServerMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("mcphub: server map must be a mapping, got yaml kind %d", value.Kind)
	}
	out := NewServerMap()
	for i := 0; i+1 < len(value.Content); i += 2 {
		name := value.Content[i].Value
		var cfg ServerConfig
		if err := value.Content[i+1].Decode(&cfg); err != nil {
			return fmt.Errorf("mcphub: server %q: %w", name, err)
		}
		out.Set(name, cfg)
	}
	*m = *out
	return nil
}

// MarshalYAML encodes the map as an ordered mapping node.
func (m *ServerMap) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range m.names {
		var val yaml.Node
		if err := val.Encode(m.byName[name]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: name}, &val)
	}
	return node, nil
}

// UnmarshalJSON decodes a JSON object token by token, preserving key order.
func (m *ServerMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("mcphub: server map must be a JSON object")
	}
	out := NewServerMap()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		var cfg ServerConfig
		if err := dec.Decode(&cfg); err != nil {
			return fmt.Errorf("mcphub: server %q: %w", name, err)
		}
		out.Set(name, cfg)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = *out
	return nil
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (m *ServerMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range m.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.byName[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ParseServerMap decodes a YAML or JSON document holding either a bare server
// map or one nested under "mcpServers". An explicit null "mcpServers" is an
// empty map.
func ParseServerMap(data []byte) (*ServerMap, error) {
	var wrapped struct {
		MCPServers yaml.Node `yaml:"mcpServers"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("mcphub: parse server map: %w", err)
	}
	out := NewServerMap()
	switch node := &wrapped.MCPServers; {
	case node.Kind == 0:
		if err := yaml.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("mcphub: parse server map: %w", err)
		}
	case node.Tag == "!!null":
	default:
		if err := node.Decode(out); err != nil {
			return nil, fmt.Errorf("mcphub: parse server map: %w", err)
		}
	}
	return out, nil
}
