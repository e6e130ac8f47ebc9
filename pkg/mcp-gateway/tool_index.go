package mcpgateway

import (
	"cmp"
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/vikashloomba/mcp-client-hub-go/pkg/mcphub"
)

const (
	metaKeyServerID   = "mcphub.server"
	metaKeyNativeName = "mcphub.native_name"
)

type toolTarget struct {
	GatewayName string
	ServerID    string
	NativeName  string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target toolTarget
}

type indexedTool struct {
	target      toolTarget
	fingerprint string
}

// toolIndex remembers what the gateway server currently advertises so each
// hub snapshot turns into a minimal remove/add diff.
type toolIndex struct {
	ns NamespaceStrategy

	mu      sync.RWMutex
	tools   map[string]indexedTool
	version uint64
	applied bool
}

func newToolIndex(ns NamespaceStrategy) *toolIndex {
	return &toolIndex{ns: ns, tools: make(map[string]indexedTool)}
}

// Update diffs st against the registered tools. A snapshot whose version is
// not newer than the last applied one is stale and changes nothing.
func (x *toolIndex) Update(st mcphub.HubStatus) (removed []string, added []toolRegistration, stale bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.applied && st.Version <= x.version {
		return nil, nil, true
	}
	x.applied = true
	x.version = st.Version

	next := make(map[string]indexedTool)
	for _, exp := range x.ns.Expose(st) {
		target := toolTarget{GatewayName: exp.Name, ServerID: exp.Tool.Server, NativeName: exp.Tool.Name}
		tool := buildTool(exp.Name, exp.Tool)
		entry := indexedTool{target: target, fingerprint: fingerprint(target, tool)}
		next[exp.Name] = entry
		if prev, ok := x.tools[exp.Name]; ok && prev.fingerprint == entry.fingerprint {
			continue
		}
		added = append(added, toolRegistration{Tool: tool, Target: target})
	}
	for name := range x.tools {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	x.tools = next

	slices.Sort(removed)
	slices.SortFunc(added, func(a, b toolRegistration) int {
		return cmp.Compare(a.Target.GatewayName, b.Target.GatewayName)
	})
	return removed, added, false
}

func (x *toolIndex) ToolTarget(name string) (toolTarget, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	t, ok := x.tools[name]
	return t.target, ok
}

// Names returns the advertised tool names, sorted.
func (x *toolIndex) Names() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return slices.Sorted(maps.Keys(x.tools))
}

func buildTool(gatewayName string, tool mcphub.Tool) *mcp.Tool {
	return &mcp.Tool{
		Name:        gatewayName,
		Description: tool.Description,
		InputSchema: objectSchema(tool.InputSchema),
		Meta: map[string]any{
			metaKeyServerID:   tool.Server,
			metaKeyNativeName: tool.Name,
		},
	}
}

// objectSchema converts an upstream input schema to one the server accepts:
// registration requires a schema of type "object".
func objectSchema(raw any) *jsonschema.Schema {
	schema := &jsonschema.Schema{}
	if raw != nil {
		data, err := json.Marshal(raw)
		if err != nil || json.Unmarshal(data, schema) != nil {
			schema = &jsonschema.Schema{}
		}
	}
	switch {
	case len(schema.Types) > 0:
		return &jsonschema.Schema{Type: "object"}
	case schema.Type == "":
		schema.Type = "object"
	case schema.Type != "object":
		return &jsonschema.Schema{Type: "object"}
	}
	return schema
}

func fingerprint(target toolTarget, tool *mcp.Tool) string {
	schema, _ := json.Marshal(tool.InputSchema)
	return target.ServerID + "\x00" + target.NativeName + "\x00" + tool.Description + "\x00" + string(schema)
}
