package mcpgateway

import (
	"encoding/json"
	"maps"
	"reflect"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-toolserver-manager-go/pkg/mcpmgr"
)

const (
	metaKeyServerID   = "mcpgateway.server_id"
	metaKeyNativeName = "mcpgateway.native_name"
)

var defaultInputSchema = json.RawMessage(`{"type":"object"}`)

// toolIndex tracks which catalog entries are currently registered on the
// gateway's MCP server.
type toolIndex struct {
	mu         sync.Mutex
	registered map[string]mcpmgr.CatalogEntry
}

type toolTarget struct {
	GatewayName string
	ServerID    string
	// LocalName is the server-local name accepted by Manager.ExecuteTool.
	LocalName string
}

type toolRegistration struct {
	Tool   *mcp.Tool
	Target toolTarget
}

func newToolIndex() *toolIndex {
	return &toolIndex{registered: make(map[string]mcpmgr.CatalogEntry)}
}

// Update reconciles the registered set with the catalog. Entries that
// vanished or changed are returned in removed; new or changed ones in added.
func (f *toolIndex) Update(catalog map[string]mcpmgr.CatalogEntry) (removed []string, added []toolRegistration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for name, prev := range f.registered {
		next, ok := catalog[name]
		if !ok || !reflect.DeepEqual(prev, next) {
			removed = append(removed, name)
			delete(f.registered, name)
		}
	}
	for name, entry := range catalog {
		if _, ok := f.registered[name]; ok {
			continue
		}
		f.registered[name] = entry
		added = append(added, toolRegistration{
			Tool: gatewayTool(entry),
			Target: toolTarget{
				GatewayName: name,
				ServerID:    entry.Server,
				LocalName:   entry.OriginalName,
			},
		})
	}
	return removed, added
}

// Reset forgets every registration and returns the names that were
// registered.
func (f *toolIndex) Reset() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.registered))
	for name := range f.registered {
		names = append(names, name)
	}
	f.registered = make(map[string]mcpmgr.CatalogEntry)
	return names
}

func (f *toolIndex) ToolTarget(name string) (toolTarget, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.registered[name]
	if !ok {
		return toolTarget{}, false
	}
	return toolTarget{GatewayName: name, ServerID: entry.Server, LocalName: entry.OriginalName}, true
}

func gatewayTool(entry mcpmgr.CatalogEntry) *mcp.Tool {
	return &mcp.Tool{
		Name:        entry.Name,
		Description: entry.Tool.Description,
		InputSchema: inputSchemaOf(entry.Tool.InputSchema),
		Meta: withMeta(entry.Tool.Meta, map[string]any{
			metaKeyServerID:   entry.Server,
			metaKeyNativeName: entry.Tool.NativeName,
		}),
	}
}

// inputSchemaOf returns schema when it describes an object and a bare object
// schema otherwise; the server rejects tools without one.
func inputSchemaOf(schema any) any {
	switch s := schema.(type) {
	case nil:
		return defaultInputSchema
	case map[string]any:
		if s["type"] != "object" {
			return defaultInputSchema
		}
	case json.RawMessage:
		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(s, &probe) != nil || probe.Type != "object" {
			return defaultInputSchema
		}
	}
	return schema
}

func withMeta(base map[string]any, extras map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range extras {
		out[k] = v
	}
	return out
}
