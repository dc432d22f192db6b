package mcpmgr

import (
	"cmp"
	"maps"
	"slices"
	"sync"
)

// CatalogEntry is one tool in the merged catalog.
type CatalogEntry struct {
	// Name is the namespaced catalog name.
	Name         string `json:"name"`
	Server       string `json:"server"`
	OriginalName string `json:"originalName"`
	Tool         Tool   `json:"tool"`
}

// Catalog is the merged, namespaced view of tools across connected servers.
// Readers always observe a complete tool set for each server: registration
// swaps a server's tools and rebuilds the merged map before publishing it.
type Catalog struct {
	ns Namespace

	mu      sync.RWMutex
	seq     uint64
	servers map[string]serverTools
	merged  map[string]CatalogEntry
}

type serverTools struct {
	seq   uint64
	tools map[string]Tool
}

func newCatalog(ns Namespace) *Catalog {
	return &Catalog{
		ns:      ns,
		servers: make(map[string]serverTools),
		merged:  make(map[string]CatalogEntry),
	}
}

// AllTools returns the merged catalog keyed by namespaced name.
func (c *Catalog) AllTools() map[string]CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.merged)
}

// Entries returns the merged catalog sorted by namespaced name.
func (c *Catalog) Entries() []CatalogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := slices.Collect(maps.Values(c.merged))
	slices.SortFunc(entries, func(a, b CatalogEntry) int { return cmp.Compare(a.Name, b.Name) })
	return entries
}

// ToolsForServer returns the unprefixed tool map of one connected server.
// The map is empty when the server is unknown or not connected.
func (c *Catalog) ToolsForServer(server string) map[string]Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.servers[server]
	if !ok {
		return map[string]Tool{}
	}
	return maps.Clone(set.tools)
}

// Lookup resolves a namespaced name.
func (c *Catalog) Lookup(name string) (CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.merged[name]
	return entry, ok
}

// Len returns the number of entries in the merged catalog.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.merged)
}

// register replaces the tool set of server.
func (c *Catalog) register(server string, tools map[string]Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.servers[server] = serverTools{seq: c.seq, tools: maps.Clone(tools)}
	c.rebuildLocked()
}

func (c *Catalog) remove(server string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.servers[server]; !ok {
		return false
	}
	delete(c.servers, server)
	c.rebuildLocked()
	return true
}

func (c *Catalog) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers = make(map[string]serverTools)
	c.merged = make(map[string]CatalogEntry)
}

// rebuildLocked publishes a fresh merged map. Servers are applied in
// registration order so the most recent registration wins a name collision.
func (c *Catalog) rebuildLocked() {
	names := slices.Collect(maps.Keys(c.servers))
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Compare(c.servers[a].seq, c.servers[b].seq)
	})
	merged := make(map[string]CatalogEntry)
	for _, server := range names {
		for local, tool := range c.servers[server].tools {
			name := c.ns.ToolName(server, local)
			merged[name] = CatalogEntry{
				Name:         name,
				Server:       server,
				OriginalName: local,
				Tool:         tool,
			}
		}
	}
	c.merged = merged
}
