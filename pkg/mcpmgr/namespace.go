package mcpmgr

import "strings"

// Namespace generates the catalog identifiers for server tools.
// Implementations must be deterministic and collision-free for a given
// server/name pair.
type Namespace interface {
	// ToolName returns the catalog name of a server-local tool name.
	ToolName(server, tool string) string
	// LocalName strips any server prefix already present in name.
	LocalName(server, name string) string
}

// ServerPrefixNamespace prefixes every tool with the originating server name,
// separated by Separator (defaults to "_").
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "_"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) ToolName(server, tool string) string {
	return server + s.separator() + s.LocalName(server, tool)
}

// LocalName removes a leading "{server}{sep}" from name. Some servers emit
// tools that already carry their own prefix; normalizing here keeps catalog
// names from being prefixed twice.
func (s ServerPrefixNamespace) LocalName(server, name string) string {
	prefix := server + s.separator()
	if trimmed, ok := strings.CutPrefix(name, prefix); ok && trimmed != "" {
		return trimmed
	}
	return name
}
