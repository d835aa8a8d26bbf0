package mcphub

import (
	"path"

	"github.com/viant/mcp-protocol/schema"
)

// ToolFilter selects tools from the aggregated set.
type ToolFilter interface {
	Matches(serverID string, tool *schema.Tool) bool
}

// ToolFilterFunc adapts a function to ToolFilter.
type ToolFilterFunc func(serverID string, tool *schema.Tool) bool

func (f ToolFilterFunc) Matches(serverID string, tool *schema.Tool) bool {
	return f(serverID, tool)
}

// ServerTool pairs a tool with the server offering it.
type ServerTool struct {
	ServerID string
	Tool     schema.Tool
}

// Tools aggregates the cached tool lists of every connected server; a nil
// filter selects everything.
func (c *Coordinator) Tools(filter ToolFilter) []ServerTool {
	var ret []ServerTool
	for _, snapshot := range c.Snapshot() {
		for i := range snapshot.Tools {
			tool := snapshot.Tools[i]
			if filter != nil && !filter.Matches(snapshot.ID, &tool) {
				continue
			}
			ret = append(ret, ServerTool{ServerID: snapshot.ID, Tool: tool})
		}
	}
	return ret
}

// MatchPattern selects tools whose name matches a path-style glob,
// optionally scoped to one server ("serverID/pattern").
func MatchPattern(pattern string) ToolFilter {
	return ToolFilterFunc(func(serverID string, tool *schema.Tool) bool {
		if server, name, ok := splitScope(pattern); ok {
			if server != serverID {
				return false
			}
			return globMatch(name, tool.Name)
		}
		return globMatch(pattern, tool.Name)
	})
}

// Named selects tools by exact name, on any server.
func Named(names ...string) ToolFilter {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return ToolFilterFunc(func(serverID string, tool *schema.Tool) bool {
		return set[tool.Name]
	})
}

// And selects tools matching every filter.
func And(filters ...ToolFilter) ToolFilter {
	return ToolFilterFunc(func(serverID string, tool *schema.Tool) bool {
		for _, filter := range filters {
			if !filter.Matches(serverID, tool) {
				return false
			}
		}
		return true
	})
}

// Or selects tools matching any filter.
func Or(filters ...ToolFilter) ToolFilter {
	return ToolFilterFunc(func(serverID string, tool *schema.Tool) bool {
		for _, filter := range filters {
			if filter.Matches(serverID, tool) {
				return true
			}
		}
		return false
	})
}

// Not inverts a filter.
func Not(filter ToolFilter) ToolFilter {
	return ToolFilterFunc(func(serverID string, tool *schema.Tool) bool {
		return !filter.Matches(serverID, tool)
	})
}

func splitScope(pattern string) (server, name string, ok bool) {
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '/' {
			return pattern[:i], pattern[i+1:], true
		}
	}
	return "", "", false
}

func globMatch(pattern, name string) bool {
	matched, err := path.Match(pattern, name)
	return err == nil && matched
}
