package mcphub

import (
	"sort"

	"github.com/viant/mcp-protocol/schema"
)

// ServerSnapshot is one server's point-in-time view.
type ServerSnapshot struct {
	ID    string
	Name  string
	State ConnectionState
	Tools []schema.Tool
}

// Snapshot captures every connection's state, sorted by id for stable
// output.
func (c *Coordinator) Snapshot() []ServerSnapshot {
	var ret []ServerSnapshot
	c.connections.Range(func(id string, connection *Connection) bool {
		ret = append(ret, ServerSnapshot{
			ID:    id,
			Name:  connection.Spec().DisplayName(),
			State: connection.State(),
			Tools: connection.Tools(),
		})
		return true
	})
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}
