package mcphub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/mcp-protocol/schema"
)

func newConnectedCoordinator(t *testing.T) *Coordinator {
	clients := map[string]*fakeClient{
		"files":  newFakeClient(schema.Tool{Name: "file_read"}, schema.Tool{Name: "file_write"}),
		"search": newFakeClient(schema.Tool{Name: "web_search"}, schema.Tool{Name: "file_index"}),
	}
	coordinator := New(WithClientFactory(specFactory(clients, nil)), WithPollInterval(5*time.Millisecond))
	t.Cleanup(func() { coordinator.StopAll(context.Background()) })
	_, err := coordinator.StartAllAndWait(context.Background(), []*ServerSpec{
		NewStdioSpec("files", "files-server"),
		NewStdioSpec("search", "search-server"),
	})
	assert.Nil(t, err)
	return coordinator
}

func toolNames(tools []ServerTool) []string {
	var ret []string
	for _, tool := range tools {
		ret = append(ret, tool.ServerID+"/"+tool.Tool.Name)
	}
	return ret
}

func TestCoordinator_Tools(t *testing.T) {
	coordinator := newConnectedCoordinator(t)
	testCases := []struct {
		description string
		filter      ToolFilter
		expect      []string
	}{
		{
			description: "nil filter selects everything",
			expect:      []string{"files/file_read", "files/file_write", "search/web_search", "search/file_index"},
		},
		{
			description: "glob on tool name",
			filter:      MatchPattern("file_*"),
			expect:      []string{"files/file_read", "files/file_write", "search/file_index"},
		},
		{
			description: "server-scoped glob",
			filter:      MatchPattern("files/file_*"),
			expect:      []string{"files/file_read", "files/file_write"},
		},
		{
			description: "and",
			filter:      And(MatchPattern("file_*"), Not(MatchPattern("*_write"))),
			expect:      []string{"files/file_read", "search/file_index"},
		},
		{
			description: "or",
			filter:      Or(MatchPattern("web_*"), MatchPattern("*_write")),
			expect:      []string{"files/file_write", "search/web_search"},
		},
		{
			description: "named",
			filter:      Named("file_read", "web_search"),
			expect:      []string{"files/file_read", "search/web_search"},
		},
		{
			description: "no match",
			filter:      MatchPattern("database_*"),
			expect:      nil,
		},
	}
	for _, testCase := range testCases {
		actual := coordinator.Tools(testCase.filter)
		assert.EqualValues(t, testCase.expect, toolNames(actual), testCase.description)
	}
}
