package transport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanEvents(t *testing.T) {
	var testCases = []struct {
		description string
		input       string
		expect      []string
	}{
		{
			description: "single event",
			input:       "data: {\"id\":1}\n\n",
			expect:      []string{`{"id":1}`},
		},
		{
			description: "multiple events",
			input:       "data: first\n\ndata: second\n\n",
			expect:      []string{"first", "second"},
		},
		{
			description: "multi-line data joined with newline",
			input:       "data: line1\ndata: line2\n\n",
			expect:      []string{"line1\nline2"},
		},
		{
			description: "non-data fields ignored",
			input:       "event: message\nid: 7\ndata: payload\nretry: 100\n\n",
			expect:      []string{"payload"},
		},
		{
			description: "unterminated trailing block still flushed",
			input:       "data: tail",
			expect:      []string{"tail"},
		},
		{
			description: "no space after colon",
			input:       "data:compact\n\n",
			expect:      []string{"compact"},
		},
		{
			description: "empty stream",
			input:       "",
			expect:      nil,
		},
	}

	for _, testCase := range testCases {
		var actual []string
		err := scanEvents(strings.NewReader(testCase.input), func(event []byte) {
			actual = append(actual, string(event))
		})
		assert.Nil(t, err, testCase.description)
		assert.EqualValues(t, testCase.expect, actual, testCase.description)
	}
}
