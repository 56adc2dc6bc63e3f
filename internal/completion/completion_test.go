package completion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		marker string
		want   bool
	}{
		{name: "exact", text: "<promise>COMPLETE</promise>", marker: "COMPLETE", want: true},
		{name: "surrounding text", text: "all done.\n<promise>COMPLETE</promise>\nbye", marker: "COMPLETE", want: true},
		{name: "case insensitive marker", text: "<promise>complete</promise>", marker: "COMPLETE", want: true},
		{name: "case insensitive tags", text: "<PROMISE>COMPLETE</Promise>", marker: "COMPLETE", want: true},
		{name: "inner whitespace", text: "<promise>\n  COMPLETE \t</promise>", marker: "COMPLETE", want: true},
		{name: "missing tags", text: "COMPLETE", marker: "COMPLETE", want: false},
		{name: "different marker", text: "<promise>DONE</promise>", marker: "COMPLETE", want: false},
		{name: "marker with extra words", text: "<promise>NOT COMPLETE</promise>", marker: "COMPLETE", want: false},
		{name: "unclosed tag", text: "<promise>COMPLETE", marker: "COMPLETE", want: false},
		{name: "empty marker", text: "<promise></promise>", marker: "", want: false},
		{name: "blank marker", text: "<promise>   </promise>", marker: "  ", want: false},
		{name: "empty text", text: "", marker: "COMPLETE", want: false},
		{name: "multi word marker", text: "<promise>ALL TESTS PASS</promise>", marker: "all tests pass", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.text, tt.marker))
		})
	}
}

func TestMatches_MarkerIsLiteral(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		marker string
		want   bool
	}{
		{name: "dot matches itself", text: "<promise>a.b</promise>", marker: "a.b", want: true},
		{name: "dot is not a wildcard", text: "<promise>axb</promise>", marker: "a.b", want: false},
		{name: "star is literal", text: "<promise>a.b*c</promise>", marker: "a.b*c", want: true},
		{name: "star does not repeat", text: "<promise>a.bbbc</promise>", marker: "a.b*c", want: false},
		{name: "plus is literal", text: "<promise>C++</promise>", marker: "C++", want: true},
		{name: "plus does not repeat", text: "<promise>CCC</promise>", marker: "C++", want: false},
		{name: "brackets", text: "<promise>[done]</promise>", marker: "[done]", want: true},
		{name: "character class not applied", text: "<promise>d</promise>", marker: "[done]", want: false},
		{name: "anchors and groups", text: "<promise>^(x|y)$</promise>", marker: "^(x|y)$", want: true},
		{name: "backslash", text: `<promise>a\d</promise>`, marker: `a\d`, want: true},
		{name: "backslash not escape", text: "<promise>a1</promise>", marker: `a\d`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.text, tt.marker))
		})
	}
}

func TestTag(t *testing.T) {
	assert.Equal(t, "<promise>COMPLETE</promise>", Tag("COMPLETE"))
	assert.True(t, Matches(Tag("a.b*c"), "a.b*c"))
}

func TestExtract(t *testing.T) {
	text := "first <promise> ONE </promise> then <promise>two\nlines</promise> and <promise>"
	assert.Equal(t, []string{"ONE", "two\nlines"}, Extract(text))
	assert.Empty(t, Extract("no tags here"))
}
