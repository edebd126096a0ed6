package fragment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"surrounded", "blah <root><a/></root> blah", "<root><a/></root>"},
		{"no fragment", "I cannot help with that.", "I cannot help with that."},
		{"empty", "", ""},
		{
			"multiline with fence",
			"Here you go:\n```xml\n<root BTCPP_format=\"4\">\n  <BehaviorTree ID=\"Main\"/>\n</root>\n```",
			"<root BTCPP_format=\"4\">\n  <BehaviorTree ID=\"Main\"/>\n</root>",
		},
		{"first of two", "<root>1</root> and <root>2</root>", "<root>1</root>"},
		{"not a root tag", "<rootless>x</rootless>", "<rootless>x</rootless>"},
		{"unterminated", "<root><a/>", "<root><a/>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.in))
		})
	}
}

func TestExtract_Idempotent(t *testing.T) {
	inputs := []string{
		"blah <root><a/></root> blah",
		"no xml here",
		"<root>\n<x/>\n</root>\ntrailer <root>y</root>",
		"<root BTCPP_format=\"4\"><root-ish/></root>",
		"",
	}
	for _, in := range inputs {
		once := Extract(in)
		assert.Equal(t, once, Extract(once), "input %q", in)
	}
}

func TestFound(t *testing.T) {
	assert.True(t, Found("x <root></root> y"))
	assert.False(t, Found("plain"))
}

func TestUnescape(t *testing.T) {
	assert.Equal(t, "<root>\n<a/>\n</root>", Unescape(`<root>\n<a/>\n</root>`))
	assert.Equal(t, "already\nreal", Unescape("already\nreal"))
}

func TestClean(t *testing.T) {
	raw := `Sure! <root BTCPP_format="4">\n  <BehaviorTree ID="Patrol"/>\n</root> Enjoy.`
	assert.Equal(t, "<root BTCPP_format=\"4\">\n  <BehaviorTree ID=\"Patrol\"/>\n</root>", Clean(raw))
}
