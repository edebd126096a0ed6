// Package fragment pulls the behavior-tree XML document out of a raw
// completion. The XML is never parsed; it is located by pattern and
// returned as opaque text.
package fragment

import (
	"regexp"
	"strings"
)

// rootPattern matches the first <root ...>...</root> element, across lines.
// The opening tag may carry attributes such as BTCPP_format="4".
var rootPattern = regexp.MustCompile(`(?s)<root\b[^>]*>.*?</root>`)

// Extract returns the first <root>...</root> substring of raw, or raw
// unchanged when there is none. Extract(Extract(s)) == Extract(s).
func Extract(raw string) string {
	if m := rootPattern.FindString(raw); m != "" {
		return m
	}
	return raw
}

// Found reports whether raw contains a <root> element.
func Found(raw string) bool {
	return rootPattern.MatchString(raw)
}

// Unescape turns literal two-character "\n" sequences into line breaks.
func Unescape(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

// Clean is Extract followed by Unescape.
func Clean(raw string) string {
	return Unescape(Extract(raw))
}
