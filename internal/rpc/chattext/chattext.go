// Package chattext shapes untrusted remote text for chat replies.
package chattext

import (
	"strings"
	"unicode/utf8"
)

const (
	StatusMax = 150 // endpoint status strings
	ErrorMax  = 300 // invocation error replies

	ellipsis = "..."
)

var newlines = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\n`)

// Clip escapes newlines and truncates s to at most max runes.
func Clip(s string, max int) string {
	s = newlines.Replace(strings.TrimSpace(s))
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	keep := max - len(ellipsis)
	if keep < 0 {
		keep = 0
	}
	n := 0
	for i := range s {
		if n == keep {
			return s[:i] + ellipsis
		}
		n++
	}
	return s
}
