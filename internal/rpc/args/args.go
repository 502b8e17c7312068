// Package args implements the trailing " --key value" grammar shared by
// command matching, invocation and the raw/explain operator paths.
package args

import (
	"sort"
	"strings"
)

const (
	marker = " --"
	// True is the value recorded for a flag that has no value.
	True = "true"
)

// Extract splits text into the part before any trailing flags and the flags themselves.
//
// Spans are consumed right to left. A key repeated in text keeps the value of its
// leftmost occurrence. Values run to the end of their span and may contain spaces.
func Extract(text string) (string, map[string]string) {
	flags := map[string]string{}
	for {
		i := strings.LastIndex(text, marker)
		if i < 0 {
			return text, flags
		}
		span := text[i+len(marker):]
		text = text[:i]

		key, value, ok := strings.Cut(span, " ")
		if !ok {
			value = True
		}
		flags[key] = value
	}
}

// MatcherSuffix is one optional trailing flag span. Compiled commands repeat it with "*".
func MatcherSuffix() string { return `(?: --.+?)` }

// Format renders flags back to " --k v" form with keys sorted. A value equal
// to True renders as a bare flag.
func Format(flags map[string]string) string {
	if len(flags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(marker)
		b.WriteString(k)
		if v := flags[k]; v != True {
			b.WriteByte(' ')
			b.WriteString(v)
		}
	}
	return b.String()
}
