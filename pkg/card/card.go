// Package card builds small plain-text status cards for chat replies.
package card

import "strings"

// Builder accumulates lines. The zero value is ready to use.
type Builder struct {
	lines []string
}

func New() *Builder { return &Builder{} }

// Title adds a heading line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	if e := strings.TrimSpace(emoji); e != "" {
		t = e + " " + t
	}
	b.lines = append(b.lines, t)
	return b
}

// Line adds one line as-is. Blank input adds an empty line.
func (b *Builder) Line(s string) *Builder {
	if strings.TrimSpace(s) == "" {
		s = ""
	}
	b.lines = append(b.lines, s)
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// Bullets adds one "• item" line per non-empty item.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			b.lines = append(b.lines, "• "+it)
		}
	}
	return b
}

// KV adds a "• key: value" row. An empty value renders the key alone.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return b
	}
	if value == "" {
		b.lines = append(b.lines, "• "+key)
		return b
	}
	b.lines = append(b.lines, "• "+key+": "+value)
	return b
}

// Indent adds s under the previous row.
func (b *Builder) Indent(s string) *Builder {
	if s = strings.TrimSpace(s); s != "" {
		b.lines = append(b.lines, "    "+s)
	}
	return b
}

// String joins the lines, trimming leading and trailing blank lines.
func (b *Builder) String() string {
	return strings.Trim(strings.Join(b.lines, "\n"), "\n")
}
