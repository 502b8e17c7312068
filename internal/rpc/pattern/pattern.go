// Package pattern compiles remote method patterns into anchored,
// case-insensitive chat matchers.
package pattern

import (
	"fmt"
	"regexp"
	"strings"

	"rpcbot/internal/rpc/args"
)

// InvocationPrefix matches the ways a user can address the bot: an optional "@",
// the name or alias, an optional ":" or ",", then optional whitespace.
func InvocationPrefix(name, alias string) string {
	name = regexp.QuoteMeta(strings.TrimSpace(name))
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return `\s*[@]?` + name + `[:,]?\s*`
	}
	return `\s*[@]?(?:` + regexp.QuoteMeta(alias) + `[:,]?|` + name + `[:,]?)\s*`
}

// Compile builds the matcher for one method.
//
// A single leading "^" and trailing "$" on source are dropped. The result only
// matches whole messages of the form <invocation><endpointPrefix> <source>[ --k v]*.
func Compile(source, invocationPrefix, endpointPrefix string) (*regexp.Regexp, error) {
	body := strings.TrimPrefix(source, "^")
	body = strings.TrimSuffix(body, "$")

	var b strings.Builder
	b.WriteString(`(?i)^`)
	b.WriteString(invocationPrefix)
	if endpointPrefix != "" {
		b.WriteString(regexp.QuoteMeta(endpointPrefix))
		b.WriteByte(' ')
	}
	// Grouped so top-level alternation in source stays inside the anchors.
	b.WriteString(`(?:`)
	b.WriteString(body)
	b.WriteString(`)`)
	b.WriteString(args.MatcherSuffix())
	b.WriteString(`*$`)

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", source, err)
	}
	return re, nil
}

// CompileHelp builds the per-endpoint help matcher. body is the endpoint
// prefix, or its namespace when it has none, and is matched literally.
func CompileHelp(body, invocationPrefix string) (*regexp.Regexp, error) {
	return Compile(regexp.QuoteMeta(body), invocationPrefix, "")
}

// Captures returns the named groups of re that participated in matching text.
// It returns nil when text does not match.
func Captures(re *regexp.Regexp, text string) map[string]string {
	idx := re.FindStringSubmatchIndex(text)
	if idx == nil {
		return nil
	}
	out := map[string]string{}
	for i, name := range re.SubexpNames() {
		if name == "" || idx[2*i] < 0 {
			continue
		}
		out[name] = text[idx[2*i]:idx[2*i+1]]
	}
	return out
}
