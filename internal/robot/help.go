package robot

import (
	"context"
	"regexp"
	"strings"
)

func (r *Robot) helpListener() Listener {
	names := regexp.QuoteMeta(r.id.Name) + `[:,]?`
	if a := strings.TrimSpace(r.id.Alias); a != "" {
		names = regexp.QuoteMeta(a) + `[:,]?|` + names
	}
	re := regexp.MustCompile(`(?i)^\s*[@]?(?:` + names + `)\s*help(?:\s+(?P<filter>.+?))?\s*$`)
	return Listener{
		Matcher: re,
		Meta: Meta{
			ID:     OriginBuiltin + ".help",
			Help:   r.id.Name + " help [filter] - Displays all help commands that match <filter>.",
			Source: "help [filter]",
		},
		Handle: func(ctx context.Context, req *Request) error {
			filter := ""
			if i := re.SubexpIndex("filter"); i > 0 && i < len(req.Match) {
				filter = req.Match[i]
			}
			lines := r.HelpLines(filter)
			if len(lines) == 0 {
				return req.Reply(ctx, "No available commands match "+filter)
			}
			return req.Reply(ctx, strings.Join(lines, "\n"))
		},
	}
}
