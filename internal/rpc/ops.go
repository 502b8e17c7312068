package rpc

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"rpcbot/internal/robot"
	"rpcbot/internal/rpc/args"
	"rpcbot/internal/rpc/chattext"
	"rpcbot/internal/rpc/dispatch"
	"rpcbot/internal/rpc/pattern"
	"rpcbot/internal/rpc/registry"
	"rpcbot/pkg/card"
)

type opDef struct {
	id     string
	body   string // matched after the invocation prefix
	help   string
	access robot.Access
	handle robot.HandlerFunc
}

func (s *Service) ops() []opDef {
	flags := args.MatcherSuffix() + `*`
	return []opDef{
		{id: "rpc.list", body: `rpc list`, help: "rpc list - List RPC endpoints and their status.", handle: s.cmdList},
		{id: "rpc.add", body: `rpc add (\S+)` + flags, help: "rpc add <url> [--prefix <name>] - Track a new RPC endpoint.", access: robot.AccessOwnerOnly, handle: s.cmdAdd},
		{id: "rpc.remove", body: `rpc remove (\S+)`, help: "rpc remove <url> - Stop tracking an RPC endpoint.", access: robot.AccessOwnerOnly, handle: s.cmdRemove},
		{id: "rpc.set_prefix", body: `rpc set prefix (\S+) (\S+)`, help: "rpc set prefix <url> <prefix> - Namespace an endpoint's commands.", access: robot.AccessOwnerOnly, handle: s.cmdSetPrefix},
		{id: "rpc.debug", body: `rpc debug (\S+)`, help: "rpc debug <url> - Show an endpoint's state and compiled commands.", handle: s.cmdDebug},
		{id: "rpc.hup", body: `rpc (?:hup|reload)`, help: "rpc hup - Refetch every endpoint now.", access: robot.AccessOwnerOnly, handle: s.cmdHup},
		{id: "rpc.wtf", body: `rpc (?:wtf|what happens for) (.+)`, help: "rpc wtf <text> - Show which command <text> would run, without running it.", handle: s.cmdWTF},
		{id: "rpc.raw", body: `rpc raw (\S+)((?: --.+)?)`, help: "rpc raw <id> [--key value ...] - Invoke a command by id with flags only.", handle: s.cmdRaw},
	}
}

func (s *Service) listeners() []robot.Listener {
	id := s.robot.Identity()
	inv := pattern.InvocationPrefix(id.Name, id.Alias)
	defs := s.ops()
	out := make([]robot.Listener, 0, len(defs))
	for _, op := range defs {
		out = append(out, robot.Listener{
			Matcher: regexp.MustCompile(`(?i)^` + inv + op.body + `\s*$`),
			Meta:    robot.Meta{ID: op.id, Origin: OriginOps, Help: id.Name + " " + op.help, Source: op.body},
			Access:  op.access,
			Handle:  op.handle,
		})
	}
	return out
}

func group(req *robot.Request, i int) string {
	if i < len(req.Match) {
		return strings.TrimSpace(req.Match[i])
	}
	return ""
}

func (s *Service) cmdList(ctx context.Context, req *robot.Request) error {
	eps := s.Endpoints()
	if len(eps) == 0 {
		return req.Reply(ctx, "No RPC endpoints configured.")
	}
	b := card.New().Title("📡", fmt.Sprintf("RPC endpoints (%d)", len(eps)))
	for _, ep := range eps {
		name := ep.URL
		if ep.Prefix != "" {
			name += " [" + ep.Prefix + "]"
		}
		b.KV(name, "")
		b.Indent(statusLine(ep))
	}
	return req.Reply(ctx, b.String())
}

func (s *Service) cmdAdd(ctx context.Context, req *robot.Request) error {
	endpoint := group(req, 1)
	_, flags := args.Extract(req.Text)
	prefix := strings.TrimSpace(flags["prefix"])
	if prefix == args.True {
		return req.Reply(ctx, "Usage: rpc add <url> [--prefix <name>]")
	}

	created, err := s.Add(ctx, req.Message, endpoint, prefix)
	switch {
	case err != nil:
		return req.Reply(ctx, "Cannot add "+endpoint+": "+chattext.Clip(err.Error(), chattext.ErrorMax))
	case !created:
		return req.Reply(ctx, "Already tracking "+endpoint+".")
	case prefix != "":
		return req.Reply(ctx, fmt.Sprintf("Added %s with prefix %q. Fetching its schema now.", endpoint, prefix))
	default:
		return req.Reply(ctx, "Added "+endpoint+". Fetching its schema now.")
	}
}

func (s *Service) cmdRemove(ctx context.Context, req *robot.Request) error {
	endpoint := group(req, 1)
	removed, err := s.Remove(ctx, req.Message, endpoint)
	switch {
	case err != nil:
		return req.Reply(ctx, "Cannot remove "+endpoint+": "+chattext.Clip(err.Error(), chattext.ErrorMax))
	case !removed:
		return req.Reply(ctx, "Not tracking "+endpoint+".")
	default:
		return req.Reply(ctx, "Removed "+endpoint+".")
	}
}

func (s *Service) cmdSetPrefix(ctx context.Context, req *robot.Request) error {
	endpoint, prefix := group(req, 1), group(req, 2)
	if err := s.SetPrefix(ctx, req.Message, endpoint, prefix); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return req.Reply(ctx, "Not tracking "+endpoint+".")
		}
		return req.Reply(ctx, "Cannot set prefix: "+chattext.Clip(err.Error(), chattext.ErrorMax))
	}
	msg := fmt.Sprintf("Prefix for %s is now %q.", endpoint, prefix)
	if ep, ok := s.reg.Get(endpoint); ok && ep.LastResponse != "" {
		msg += " " + ep.LastResponse
	}
	return req.Reply(ctx, msg)
}

func (s *Service) cmdDebug(ctx context.Context, req *robot.Request) error {
	endpoint := group(req, 1)
	ep, cmds, ok := s.Debug(endpoint)
	if !ok {
		return req.Reply(ctx, "Not tracking "+endpoint+".")
	}
	b := card.New().Title("🔎", ep.URL).
		KV("prefix", orDash(ep.Prefix)).
		KV("namespace", orDash(ep.Namespace)).
		KV("version", orDash(ep.Version)).
		KV("status", statusLine(ep)).
		KV("methods", fmt.Sprintf("%d", len(ep.Methods)))
	for _, c := range cmds {
		b.KV(c.ID, c.URL)
		b.Indent("pattern: " + c.Matcher.String())
	}
	return req.Reply(ctx, b.String())
}

func (s *Service) cmdHup(ctx context.Context, req *robot.Request) error {
	sum, err := s.Reload(ctx, req.Message)
	if err != nil {
		return req.Reply(ctx, "Reload interrupted: "+chattext.Clip(err.Error(), chattext.ErrorMax))
	}
	if sum.Total == 0 {
		return req.Reply(ctx, "No RPC endpoints configured.")
	}
	return req.Reply(ctx, fmt.Sprintf("Refetched %d endpoint(s), %d failed.", sum.Total, sum.Failed))
}

func (s *Service) cmdWTF(ctx context.Context, req *robot.Request) error {
	text := group(req, 1)
	ex, ok := s.explain(text, req)
	if !ok {
		return req.Reply(ctx, fmt.Sprintf("Nothing matches %q.", text))
	}
	b := card.New().Title("🧭", ex.Command.ID).
		KV("origin", ex.Command.Origin).
		KV("pattern", ex.Command.Source).
		KV("url", ex.Command.URL)
	if ex.Command.IsHelp {
		b.Line("Replies with the endpoint's help; nothing is sent.")
	} else {
		b.KV("payload", string(ex.Payload))
	}
	return req.Reply(ctx, b.String())
}

// explain tries text as given, then as if addressed to the bot.
func (s *Service) explain(text string, req *robot.Request) (dispatch.Explanation, bool) {
	user, room := req.Message.User(), req.Message.RoomID
	if ex, ok := s.disp.Explain(text, user, room); ok {
		return ex, true
	}
	return s.disp.Explain(s.robot.Identity().Name+" "+text, user, room)
}

func (s *Service) cmdRaw(ctx context.Context, req *robot.Request) error {
	return s.disp.Raw(ctx, group(req, 1), group(req, 2), req.Message, req.Sender)
}

func statusLine(ep registry.Endpoint) string {
	if ep.UpdatedAt == nil {
		return "Not fetched yet."
	}
	return ep.LastResponse + " (" + ep.UpdatedAt.UTC().Format(time.RFC3339) + ")"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
