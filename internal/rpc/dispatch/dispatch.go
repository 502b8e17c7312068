// Package dispatch compiles endpoint schemas into chat commands and executes
// signed invocations against them.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rpcbot/internal/eventbus"
	"rpcbot/internal/robot"
	"rpcbot/internal/rpc/args"
	"rpcbot/internal/rpc/pattern"
	"rpcbot/internal/rpc/registry"
	"rpcbot/internal/rpc/signer"
	"rpcbot/internal/transport"
	logx "rpcbot/pkg/logx"
)

const (
	DefaultTimeout          = 150 * time.Second
	DefaultSnippetThreshold = 3500
)

type Signer interface {
	Sign(url string, body []byte) (signer.Auth, error)
}

type Registry interface {
	Get(url string) (registry.Endpoint, bool)
	Exists(url string) bool
}

// Registrar is the chat-side listener registry.
type Registrar interface {
	Replace(origin string, ls []robot.Listener)
	RemoveOrigin(origin string)
}

type Options struct {
	Identity         transport.Identity
	Client           *http.Client  // optional; built from Timeout when nil
	Timeout          time.Duration // default: DefaultTimeout
	SnippetThreshold int           // default: DefaultSnippetThreshold
	RatePerMin       int           // per endpoint; 0 disables limiting
}

type Dispatcher struct {
	opt        Options
	invocation string
	client     *http.Client
	reg        Registry
	sign       Signer
	robot      Registrar
	log        logx.Logger
	bus        eventbus.Bus

	mu       sync.RWMutex
	byOrigin map[string][]Command

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(opt Options, reg Registry, sign Signer, rb Registrar, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}
	if opt.SnippetThreshold <= 0 {
		opt.SnippetThreshold = DefaultSnippetThreshold
	}
	if strings.TrimSpace(opt.Identity.Name) == "" {
		opt.Identity.Name = "hubot"
	}
	client := opt.Client
	if client == nil {
		client = &http.Client{Timeout: opt.Timeout}
	}
	return &Dispatcher{
		opt:        opt,
		invocation: pattern.InvocationPrefix(opt.Identity.Name, opt.Identity.Alias),
		client:     client,
		reg:        reg,
		sign:       sign,
		robot:      rb,
		log:        log.With(logx.String("comp", "rpc.dispatch")),
		bus:        bus,
		byOrigin:   map[string][]Command{},
		limiters:   map[string]*rate.Limiter{},
	}
}

// Apply recompiles url's commands from its current registry snapshot and
// swaps them in for the previous set. Methods whose pattern does not compile
// are skipped.
func (d *Dispatcher) Apply(ctx context.Context, url string) error {
	ep, ok := d.reg.Get(url)
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrNotFound, url)
	}
	cmds := d.compile(ep)

	listeners := make([]robot.Listener, 0, len(cmds))
	for _, c := range cmds {
		listeners = append(listeners, d.listener(c))
	}

	// Both indexes change under d.mu so concurrent applies for one origin land in the same order.
	// Remove deletes from the registry before taking d.mu, so an endpoint
	// removed after the Get above is seen here and stays removed.
	d.mu.Lock()
	if !d.reg.Exists(url) {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", registry.ErrNotFound, url)
	}
	d.byOrigin[url] = cmds
	d.robot.Replace(url, listeners)
	d.mu.Unlock()

	d.log.Debug("commands applied", logx.String("origin", url), logx.Int("commands", len(cmds)))
	return nil
}

// Remove drops url's commands from the dispatcher and the robot.
func (d *Dispatcher) Remove(url string) {
	d.mu.Lock()
	delete(d.byOrigin, url)
	d.robot.RemoveOrigin(url)
	d.mu.Unlock()

	d.limMu.Lock()
	delete(d.limiters, url)
	d.limMu.Unlock()
}

func (d *Dispatcher) compile(ep registry.Endpoint) []Command {
	names := make([]string, 0, len(ep.Methods))
	for n := range ep.Methods {
		names = append(names, n)
	}
	sort.Strings(names)

	cmds := make([]Command, 0, len(names)+1)
	helpLines := make([]string, 0, len(names))
	for _, name := range names {
		m := ep.Methods[name]
		re, err := pattern.Compile(m.Regex, d.invocation, ep.Prefix)
		if err != nil {
			d.log.Warn("skipping method with invalid pattern",
				logx.String("origin", ep.URL),
				logx.String("method", name),
				logx.Err(err),
			)
			continue
		}
		c := Command{
			ID:            ep.Namespace + "." + name,
			Origin:        ep.URL,
			Method:        name,
			URL:           invocationURL(ep.URL, m.Path),
			Source:        m.Regex,
			ErrorResponse: m.ErrorResponse,
			Matcher:       re,
		}
		c.Help = d.helpLine(ep.Prefix, m)
		helpLines = append(helpLines, c.Help)
		cmds = append(cmds, c)
	}

	body := ep.Prefix
	if body == "" {
		body = ep.Namespace
	}
	if body == "" {
		return cmds
	}
	re, err := pattern.CompileHelp(body, d.invocation)
	if err != nil {
		d.log.Warn("skipping help command", logx.String("origin", ep.URL), logx.Err(err))
		return cmds
	}
	text := strings.TrimSpace(ep.Help)
	if len(helpLines) > 0 {
		if text != "" {
			text += "\n"
		}
		text += strings.Join(helpLines, "\n")
	}
	if text == "" {
		text = "No methods available."
	}
	cmds = append(cmds, Command{
		ID:       ep.Namespace + ":help",
		Origin:   ep.URL,
		Help:     d.opt.Identity.Name + " " + body + " - " + firstLine(ep.Help, "List the commands of "+body+"."),
		URL:      ep.URL,
		Source:   body,
		Matcher:  re,
		IsHelp:   true,
		helpText: text,
	})
	return cmds
}

func (d *Dispatcher) helpLine(prefix string, m registry.Method) string {
	h := strings.TrimSpace(m.Help)
	if h == "" {
		h = m.Regex
	}
	if prefix != "" {
		return d.opt.Identity.Name + " " + prefix + " " + h
	}
	return d.opt.Identity.Name + " " + h
}

func (d *Dispatcher) listener(c Command) robot.Listener {
	return robot.Listener{
		Matcher: c.Matcher,
		Meta:    robot.Meta{ID: c.ID, Origin: c.Origin, Help: c.Help, Source: c.Source},
		Access:  robot.AccessEveryone,
		Timeout: d.opt.Timeout + 5*time.Second,
		Handle: func(ctx context.Context, req *robot.Request) error {
			msg := req.Message
			msg.Text = req.Text
			return d.Invoke(ctx, c, msg, req.Sender)
		},
	}
}

// Commands returns every live command sorted by ID.
func (d *Dispatcher) Commands() []Command {
	d.mu.RLock()
	var out []Command
	for _, cs := range d.byOrigin {
		out = append(out, cs...)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Origin < out[j].Origin
	})
	return out
}

// CommandsFor returns url's commands in compile order.
func (d *Dispatcher) CommandsFor(url string) []Command {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Command(nil), d.byOrigin[url]...)
}

// Lookup returns the command with id (case-insensitive) when exactly one
// endpoint defines it.
func (d *Dispatcher) Lookup(id string) (Command, bool) {
	cs := d.Find(id)
	if len(cs) != 1 {
		return Command{}, false
	}
	return cs[0], true
}

// Find returns every command with id (case-insensitive), sorted by origin.
// Endpoints sharing a namespace yield more than one.
func (d *Dispatcher) Find(id string) []Command {
	var out []Command
	for _, c := range d.Commands() {
		if strings.EqualFold(c.ID, id) {
			out = append(out, c)
		}
	}
	return out
}

// Explain finds the first command accepting text and reports what invoking it
// would send. Nothing is invoked.
func (d *Dispatcher) Explain(text, user, room string) (Explanation, bool) {
	for _, c := range d.Commands() {
		if !c.Matcher.MatchString(text) {
			continue
		}
		ex := Explanation{Command: c}
		if c.IsHelp {
			return ex, true
		}
		ex.Params = params(c, text)
		ex.Payload, _ = encodeBody(user, room, c.Method, ex.Params)
		return ex, true
	}
	return Explanation{}, false
}

func invocationURL(base, path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return base
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

func firstLine(s, def string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" {
		return def
	}
	return s
}

// params merges the named captures of c's matcher with trailing flags. Flags win.
func params(c Command, text string) map[string]string {
	rest, flags := args.Extract(text)
	out := pattern.Captures(c.Matcher, rest)
	if out == nil {
		out = pattern.Captures(c.Matcher, text)
	}
	if out == nil {
		out = map[string]string{}
	}
	for k, v := range flags {
		out[k] = v
	}
	return out
}
