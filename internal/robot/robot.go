// Package robot is the chat-facing listener registry and dispatcher.
//
// Listeners are grouped by origin. Replace swaps one origin's whole set under
// a single lock, so a message is matched against either the old or the new
// set, never a mix.
package robot

import (
	"context"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"rpcbot/internal/transport"
	logx "rpcbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessOwnerOnly is enforced only while an owner list is configured.
	AccessOwnerOnly
)

// OriginBuiltin owns the listeners the robot registers itself.
const OriginBuiltin = "robot"

// Meta describes a listener for help, debugging and bulk removal.
type Meta struct {
	ID     string
	Origin string
	Help   string
	Source string // pattern source before compilation
}

type Listener struct {
	Matcher *regexp.Regexp
	Meta    Meta
	Access  Access
	Timeout time.Duration // optional per-listener override
	Handle  HandlerFunc
}

// Request is one matched (message, listener) pair.
type Request struct {
	Message  transport.Message
	Text     string   // text the matcher saw (direct messages may gain the bot name)
	Match    []string // submatches of Listener.Matcher against Text
	Listener Meta
	ReqID    string
	Logger   logx.Logger
	Sender   transport.Sender
}

func (r *Request) Reply(ctx context.Context, text string) error {
	return r.Sender.Send(ctx, r.Message.RoomID, text)
}

func (r *Request) Snippet(ctx context.Context, title, text string) error {
	return r.Sender.SendSnippet(ctx, r.Message.RoomID, title, text)
}

type Option func(*Robot)

func WithWorkers(n int) Option { return func(r *Robot) { r.workers = n } }

func WithQueueSize(n int) Option { return func(r *Robot) { r.queueSize = n } }

// WithDefaultTimeout bounds listeners that do not set their own Timeout.
func WithDefaultTimeout(d time.Duration) Option { return func(r *Robot) { r.timeout = d } }

type Robot struct {
	id        transport.Identity
	sender    transport.Sender
	log       logx.Logger
	addressed *regexp.Regexp

	workers   int
	queueSize int
	timeout   time.Duration

	mu       sync.RWMutex
	byOrigin map[string][]Listener
	origins  []string // registration order; matching walks origins in this order
	owners   map[string]struct{}
}

func New(id transport.Identity, sender transport.Sender, log logx.Logger, opts ...Option) *Robot {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(id.Name) == "" {
		id.Name = "hubot"
	}
	r := &Robot{
		id:        id,
		sender:    sender,
		log:       log.With(logx.String("comp", "robot")),
		addressed: addressedPattern(id),
		workers:   max(runtime.NumCPU(), 2),
		queueSize: 256,
		timeout:   3 * time.Minute,
		byOrigin:  map[string][]Listener{},
		owners:    map[string]struct{}{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	if r.queueSize < 1 {
		r.queueSize = 1
	}
	r.Replace(OriginBuiltin, []Listener{r.helpListener()})
	return r
}

func addressedPattern(id transport.Identity) *regexp.Regexp {
	names := regexp.QuoteMeta(id.Name)
	if a := strings.TrimSpace(id.Alias); a != "" {
		names = regexp.QuoteMeta(a) + "|" + names
	}
	return regexp.MustCompile(`(?i)^\s*[@]?(?:` + names + `)`)
}

func (r *Robot) Identity() transport.Identity { return r.id }

func (r *Robot) Sender() transport.Sender { return r.sender }

// Replace swaps origin's listeners for ls. Listeners without a matcher or handler are dropped.
func (r *Robot) Replace(origin string, ls []Listener) {
	keep := make([]Listener, 0, len(ls))
	for _, l := range ls {
		if l.Matcher == nil || l.Handle == nil {
			continue
		}
		l.Meta.Origin = origin
		keep = append(keep, l)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOrigin[origin]; !ok {
		r.origins = append(r.origins, origin)
	}
	r.byOrigin[origin] = keep
}

// RemoveOrigin drops every listener registered under origin.
func (r *Robot) RemoveOrigin(origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOrigin[origin]; !ok {
		return
	}
	delete(r.byOrigin, origin)
	for i, o := range r.origins {
		if o == origin {
			r.origins = append(r.origins[:i], r.origins[i+1:]...)
			break
		}
	}
}

// Listeners returns a snapshot of every live listener in matching order.
func (r *Robot) Listeners() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Listener
	for _, o := range r.origins {
		out = append(out, r.byOrigin[o]...)
	}
	return out
}

// HelpLines returns the sorted help texts of live listeners containing filter (case-insensitive).
func (r *Robot) HelpLines(filter string) []string {
	filter = strings.ToLower(strings.TrimSpace(filter))
	var out []string
	for _, l := range r.Listeners() {
		for _, line := range strings.Split(l.Meta.Help, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if filter != "" && !strings.Contains(strings.ToLower(line), filter) {
				continue
			}
			out = append(out, line)
		}
	}
	sort.Strings(out)
	return out
}

// SetOwners replaces the owner list. Safe to call during hot reload.
func (r *Robot) SetOwners(ids []string) {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			m[id] = struct{}{}
		}
	}
	r.mu.Lock()
	r.owners = m
	r.mu.Unlock()
}

// Allowed reports whether user may trigger a listener with access a.
func (r *Robot) Allowed(a Access, userID string) bool {
	if a != AccessOwnerOnly {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.owners) == 0 {
		return true
	}
	_, ok := r.owners[userID]
	return ok
}

// OwnersConfigured reports whether owner-only listeners are actually restricted.
func (r *Robot) OwnersConfigured() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owners) > 0
}

// normalize prefixes the bot name on direct messages that do not already address it.
func (r *Robot) normalize(msg transport.Message) string {
	if msg.Direct && !r.addressed.MatchString(msg.Text) {
		return r.id.Name + " " + msg.Text
	}
	return msg.Text
}
