package robot

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"rpcbot/internal/transport"
	logx "rpcbot/pkg/logx"
)

type sent struct {
	room, title, text string
	snippet           bool
}

type recSender struct {
	mu  sync.Mutex
	out []sent
	ch  chan sent
}

func newRecSender() *recSender { return &recSender{ch: make(chan sent, 32)} }

func (s *recSender) Send(_ context.Context, room, text string) error {
	s.push(sent{room: room, text: text})
	return nil
}

func (s *recSender) SendSnippet(_ context.Context, room, title, text string) error {
	s.push(sent{room: room, title: title, text: text, snippet: true})
	return nil
}

func (s *recSender) push(m sent) {
	s.mu.Lock()
	s.out = append(s.out, m)
	s.mu.Unlock()
	s.ch <- m
}

func (s *recSender) next(t *testing.T) sent {
	t.Helper()
	select {
	case m := <-s.ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent")
		return sent{}
	}
}

func echo(id, pattern string) Listener {
	return Listener{
		Matcher: regexp.MustCompile(pattern),
		Meta:    Meta{ID: id, Help: "hubot " + id + " - echo"},
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, id+":"+req.Text)
		},
	}
}

func run(t *testing.T, r *Robot) (chan<- transport.Message, func()) {
	t.Helper()
	in := make(chan transport.Message)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.DispatchLoop(ctx, in)
		close(done)
	}()
	return in, func() {
		cancel()
		<-done
	}
}

func TestReplaceSwapsOriginOnly(t *testing.T) {
	r := New(transport.Identity{Name: "hubot"}, newRecSender(), logx.Nop())
	r.Replace("https://a", []Listener{echo("a.one", "one"), echo("a.two", "two")})
	r.Replace("https://b", []Listener{echo("b.one", "one")})
	r.Replace("https://a", []Listener{echo("a.three", "three")})

	var ids []string
	for _, l := range r.Listeners() {
		ids = append(ids, l.Meta.Origin+"|"+l.Meta.ID)
	}
	want := "robot|robot.help,https://a|a.three,https://b|b.one"
	if got := strings.Join(ids, ","); got != want {
		t.Fatalf("listeners = %s, want %s", got, want)
	}

	r.RemoveOrigin("https://a")
	if n := len(r.Listeners()); n != 2 {
		t.Fatalf("after remove %d listeners", n)
	}
	for _, line := range r.HelpLines("") {
		if strings.Contains(line, "a.three") {
			t.Fatal("removed origin still in help")
		}
	}
}

func TestDispatchRunsAllMatches(t *testing.T) {
	s := newRecSender()
	r := New(transport.Identity{Name: "hubot"}, s, logx.Nop())
	r.Replace("x", []Listener{echo("first", `^hubot ping$`), echo("second", `ping`)})
	in, stop := run(t, r)
	defer stop()

	in <- transport.Message{RoomID: "1", UserID: "u", Text: "hubot ping"}
	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		got[s.next(t).text] = true
	}
	if !got["first:hubot ping"] || !got["second:hubot ping"] {
		t.Fatalf("replies = %v", got)
	}
}

func TestDirectMessagesGainBotName(t *testing.T) {
	s := newRecSender()
	r := New(transport.Identity{Name: "hubot", Alias: "!"}, s, logx.Nop())
	r.Replace("x", []Listener{echo("e", `^hubot ping$`)})
	in, stop := run(t, r)
	defer stop()

	in <- transport.Message{RoomID: "dm", Text: "ping", Direct: true}
	if m := s.next(t); m.text != "e:hubot ping" {
		t.Fatalf("reply = %q", m.text)
	}

	// Already addressed: unchanged.
	r.Replace("y", []Listener{echo("alias", `^!ping$`)})
	in <- transport.Message{RoomID: "dm", Text: "!ping", Direct: true}
	if m := s.next(t); m.text != "alias:!ping" {
		t.Fatalf("reply = %q", m.text)
	}
}

func TestOwnerOnlyListeners(t *testing.T) {
	s := newRecSender()
	r := New(transport.Identity{Name: "hubot"}, s, logx.Nop())
	l := echo("secret", `^hubot secret$`)
	l.Access = AccessOwnerOnly
	r.Replace("x", []Listener{l})
	in, stop := run(t, r)
	defer stop()

	// No owners configured: open.
	in <- transport.Message{RoomID: "1", UserID: "9", Text: "hubot secret"}
	if m := s.next(t); !strings.HasPrefix(m.text, "secret:") {
		t.Fatalf("open mode reply = %q", m.text)
	}

	r.SetOwners([]string{"1"})
	in <- transport.Message{RoomID: "1", UserID: "9", Text: "hubot secret"}
	if m := s.next(t); !strings.Contains(m.text, "only bot owners") {
		t.Fatalf("non-owner reply = %q", m.text)
	}
	in <- transport.Message{RoomID: "1", UserID: "1", Text: "hubot secret"}
	if m := s.next(t); !strings.HasPrefix(m.text, "secret:") {
		t.Fatalf("owner reply = %q", m.text)
	}
}

func TestPanickingListenerDoesNotKillDispatcher(t *testing.T) {
	s := newRecSender()
	r := New(transport.Identity{Name: "hubot"}, s, logx.Nop(), WithWorkers(1))
	r.Replace("x", []Listener{
		{Matcher: regexp.MustCompile(`^boom$`), Handle: func(context.Context, *Request) error { panic("kaboom") }},
		echo("ok", `^fine$`),
	})
	in, stop := run(t, r)
	defer stop()

	in <- transport.Message{RoomID: "1", Text: "boom"}
	in <- transport.Message{RoomID: "1", Text: "fine"}
	if m := s.next(t); m.text != "ok:fine" {
		t.Fatalf("reply = %q", m.text)
	}
}

func TestHelpListener(t *testing.T) {
	s := newRecSender()
	r := New(transport.Identity{Name: "hubot"}, s, logx.Nop())
	r.Replace("x", []Listener{echo("deploy", "deploy"), echo("status", "status")})
	in, stop := run(t, r)
	defer stop()

	in <- transport.Message{RoomID: "1", Text: "hubot help"}
	m := s.next(t)
	for _, want := range []string{"hubot deploy - echo", "hubot status - echo", "hubot help [filter]"} {
		if !strings.Contains(m.text, want) {
			t.Fatalf("help missing %q:\n%s", want, m.text)
		}
	}

	in <- transport.Message{RoomID: "1", Text: "hubot help DEPLOY"}
	if m := s.next(t); m.text != "hubot deploy - echo" {
		t.Fatalf("filtered help = %q", m.text)
	}
}
