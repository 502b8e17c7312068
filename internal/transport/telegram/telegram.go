// Package telegram is the telebot-backed chat adapter.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"rpcbot/internal/runtime/supervisor"
	"rpcbot/internal/transport"
	logx "rpcbot/pkg/logx"
)

const (
	Name      = "telegram"
	textLimit = 4000
)

type Config struct {
	Token       string
	PollTimeout time.Duration // default: 10s
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out     atomic.Value // chan<- transport.Message
	runMu   sync.Mutex
	running bool
	// sup owns the poll loop, the drop reporter and the stop watcher.
	sup *supervisor.Supervisor

	dropped atomic.Uint64
}

var _ transport.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}
	var nilOut chan<- transport.Message
	a.out.Store(nilOut)
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if m := c.Message(); m != nil && m.Chat != nil {
			a.forward(fromTele(m))
		}
		return nil
	})
	return a, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Identity() transport.Identity {
	if a.bot == nil || a.bot.Me == nil {
		return transport.Identity{}
	}
	return transport.Identity{Name: a.bot.Me.Username}
}

func fromTele(m *tele.Message) transport.Message {
	msg := transport.Message{
		ID:     strconv.Itoa(m.ID),
		RoomID: RoomID(m.Chat.ID, m.ThreadID),
		Text:   m.Text,
		Direct: m.Chat.Type == tele.ChatPrivate,
	}
	if m.Sender != nil {
		msg.UserID = strconv.FormatInt(m.Sender.ID, 10)
		msg.UserName = m.Sender.Username
	}
	return msg
}

// RoomID formats a chat (and optional forum thread) as a room.
func RoomID(chatID int64, threadID int) string {
	if threadID > 0 {
		return strconv.FormatInt(chatID, 10) + "/" + strconv.Itoa(threadID)
	}
	return strconv.FormatInt(chatID, 10)
}

// ParseRoom is the inverse of RoomID.
func ParseRoom(room string) (chatID int64, threadID int, err error) {
	c, t, hasThread := strings.Cut(strings.TrimSpace(room), "/")
	chatID, err = strconv.ParseInt(c, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram room %q: %w", room, err)
	}
	if hasThread {
		if threadID, err = strconv.Atoi(t); err != nil {
			return 0, 0, fmt.Errorf("telegram room %q: %w", room, err)
		}
	}
	return chatID, threadID, nil
}

func (a *Adapter) forward(msg transport.Message) {
	out, _ := a.out.Load().(chan<- transport.Message)
	if out == nil {
		return
	}
	select {
	case out <- msg:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Message) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	// adapter failures are best-effort; they must not cancel the app.
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(false))
	sup := a.sup
	a.runMu.Unlock()

	report := func() {
		if n := a.dropped.Swap(0); n > 0 {
			a.log.Warn("incoming messages dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
		}
	}
	sup.Go0("telegram.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-t.C:
				report()
			}
		}
	})

	sup.Go0("telegram.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop. It can return early in some failure modes, so it restarts.
	sup.GoRestart("telegram.poll", func(context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		supervisor.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Message
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	// getUpdates may still be long-polling; keep shutdown bounded.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) Send(ctx context.Context, room, text string) error {
	chatID, threadID, err := ParseRoom(room)
	if err != nil {
		return err
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitText(text, textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opt := &tele.SendOptions{ThreadID: threadID, DisableWebPagePreview: true}
		if _, err := a.bot.Send(chat, chunk, opt); err != nil {
			return err
		}
	}
	return nil
}

// SendSnippet uploads text as a plain-text document.
func (a *Adapter) SendSnippet(ctx context.Context, room, title, text string) error {
	chatID, threadID, err := ParseRoom(room)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := &tele.Document{
		File:     tele.FromReader(strings.NewReader(text)),
		FileName: snippetName(title),
		Caption:  title,
	}
	_, err = a.bot.Send(&tele.Chat{ID: chatID}, doc, &tele.SendOptions{ThreadID: threadID})
	return err
}

func snippetName(title string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "output.txt"
	}
	return b.String() + ".txt"
}

// splitText chunks s to at most limit runes, preferring newline boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// avoid tiny chunks
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
