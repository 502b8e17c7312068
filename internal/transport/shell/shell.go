// Package shell is a line-oriented stdin/stdout chat adapter for local use.
//
// Every line is delivered as a direct message from one fixed user, so
// commands work with or without the bot name.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"rpcbot/internal/transport"
	logx "rpcbot/pkg/logx"
)

type Options struct {
	UserID   string // default: "1"
	UserName string // default: "shell"
	Room     string // default: "shell"
	Prompt   string // printed before each read when non-empty
}

type Adapter struct {
	in  io.Reader
	opt Options
	log logx.Logger

	wmu sync.Mutex
	out io.Writer

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	seq    int
}

var _ transport.Adapter = (*Adapter)(nil)

func New(in io.Reader, out io.Writer, opt Options, log logx.Logger) *Adapter {
	if opt.UserID == "" {
		opt.UserID = "1"
	}
	if opt.UserName == "" {
		opt.UserName = "shell"
	}
	if opt.Room == "" {
		opt.Room = "shell"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{in: in, out: out, opt: opt, log: log.With(logx.String("comp", "shell")), done: make(chan struct{})}
}

func (a *Adapter) Name() string { return transport.ShellAdapterName }

func (a *Adapter) Identity() transport.Identity { return transport.Identity{} }

// Done is closed when input reaches EOF or the adapter stops.
func (a *Adapter) Done() <-chan struct{} { return a.done }

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}
	ctx, a.cancel = context.WithCancel(ctx)
	go a.read(ctx, out)
	return nil
}

func (a *Adapter) read(ctx context.Context, out chan<- transport.Message) {
	defer close(a.done)
	sc := bufio.NewScanner(a.in)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	a.prompt()
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			a.prompt()
			continue
		}
		a.mu.Lock()
		a.seq++
		id := a.seq
		a.mu.Unlock()

		msg := transport.Message{
			ID:       fmt.Sprint(id),
			UserID:   a.opt.UserID,
			UserName: a.opt.UserName,
			RoomID:   a.opt.Room,
			Text:     line,
			Direct:   true,
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
	if err := sc.Err(); err != nil {
		a.log.Warn("shell input failed", logx.Err(err))
	}
}

func (a *Adapter) prompt() {
	if a.opt.Prompt == "" {
		return
	}
	a.wmu.Lock()
	defer a.wmu.Unlock()
	_, _ = io.WriteString(a.out, a.opt.Prompt)
}

// Stop stops delivering messages. A read blocked on input returns with the next line.
func (a *Adapter) Stop(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	return nil
}

func (a *Adapter) Send(_ context.Context, _, text string) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	_, err := fmt.Fprintln(a.out, text)
	return err
}

func (a *Adapter) SendSnippet(_ context.Context, _, title, text string) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	_, err := fmt.Fprintf(a.out, "----- %s -----\n%s\n----- end %s -----\n", title, strings.TrimRight(text, "\n"), title)
	return err
}
