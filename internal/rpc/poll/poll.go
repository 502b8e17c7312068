// Package poll drives one self-perpetuating fetch loop per endpoint with
// multiplicative backoff on failure and a reset on success.
package poll

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"rpcbot/internal/eventbus"
	"rpcbot/internal/rpc/chattext"
	"rpcbot/internal/rpc/fetch"
	"rpcbot/internal/runtime/supervisor"
	logx "rpcbot/pkg/logx"
)

var ErrNotStarted = errors.New("poll scheduler not started")

type FetchFunc func(ctx context.Context, url string) error

type Config struct {
	Interval    time.Duration // initial and post-success wait
	MaxInterval time.Duration
	Factor      float64
}

func DefaultConfig() Config {
	return Config{Interval: 10 * time.Second, MaxInterval: time.Hour, Factor: 1.5}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.MaxInterval < c.Interval {
		c.MaxInterval = c.Interval
	}
	if c.Factor <= 1 {
		c.Factor = d.Factor
	}
	return c
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Scheduler struct {
	cfg    Config
	fetch  FetchFunc
	exists func(url string) bool
	log    logx.Logger
	bus    eventbus.Bus

	mu    sync.Mutex
	sup   *supervisor.Supervisor
	loops map[string]*loop
}

func New(cfg Config, fetch FetchFunc, exists func(url string) bool, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		fetch:  fetch,
		exists: exists,
		log:    log.With(logx.String("comp", "rpc.poll")),
		bus:    bus,
		loops:  map[string]*loop{},
	}
}

// Next is the wait after an outcome: the base interval on success, otherwise
// cur grown by Factor and capped at MaxInterval.
func (s *Scheduler) Next(cur time.Duration, ok bool) time.Duration {
	if ok || cur <= 0 {
		return s.cfg.Interval
	}
	next := time.Duration(float64(cur) * s.cfg.Factor)
	if next > s.cfg.MaxInterval || next < cur {
		return s.cfg.MaxInterval
	}
	return next
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	return nil
}

// Stop cancels every loop and waits for them to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.loops = map[string]*loop{}
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// Track starts the loop for url. It reports false when one is already running.
func (s *Scheduler) Track(url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup == nil {
		return false, ErrNotStarted
	}
	if _, ok := s.loops[url]; ok {
		return false, nil
	}
	ctx, cancel := context.WithCancel(s.sup.Context())
	l := &loop{cancel: cancel, done: make(chan struct{})}
	s.loops[url] = l
	s.sup.Go0("poll:"+url, func(context.Context) {
		defer close(l.done)
		defer cancel()
		s.run(ctx, url)
		s.mu.Lock()
		if s.loops[url] == l {
			delete(s.loops, url)
		}
		s.mu.Unlock()
	})
	return true, nil
}

// Forget cancels url's loop, including one that is sleeping.
func (s *Scheduler) Forget(url string) {
	s.mu.Lock()
	l, ok := s.loops[url]
	delete(s.loops, url)
	s.mu.Unlock()
	if ok {
		l.cancel()
	}
}

// Tracked returns the URLs with a live loop, sorted.
func (s *Scheduler) Tracked() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.loops))
	for u := range s.loops {
		out = append(out, u)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// FetchNow runs one extra fetch in the caller's goroutine. The loop's backoff
// and next tick are unaffected; overlapping fetches resolve last-write-wins.
func (s *Scheduler) FetchNow(ctx context.Context, url string) error {
	return s.once(ctx, url, 0)
}

func (s *Scheduler) run(ctx context.Context, url string) {
	cur := s.cfg.Interval
	for {
		if !s.exists(url) {
			s.log.Debug("endpoint gone; loop exits", logx.String("url", url))
			return
		}
		err := s.once(ctx, url, cur)
		if errors.Is(err, fetch.ErrEndpointRemoved) || ctx.Err() != nil {
			return
		}
		cur = s.Next(cur, err == nil)

		t := time.NewTimer(cur)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Scheduler) once(ctx context.Context, url string, cur time.Duration) error {
	start := time.Now()
	err := s.fetch(ctx, url)
	ev := eventbus.FetchEvent{URL: url, OK: err == nil, Status: "ok", Took: time.Since(start)}
	if err != nil {
		ev.Status = chattext.Clip(err.Error(), chattext.StatusMax)
		if cur > 0 {
			ev.Backoff = s.Next(cur, false)
		}
		if !errors.Is(err, fetch.ErrEndpointRemoved) && ctx.Err() == nil {
			s.log.Debug("fetch failed", logx.String("url", url), logx.Err(err), logx.Duration("backoff", ev.Backoff))
		}
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeFetch, Data: ev})
	return err
}
