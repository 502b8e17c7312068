// Package rpc wires the endpoint registry, schema fetcher, poll scheduler and
// command dispatcher into one service, and exposes the operator commands that
// manage it.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"rpcbot/internal/eventbus"
	"rpcbot/internal/robot"
	"rpcbot/internal/rpc/dispatch"
	"rpcbot/internal/rpc/fetch"
	"rpcbot/internal/rpc/poll"
	"rpcbot/internal/rpc/registry"
	"rpcbot/internal/rpc/signer"
	"rpcbot/internal/storage"
	"rpcbot/internal/transport"
	logx "rpcbot/pkg/logx"
)

// OriginOps owns the operator listeners.
const OriginOps = "rpc"

const reloadConcurrency = 8

var (
	ErrPrefixConflict = errors.New("prefix already assigned")
	ErrInsecureURL    = errors.New("endpoint url must use https")
	ErrInvalidURL     = errors.New("invalid endpoint url")
)

// Signer signs schema fetches and invocations.
type Signer interface {
	Sign(url string, body []byte) (signer.Auth, error)
}

type Options struct {
	// Adapter is the active chat adapter name. Plain http is accepted under the shell adapter.
	Adapter       string
	AllowInsecure bool

	Poll     poll.Config
	Fetch    fetch.Options
	Dispatch dispatch.Options
}

// ReloadSummary counts the outcome of a full refetch.
type ReloadSummary struct {
	Total  int
	Failed int
}

type Service struct {
	opt   Options
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	robot *robot.Robot

	reg   *registry.Registry
	disp  *dispatch.Dispatcher
	fetch *fetch.Fetcher
	sched *poll.Scheduler

	// mu serializes operator mutations so a prefix check and its assignment are atomic.
	mu sync.Mutex
}

func New(opt Options, sign Signer, store storage.Store, rb *robot.Robot, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if store == nil {
		store = storage.NewMemory()
	}
	if opt.Dispatch.Identity.Name == "" {
		opt.Dispatch.Identity = rb.Identity()
	}

	reg := registry.New(store, log)
	disp := dispatch.New(opt.Dispatch, reg, sign, rb, log, bus)
	f := fetch.New(opt.Fetch, sign, reg, disp, log)
	return &Service{
		opt:   opt,
		log:   log.With(logx.String("comp", "rpc")),
		bus:   bus,
		store: store,
		robot: rb,
		reg:   reg,
		disp:  disp,
		fetch: f,
		sched: poll.New(opt.Poll, f.Fetch, reg.Exists, log, bus),
	}
}

func (s *Service) Registry() *registry.Registry     { return s.reg }
func (s *Service) Dispatcher() *dispatch.Dispatcher { return s.disp }
func (s *Service) Scheduler() *poll.Scheduler       { return s.sched }

// Start loads persisted endpoints, compiles their last known schemas, starts
// one poll loop per endpoint and registers the operator commands.
func (s *Service) Start(ctx context.Context) error {
	if err := s.reg.Load(ctx); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	if err := s.sched.Start(ctx); err != nil {
		return err
	}
	eps := s.reg.All()
	for _, ep := range eps {
		if len(ep.Methods) > 0 {
			if err := s.disp.Apply(ctx, ep.URL); err != nil {
				s.log.Warn("restore commands failed", logx.String("url", ep.URL), logx.Err(err))
			}
		}
		if _, err := s.sched.Track(ep.URL); err != nil {
			return err
		}
	}
	s.robot.Replace(OriginOps, s.listeners())
	s.log.Info("rpc service started", logx.Int("endpoints", len(eps)))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.robot.RemoveOrigin(OriginOps)
	return s.sched.Stop(ctx)
}

// CheckURL reports whether raw is acceptable as an endpoint URL.
func (s *Service) CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return nil
	case "http":
		if s.opt.AllowInsecure || s.opt.Adapter == transport.ShellAdapterName {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrInsecureURL, raw)
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
}

// Add registers endpoint and starts polling it. It reports false when the URL
// was already registered; nothing changes in that case.
func (s *Service) Add(ctx context.Context, actor transport.Message, endpoint, prefix string) (created bool, err error) {
	defer func() { s.audit(ctx, actor, "rpc.add", endpoint, prefix, err) }()
	if err := s.CheckURL(endpoint); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkPrefix(endpoint, prefix); err != nil {
		return false, err
	}
	created, err = s.reg.Add(ctx, endpoint)
	if err != nil || !created {
		return false, err
	}
	if prefix != "" {
		if err := s.reg.AssignPrefix(ctx, endpoint, prefix); err != nil {
			return true, err
		}
	}
	if _, err := s.sched.Track(endpoint); err != nil {
		return true, err
	}
	s.publish(endpoint, "add", prefix)
	return true, nil
}

// Remove drops endpoint, its commands and its poll loop. It reports false
// when the URL was not registered.
func (s *Service) Remove(ctx context.Context, actor transport.Message, endpoint string) (removed bool, err error) {
	defer func() { s.audit(ctx, actor, "rpc.remove", endpoint, "", err) }()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed, err = s.reg.Remove(ctx, endpoint)
	if err != nil || !removed {
		return false, err
	}
	s.disp.Remove(endpoint)
	s.sched.Forget(endpoint)
	s.publish(endpoint, "remove", "")
	return true, nil
}

// SetPrefix assigns prefix to endpoint, recompiles its commands and refetches
// it once. The refetch outcome is recorded as the endpoint status.
func (s *Service) SetPrefix(ctx context.Context, actor transport.Message, endpoint, prefix string) (err error) {
	defer func() { s.audit(ctx, actor, "rpc.set_prefix", endpoint, prefix, err) }()
	s.mu.Lock()
	if !s.reg.Exists(endpoint) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", registry.ErrNotFound, endpoint)
	}
	if err := s.checkPrefix(endpoint, prefix); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.reg.AssignPrefix(ctx, endpoint, prefix); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if err := s.disp.Apply(ctx, endpoint); err != nil {
		s.log.Debug("recompile after prefix change failed", logx.String("url", endpoint), logx.Err(err))
	}
	s.publish(endpoint, "set_prefix", prefix)
	if err := s.sched.FetchNow(ctx, endpoint); err != nil {
		s.log.Debug("refetch after prefix change failed", logx.String("url", endpoint), logx.Err(err))
	}
	return nil
}

// Reload refetches every endpoint concurrently. Individual failures are
// counted, not returned.
func (s *Service) Reload(ctx context.Context, actor transport.Message) (ReloadSummary, error) {
	eps := s.reg.All()
	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reloadConcurrency)
	for _, ep := range eps {
		ep := ep
		g.Go(func() error {
			if err := s.sched.FetchNow(gctx, ep.URL); err != nil {
				failed.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	sum := ReloadSummary{Total: len(eps), Failed: int(failed.Load())}
	s.audit(ctx, actor, "rpc.hup", "", fmt.Sprintf("%d/%d ok", sum.Total-sum.Failed, sum.Total), err)
	return sum, err
}

// Endpoints returns every endpoint sorted by URL.
func (s *Service) Endpoints() []registry.Endpoint { return s.reg.All() }

// Debug returns endpoint and its live commands.
func (s *Service) Debug(endpoint string) (registry.Endpoint, []dispatch.Command, bool) {
	ep, ok := s.reg.Get(endpoint)
	if !ok {
		return registry.Endpoint{}, nil, false
	}
	return ep, s.disp.CommandsFor(endpoint), true
}

// checkPrefix rejects prefix when another endpoint owns it. Caller holds s.mu.
func (s *Service) checkPrefix(endpoint, prefix string) error {
	if prefix == "" {
		return nil
	}
	if owner, ok := s.reg.URLForPrefix(prefix); ok && owner != endpoint {
		return fmt.Errorf("%w: %q is used by %s", ErrPrefixConflict, prefix, owner)
	}
	return nil
}

func (s *Service) publish(endpoint, action, prefix string) {
	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeEndpoint,
		Data: eventbus.EndpointEvent{URL: endpoint, Action: action, Prefix: prefix},
	})
}

func (s *Service) audit(ctx context.Context, actor transport.Message, action, target, detail string, err error) {
	e := storage.AuditEntry{
		At:        time.Now(),
		ActorID:   actor.UserID,
		ActorName: actor.UserName,
		Room:      actor.RoomID,
		Action:    action,
		Target:    target,
		Detail:    detail,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := s.store.AppendAudit(ctx, e); aerr != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}
