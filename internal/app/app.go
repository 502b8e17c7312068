// Package app wires config, logging, storage, the chat adapter, the robot and
// the rpc service together and owns their start/stop ordering.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"rpcbot/internal/config"
	"rpcbot/internal/eventbus"
	"rpcbot/internal/robot"
	"rpcbot/internal/rpc"
	"rpcbot/internal/rpc/signer"
	"rpcbot/internal/runtime/supervisor"
	"rpcbot/internal/storage"
	"rpcbot/internal/transport"
	"rpcbot/internal/transport/shell"
	"rpcbot/internal/transport/telegram"
	logx "rpcbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter
	robot   *robot.Robot
	rpc     *rpc.Service

	updates chan transport.Message
}

type options struct {
	adapter transport.Adapter
}

type Option func(*options)

// WithAdapter replaces the adapter selected by chat.adapter.
func WithAdapter(a transport.Adapter) Option { return func(o *options) { o.adapter = a } }

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad := o.adapter
	if ad == nil {
		if ad, err = newAdapter(cfg); err != nil {
			return nil, err
		}
	}

	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	appLog := log.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	appLog.Info("storage ready", logx.String("driver", sc.Driver))

	key, err := signer.KeySource{Env: cfg.RPC.PrivateKeyEnv, File: cfg.RPC.PrivateKeyFile}.Resolve()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("rpc signing key: %w", err)
	}
	sign, err := signer.New(key, cfg.RPC.KeyID)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	rpcOpt, err := mapRPCOptions(cfg, ad.Name())
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	rb := robot.New(identity(cfg), ad, log, robot.WithDefaultTimeout(rpcOpt.Dispatch.Timeout+10*time.Second))
	rb.SetOwners(cfg.Chat.OwnerIDs)
	if len(cfg.Chat.OwnerIDs) == 0 {
		appLog.Warn("chat.owner_ids is empty; anyone may run rpc add/remove/set prefix/hup")
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		robot:   rb,
		rpc:     rpc.New(rpcOpt, sign, store, rb, log, bus),
		updates: make(chan transport.Message, 256),
	}, nil
}

func newAdapter(cfg *config.Config) (transport.Adapter, error) {
	bootLog := logx.NewConsole(cfg.Logging.Level)
	switch cfg.Chat.AdapterName() {
	case config.AdapterShell:
		return shell.New(os.Stdin, os.Stdout, shell.Options{Prompt: cfg.Chat.BotName() + "> "}, bootLog), nil
	default:
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	}
}

func (a *App) Robot() *robot.Robot { return a.robot }

func (a *App) RPC() *rpc.Service { return a.rpc }

// Done is closed when the app supervisor context is canceled (fatal error, input EOF or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := mapRPCOptions(cfg, a.adapter.Name())
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.rpc.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("robot.dispatch", func(c context.Context) error {
		return a.robot.DispatchLoop(c, a.updates)
	})

	if d, ok := a.adapter.(interface{ Done() <-chan struct{} }); ok {
		a.sup.Go0("adapter.eof", func(c context.Context) {
			select {
			case <-c.Done():
			case <-d.Done():
				a.log.Info("adapter input closed")
				a.sup.Cancel()
			}
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("adapter", a.adapter.Name()),
		logx.String("name", a.robot.Identity().Name),
	)
	return nil
}

// applyConfig applies the live-reloadable parts of next and reports the rest.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect", logx.Strings("sections", restart))
	}

	a.logs.Apply(mapLogConfig(next))
	a.robot.SetOwners(next.Chat.OwnerIDs)

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < limit {
					limit = max(rem, 0)
				}
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("rpc", 3*time.Second, a.rpc.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 4*time.Second, a.sup.Wait)
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
