package robot

import (
	"context"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"rpcbot/internal/runtime/supervisor"
	"rpcbot/internal/transport"
	logx "rpcbot/pkg/logx"
)

// DispatchLoop matches every inbound message against the live listeners and
// runs each hit on a bounded worker pool. It returns when ctx is done or
// updates is closed, after giving queued jobs a short drain window.
func (r *Robot) DispatchLoop(ctx context.Context, updates <-chan transport.Message) error {
	jobs := make(chan func(), r.queueSize)
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)

	r.log.Info("dispatcher started", logx.Int("workers", r.workers), logx.Int("job_queue_cap", cap(jobs)))
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("robot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					r.runJob(idx, job)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		close(jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, msg, jobs)
		}
	}
}

// runJob keeps a worker alive if a job panics outside the middleware chain.
func (r *Robot) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in robot job", logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// route enqueues one job per matching listener and reports how many matched.
func (r *Robot) route(ctx context.Context, msg transport.Message, jobs chan<- func()) int {
	text := r.normalize(msg)
	matched := 0
	for _, l := range r.Listeners() {
		m := l.Matcher.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		matched++
		if !r.Allowed(l.Access, msg.UserID) {
			_ = r.sender.Send(ctx, msg.RoomID, "Sorry, only bot owners can run that.")
			continue
		}

		rid := uuid.NewString()
		req := &Request{
			Message:  msg,
			Text:     text,
			Match:    m,
			Listener: l.Meta,
			ReqID:    rid,
			Sender:   r.sender,
			Logger: r.log.With(
				logx.String("rid", rid),
				logx.String("listener", l.Meta.ID),
				logx.String("origin", l.Meta.Origin),
			),
		}
		timeout := l.Timeout
		if timeout <= 0 {
			timeout = r.timeout
		}
		final := Chain(l.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout))

		select {
		case jobs <- func() { _ = final(ctx, req) }:
		default:
			_ = r.sender.Send(ctx, msg.RoomID, "busy, try again")
		}
	}
	return matched
}
