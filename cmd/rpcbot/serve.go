package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rpcbot/internal/app"
	logx "rpcbot/pkg/logx"
	"rpcbot/pkg/systemd"
)

type serveOptions struct {
	ConfigPath  string
	StopTimeout time.Duration
}

func newServeCmd() *cobra.Command {
	opts := serveOptions{
		ConfigPath:  "./config.json",
		StopTimeout: 12 * time.Second,
	}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until SIGINT/SIGTERM or input EOF (shell adapter)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "Path to config (.json, .yaml, .yml)")
	cmd.Flags().DurationVar(&opts.StopTimeout, "stop-timeout", opts.StopTimeout, "Graceful shutdown budget")
	return cmd
}

func runServe(parent context.Context, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := app.New(opts.ConfigPath)
	if err != nil {
		return &exitError{Code: 1, Err: fmt.Errorf("fatal: %w", err)}
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sd := systemd.NewNotifier(logx.NewConsole("info"))
	stop := func(reason app.StopReason) {
		sd.Stopping()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), opts.StopTimeout)
		defer stopCancel()
		_ = a.Stop(stopCtx, reason)
	}

	if err := a.Start(ctx); err != nil {
		stop(app.StopFatalError)
		return &exitError{Code: 1, Err: fmt.Errorf("fatal start: %w", err)}
	}
	sd.Ready()
	sd.Status("serving")
	go sd.Watchdog(ctx)

	reason := app.StopUnknown
	select {
	case s := <-sigCh:
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		} else {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopInputClosed
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	case <-parent.Done():
	}

	stop(reason)
	if err := a.Err(); err != nil {
		return &exitError{Code: 1, Err: err}
	}
	return nil
}
