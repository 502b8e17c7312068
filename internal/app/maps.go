package app

import (
	"fmt"
	"strings"

	"rpcbot/internal/config"
	"rpcbot/internal/rpc"
	"rpcbot/internal/rpc/dispatch"
	"rpcbot/internal/rpc/fetch"
	"rpcbot/internal/rpc/poll"
	"rpcbot/internal/storage"
	"rpcbot/internal/transport"
	logx "rpcbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			Room:       cfg.Logging.Chat.Room,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

// mapStorageConfig maps the storage section. A missing section or driver "none" means in-memory.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func identity(cfg *config.Config) transport.Identity {
	return transport.Identity{Name: cfg.Chat.BotName(), Alias: strings.TrimSpace(cfg.Chat.Alias)}
}

func mapRPCOptions(cfg *config.Config, adapter string) (rpc.Options, error) {
	t, err := cfg.RPC.Timings()
	if err != nil {
		return rpc.Options{}, err
	}
	return rpc.Options{
		Adapter:       adapter,
		AllowInsecure: cfg.RPC.AllowInsecure,
		Poll:          poll.Config{Interval: t.PollInterval, MaxInterval: t.PollMaxInterval},
		Fetch:         fetch.Options{Timeout: t.RequestTimeout},
		Dispatch: dispatch.Options{
			Identity:         identity(cfg),
			Timeout:          t.RequestTimeout,
			SnippetThreshold: cfg.RPC.SnippetThreshold,
			RatePerMin:       cfg.RPC.RatePerMin,
		},
	}, nil
}
