package config

import (
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Chat     ChatConfig     `json:"chat"`
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	RPC      RPCConfig      `json:"rpc"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

// ChatConfig describes the bot identity and who may run mutating commands.
//
// Adapter values: "telegram" (default), "shell".
type ChatConfig struct {
	Adapter string `json:"adapter,omitempty"`
	Name    string `json:"name,omitempty"`  // default: "hubot"
	Alias   string `json:"alias,omitempty"` // optional short alias, e.g. "!"

	// OwnerIDs gates rpc add/remove/set prefix/hup. Empty means anyone may run them.
	OwnerIDs []string `json:"owner_ids,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors log lines at or above MinLevel into a chat room.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	Room       string `json:"room"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RPCConfig controls endpoint polling, request signing and invocation.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - private_key_env: "RPC_PRIVATE_KEY"
//   - key_id: "hubotkey"
//   - poll_interval: "10s"
//   - poll_max_interval: "1h"
//   - request_timeout: "150s"
//   - snippet_threshold: 3500
//   - rate_per_min: 0 (no limit)
type RPCConfig struct {
	PrivateKeyEnv  string `json:"private_key_env,omitempty"`
	PrivateKeyFile string `json:"private_key_file,omitempty"`
	KeyID          string `json:"key_id,omitempty"`

	PollInterval    string `json:"poll_interval,omitempty"`
	PollMaxInterval string `json:"poll_max_interval,omitempty"`
	RequestTimeout  string `json:"request_timeout,omitempty"`

	SnippetThreshold int `json:"snippet_threshold,omitempty"`
	// RatePerMin caps invocations per endpoint. 0 disables the limiter.
	RatePerMin int `json:"rate_per_min,omitempty"`

	// AllowInsecure accepts http:// endpoints on any adapter.
	AllowInsecure bool `json:"allow_insecure,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/rpcbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

const (
	AdapterTelegram = "telegram"
	AdapterShell    = "shell"
)

// AdapterName returns the normalized adapter with the default applied.
func (c ChatConfig) AdapterName() string {
	a := strings.ToLower(strings.TrimSpace(c.Adapter))
	if a == "" {
		return AdapterTelegram
	}
	return a
}

// BotName returns the robot name with the default applied.
func (c ChatConfig) BotName() string {
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}
	return "hubot"
}

// Validate checks cross-field constraints that the decoder cannot express.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	switch c.Chat.AdapterName() {
	case AdapterTelegram:
		if strings.TrimSpace(c.Telegram.Token) == "" {
			errs = append(errs, errors.New("telegram.token is required for the telegram adapter"))
		}
	case AdapterShell:
	default:
		errs = append(errs, fmt.Errorf("chat.adapter: unknown adapter %q", c.Chat.Adapter))
	}
	if c.RPC.SnippetThreshold < 0 {
		errs = append(errs, errors.New("rpc.snippet_threshold must be >= 0"))
	}
	if c.RPC.RatePerMin < 0 {
		errs = append(errs, errors.New("rpc.rate_per_min must be >= 0"))
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout": c.Telegram.PollTimeout,
		"storage.busy_timeout":  c.storageBusyTimeout(),
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := c.RPC.Timings(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) storageBusyTimeout() string {
	if c.Storage == nil {
		return ""
	}
	return c.Storage.BusyTimeout
}
