package config

import (
	"slices"
	"sort"
	"strings"

	logx "rpcbot/pkg/logx"
)

// Sections whose changes only take effect after a restart.
var restartSections = map[string]bool{
	"chat.adapter":  true,
	"chat.identity": true,
	"telegram":      true,
	"rpc":           true,
	"rpc.key":       true,
	"storage":       true,
}

// SummarizeConfigChange returns (1) a compact sorted list of changed sections,
// (2) safe structured attrs for logging (never includes tokens or key material),
// and (3) the subset of changed sections that need a restart to apply.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Chat identity and owners
	if oldCfg.Chat.AdapterName() != newCfg.Chat.AdapterName() {
		changed = append(changed, "chat.adapter")
		attrs = append(attrs, logx.String("chat.adapter", newCfg.Chat.AdapterName()))
	}
	if oldCfg.Chat.BotName() != newCfg.Chat.BotName() ||
		strings.TrimSpace(oldCfg.Chat.Alias) != strings.TrimSpace(newCfg.Chat.Alias) {
		changed = append(changed, "chat.identity")
		attrs = append(attrs,
			logx.String("chat.name", newCfg.Chat.BotName()),
			logx.Bool("chat.alias_set", strings.TrimSpace(newCfg.Chat.Alias) != ""),
		)
	}
	if !slices.Equal(oldCfg.Chat.OwnerIDs, newCfg.Chat.OwnerIDs) {
		changed = append(changed, "chat.owners")
		attrs = append(attrs, logx.Int("chat.owner_count", len(newCfg.Chat.OwnerIDs)))
	}

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	// RPC key material (never log the key or file contents)
	oR, nR := oldCfg.RPC, newCfg.RPC
	if oR.PrivateKeyEnv != nR.PrivateKeyEnv || oR.PrivateKeyFile != nR.PrivateKeyFile || oR.KeyID != nR.KeyID {
		changed = append(changed, "rpc.key")
		attrs = append(attrs,
			logx.Bool("rpc.key_file_set", strings.TrimSpace(nR.PrivateKeyFile) != ""),
			logx.String("rpc.key_id", nR.KeyID),
		)
	}
	oR.PrivateKeyEnv, oR.PrivateKeyFile, oR.KeyID = "", "", ""
	nR.PrivateKeyEnv, nR.PrivateKeyFile, nR.KeyID = "", "", ""
	if oR != nR {
		changed = append(changed, "rpc")
		attrs = append(attrs,
			logx.String("rpc.poll_interval", nR.PollInterval),
			logx.String("rpc.poll_max_interval", nR.PollMaxInterval),
			logx.String("rpc.request_timeout", nR.RequestTimeout),
			logx.Int("rpc.snippet_threshold", nR.SnippetThreshold),
			logx.Int("rpc.rate_per_min", nR.RatePerMin),
			logx.Bool("rpc.allow_insecure", nR.AllowInsecure),
		)
	}

	// Storage (persistence). Nil means in-memory.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	sort.Strings(changed)
	var restart []string
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
