package storage

import (
	"fmt"
	"strings"

	logx "rpcbot/pkg/logx"
)

// Open initializes the configured store. An empty driver yields a memory store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDrv, driver)
	}
}

func checkKey(bucket, key string) error {
	if strings.TrimSpace(bucket) == "" || key == "" {
		return ErrEmptyKey
	}
	return nil
}
