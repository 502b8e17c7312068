package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed     = errors.New("storage closed")
	ErrEmptyKey   = errors.New("storage: empty bucket or key")
	ErrUnknownDrv = errors.New("storage: unknown driver")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local, lost on restart (default)
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the registry and the operator commands.
//
// Values are opaque bytes; callers own the encoding (JSON everywhere in this repo).
type Store interface {
	Get(ctx context.Context, bucket, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, bucket, key string, value []byte) error
	Delete(ctx context.Context, bucket, key string) error
	// List returns every key/value in bucket. The returned map is owned by the caller.
	List(ctx context.Context, bucket string) (map[string][]byte, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// AuditEntry records an operator action. Keep it compact and schema-stable.
type AuditEntry struct {
	At        time.Time `json:"at"`
	ActorID   string    `json:"actor_id,omitempty"`
	ActorName string    `json:"actor_name,omitempty"`
	Room      string    `json:"room,omitempty"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"err,omitempty"`
}
