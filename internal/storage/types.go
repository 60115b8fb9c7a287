package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the optional audit persistence layer.
//
// Driver values:
//   - "file": dependency-free JSONL append log
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one dispatched command or fired announcement.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time
	Kind    string // "command" | "announce"
	Owner   string
	ChatID  int64
	FromID  int64
	Command string
	Args    string
	OK      bool
	Error   string
	TookMS  int64
}

// Store is the persistence port. Implementations must be safe for
// concurrent use.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
