// Package dedup remembers which news items were already delivered.
//
// A Store is a bounded, insertion-ordered set of item IDs. When a Record
// would exceed capacity the oldest IDs are evicted first. Every backend
// keeps the set in memory for Contains and persists after each Record.
package dedup

import (
	"context"
	"errors"
	"strings"

	"newsbot/pkg/logx"
)

// DefaultCapacity is used when Config.Capacity is not positive.
const DefaultCapacity = 100

var ErrClosed = errors.New("dedup store closed")

type Store interface {
	Contains(id string) bool
	// Record marks id as delivered and persists the new state before
	// returning. On a persistence failure the in-memory state is kept and
	// a *failure.Error of kind persistence is returned.
	Record(ctx context.Context, id string) error
	Len() int
	// IDs returns a copy of the stored IDs, oldest first.
	IDs() []string
	Close() error
}

// Config selects and configures a backend.
//
// Driver values:
//   - "file" (default): JSON array rewritten on every Record
//   - "sqlite": SQLite database file
//   - "memory": non-durable, for tests and dry runs
type Config struct {
	Driver   string
	Path     string
	Capacity int
}

// Open initializes the configured store. Unreadable or corrupt state is
// logged and treated as empty; only an unusable backend returns an error.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file", "json":
		return OpenFile(cfg.Path, cfg.Capacity, log)
	case "sqlite", "sqlite3":
		return OpenSQLite(ctx, cfg.Path, cfg.Capacity, log)
	case "memory", "mem":
		return NewMemStore(cfg.Capacity), nil
	default:
		return nil, errors.New("unknown dedup driver: " + cfg.Driver)
	}
}
