package dedup

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"newsbot/internal/failure"
	"newsbot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps the set in a SQLite table. Insert and FIFO pruning run
// in one transaction, so the table never holds more than capacity rows.
type SQLiteStore struct {
	db  *sql.DB
	log logx.Logger

	mu     sync.Mutex
	set    *fifoSet
	closed bool
}

// OpenSQLite opens (or creates) the database at path. A failing read of the
// existing rows is logged and the store starts empty.
func OpenSQLite(ctx context.Context, path string, capacity int, log logx.Logger) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("dedup.path is required for sqlite driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = FULL")
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, log: log, set: newFIFOSet(capacity)}
	ids, err := s.loadIDs(ctx)
	if err != nil {
		log.Warn("dedup table unreadable; starting empty", logx.String("path", path), logx.Err(err))
	} else {
		s.set.load(ids)
		if len(ids) > s.set.cap {
			// capacity was lowered since the rows were written
			if err := prune(ctx, db, s.set.cap); err != nil {
				log.Warn("dedup prune failed", logx.String("path", path), logx.Err(err))
			}
		}
	}
	return s, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// prune keeps the newest capacity rows.
func prune(ctx context.Context, db execer, capacity int) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM seen WHERE seq NOT IN (SELECT seq FROM seen ORDER BY seq DESC LIMIT ?)`,
		capacity,
	)
	return err
}

func (s *SQLiteStore) loadIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM seen ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.contains(id)
}

func (s *SQLiteStore) Record(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, added := s.set.add(id); !added {
		return nil
	}
	if err := s.persistLocked(ctx, id); err != nil {
		s.log.Warn("dedup insert failed; state kept in memory only", logx.Err(err))
		return failure.Persistence("dedup.insert", err)
	}
	return nil
}

func (s *SQLiteStore) persistLocked(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO seen(id, created_at) VALUES(?, ?) ON CONFLICT(id) DO NOTHING`,
		id, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	if err := prune(ctx, tx, s.set.cap); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.len()
}

func (s *SQLiteStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.snapshot()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
