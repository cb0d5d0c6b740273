package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"newsbot/internal/failure"
	"newsbot/pkg/logx"
)

// FileStore persists the set as a single JSON array of strings, oldest
// first. The whole file is rewritten (temp file + rename) on every Record
// that changes the set.
type FileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	set    *fifoSet
	closed bool
}

// OpenFile loads path if it exists. A missing, unreadable or corrupt file
// yields an empty store; the problem is logged, never returned.
func OpenFile(path string, capacity int, log logx.Logger) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("dedup.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &FileStore{log: log, path: path, set: newFIFOSet(capacity)}

	ids, err := readIDs(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("dedup file not found; starting empty", logx.String("path", path))
	case err != nil:
		log.Warn("dedup file unreadable; starting empty", logx.String("path", path), logx.Err(err))
	default:
		s.set.load(ids)
		log.Debug("dedup file loaded", logx.String("path", path), logx.Int("ids", s.set.len()))
	}
	return s, nil
}

func readIDs(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *FileStore) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.contains(id)
}

func (s *FileStore) Record(_ context.Context, id string) error {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	evicted, added := s.set.add(id)
	if !added {
		return nil
	}
	if len(evicted) > 0 {
		s.log.Debug("dedup evicted oldest", logx.Int("count", len(evicted)))
	}
	if err := s.flushLocked(); err != nil {
		s.log.Warn("dedup flush failed; state kept in memory only", logx.String("path", s.path), logx.Err(err))
		return failure.Persistence("dedup.flush", err)
	}
	return nil
}

func (s *FileStore) flushLocked() error {
	b, err := json.Marshal(s.set.snapshot())
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.len()
}

func (s *FileStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.snapshot()
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
