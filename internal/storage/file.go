package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"

	logx "pifan/pkg/logx"
)

// fileStore appends records as JSON Lines and keeps the newest Retain of
// them in memory. When the file grows to twice Retain lines it is rewritten
// with the in-memory tail (temp file + rename).
type fileStore struct {
	path   string
	retain int
	log    logx.Logger

	mu    sync.Mutex
	f     *os.File
	lines int
	// ring holds the newest records, oldest first.
	ring []Record
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	s := &fileStore{path: cfg.Path, retain: cfg.Retain, log: log}
	if err := s.load(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	log.Debug("history file opened", logx.String("path", cfg.Path), logx.Int("records", len(s.ring)))
	return s, nil
}

// load replays the existing file. Malformed lines are skipped.
func (s *fileStore) load() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	bad := 0
	for sc.Scan() {
		s.lines++
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Kind == "" {
			bad++
			continue
		}
		s.push(r)
	}
	if bad > 0 {
		s.log.Warn("skipped malformed history lines", logx.Int("count", bad))
	}
	return sc.Err()
}

func (s *fileStore) push(r Record) {
	s.ring = append(s.ring, r)
	if over := len(s.ring) - s.retain; over > 0 {
		s.ring = append(s.ring[:0:0], s.ring[over:]...)
	}
}

func (s *fileStore) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if _, err := s.f.Write(append(b, '\n')); err != nil {
		return err
	}
	s.lines++
	s.push(r)
	if s.lines >= 2*s.retain {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("history compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.ring) {
		n = len(s.ring)
	}
	out := make([]Record, 0, n)
	for i := len(s.ring) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.ring[i])
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range s.ring {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	// The old descriptor points at the replaced inode.
	_ = s.f.Close()
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.f = nil
		return err
	}
	s.f = nf
	s.lines = len(s.ring)
	s.log.Debug("history compacted", logx.Int("records", s.lines))
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

var _ Store = (*fileStore)(nil)
