package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	logx "pifan/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrations string

// pruneEvery is the number of appends between retention sweeps.
const pruneEvery = 500

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	retain int

	appends atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("history database opened", logx.String("path", cfg.Path))
	return &sqliteStore{db: db, log: log, retain: cfg.Retain}, nil
}

func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(at, kind, name, run_id, duration_ns, err, detail) VALUES(?,?,?,?,?,?,?)`,
		r.At.UTC().Format(time.RFC3339Nano), r.Kind, r.Name, nullStr(r.RunID), int64(r.Duration), nullStr(r.Error), nullStr(r.Detail),
	)
	if err != nil {
		return err
	}
	if s.appends.Add(1)%pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := s.prune(pctx); err != nil {
			s.log.Debug("history prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		n = s.retain
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, kind, name, run_id, duration_ns, err, detail FROM history ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			at                  string
			r                   Record
			runID, errS, detail sql.NullString
			dur                 int64
		)
		if err := rows.Scan(&at, &r.Kind, &r.Name, &runID, &dur, &errS, &detail); err != nil {
			return nil, err
		}
		if r.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("history row: bad timestamp %q: %w", at, err)
		}
		r.RunID, r.Error, r.Detail = runID.String, errS.String, detail.String
		r.Duration = time.Duration(dur)
		out = append(out, r)
	}
	return out, rows.Err()
}

// prune keeps the newest retain rows.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE id <= (SELECT id FROM history ORDER BY id DESC LIMIT 1 OFFSET ?)`, s.retain)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
