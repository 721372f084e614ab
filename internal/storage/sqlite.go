package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "agendawatch/pkg/logx"
)

//go:embed schema.sql
var schema string

const (
	defaultBusyTimeout = time.Second
	// Expired dedup rows are swept on every n-th PutDedup.
	dedupSweepEvery = 500
)

// Statements, prepared once per store.
const (
	qInsertRun = `INSERT INTO runs(id, job, source, status, started, finished, failed_step, err, steps)
VALUES(?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET status=excluded.status, finished=excluded.finished,
  failed_step=excluded.failed_step, err=excluded.err, steps=excluded.steps`
	qRecentRuns = `SELECT id, job, source, status, started, finished, failed_step, err, steps FROM runs WHERE (?1 = '' OR job = ?1) ORDER BY started DESC, rowid DESC LIMIT ?2`
	qPutDedup   = `INSERT INTO dedup(key, until) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET until=excluded.until`
	qGetDedup   = `SELECT until FROM dedup WHERE key = ?`
	qSweepDedup = `DELETE FROM dedup WHERE until < ?`
	qMarkSent   = `INSERT INTO sent(signature, week, at) VALUES(?,?,?) ON CONFLICT(signature, week) DO UPDATE SET at=excluded.at`
	qSentWeek   = `SELECT EXISTS(SELECT 1 FROM sent WHERE signature = ? AND week = ?)`
	qPruneSent  = `DELETE FROM sent WHERE at < ?`
)

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	stmt map[string]*sql.Stmt

	puts atomic.Uint64
}

// sqliteDSN sets the pragmas on every connection modernc opens.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for the sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, busy))
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	s := &sqliteStore{db: db, log: log, stmt: make(map[string]*sql.Stmt)}
	for _, q := range []string{qInsertRun, qRecentRuns, qPutDedup, qGetDedup, qSweepDedup, qMarkSent, qSentWeek, qPruneSent} {
		st, err := db.PrepareContext(ctx, q)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("sqlite prepare: %w", err)
		}
		s.stmt[q] = st
	}
	log.Debug("sqlite store opened", logx.String("path", path), logx.Duration("busy_timeout", busy))
	return s, nil
}

func (s *sqliteStore) Close() error {
	var errs []error
	for _, st := range s.stmt {
		errs = append(errs, st.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return err
	}
	_, err = s.stmt[qInsertRun].ExecContext(ctx,
		r.ID, r.Job, r.Trigger, r.Status, r.Started.UnixMilli(), r.Finished.UnixMilli(),
		nullable(r.FailedStep), nullable(r.Error), string(steps))
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, job string, n int) ([]RunRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.stmt[qRecentRuns].QueryContext(ctx, strings.TrimSpace(job), n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) scanRun(rows *sql.Rows) (RunRecord, error) {
	var (
		r                 RunRecord
		started, finished int64
		failedStep, msg   sql.NullString
		steps             sql.NullString
	)
	if err := rows.Scan(&r.ID, &r.Job, &r.Trigger, &r.Status, &started, &finished, &failedStep, &msg, &steps); err != nil {
		return r, err
	}
	r.Started, r.Finished = time.UnixMilli(started), time.UnixMilli(finished)
	r.FailedStep, r.Error = failedStep.String, msg.String
	if steps.String != "" && steps.String != "null" {
		if err := json.Unmarshal([]byte(steps.String), &r.Steps); err != nil {
			s.log.Debug("run steps undecodable", logx.String("id", r.ID), logx.Err(err))
		}
	}
	return r, nil
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	if _, err := s.stmt[qPutDedup].ExecContext(ctx, key, until.UnixMilli()); err != nil {
		return err
	}
	if s.puts.Add(1)%dedupSweepEvery == 0 {
		if _, err := s.stmt[qSweepDedup].ExecContext(ctx, time.Now().UnixMilli()); err != nil {
			s.log.Debug("dedup sweep failed", logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	var ms int64
	switch err := s.stmt[qGetDedup].QueryRowContext(ctx, key).Scan(&ms); {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) MarkSent(ctx context.Context, signature, week string, at time.Time) error {
	if signature == "" || week == "" {
		return errors.New("signature and week are required")
	}
	_, err := s.stmt[qMarkSent].ExecContext(ctx, signature, week, at.UnixMilli())
	return err
}

func (s *sqliteStore) SentWeek(ctx context.Context, signature, week string) (bool, error) {
	var ok bool
	err := s.stmt[qSentWeek].QueryRowContext(ctx, signature, week).Scan(&ok)
	return ok, err
}

func (s *sqliteStore) PruneSent(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.stmt[qPruneSent].ExecContext(ctx, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: strings.TrimSpace(v) != ""}
}
