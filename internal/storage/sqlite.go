package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite.sql migrations/postgres/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer keeps the claim upsert serialized
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/sqlite.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, e reminder.Entry) (reminder.Entry, error) {
	if s == nil || s.db == nil {
		return e, ErrDisabled
	}
	e, err := prepare(e, s.now())
	if err != nil {
		return e, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries(id, recipient_id, kind, name, date, time, created_at) VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.RecipientID, string(e.Kind), e.Name, e.Date, e.Time, e.CreatedAt.Format(time.RFC3339Nano),
	)
	return e, err
}

func (s *sqliteStore) List(ctx context.Context) ([]reminder.Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recipient_id, kind, name, date, time, created_at FROM entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Entry
	for rows.Next() {
		var (
			e       reminder.Entry
			kind    string
			created string
		)
		if err := rows.Scan(&e.ID, &e.RecipientID, &kind, &e.Name, &e.Date, &e.Time, &created); err != nil {
			return nil, err
		}
		e.Kind = reminder.Kind(kind)
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ClaimOccurrence(ctx context.Context, key string, until time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	if key == "" {
		return false, errors.New("empty occurrence key")
	}
	now := s.now().UnixMilli()
	// An existing unexpired marker makes the WHERE fail and no row changes.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_markers(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until WHERE sent_markers.until <= ?`,
		key, until.UnixMilli(), now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return n == 1, nil
}

func (s *sqliteStore) ReleaseOccurrence(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sent_markers WHERE key = ?`, key)
	return err
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sent_markers WHERE until < ?`, s.now().UnixMilli())
	return err
}
