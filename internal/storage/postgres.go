package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
	now  func() time.Time
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	if err := runPostgresMigrations(dsn, log); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &postgresStore{pool: pool, log: log, now: time.Now}, nil
}

// runPostgresMigrations applies the embedded migrations through a short-lived
// database/sql connection.
func runPostgresMigrations(dsn string, log logx.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("cannot connect to db: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("cannot create driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("cannot open migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("cannot create migrate: %w", err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("cannot migrate up: %w", err)
	}
	log.Info("migrations applied")
	return nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) Append(ctx context.Context, e reminder.Entry) (reminder.Entry, error) {
	if s == nil || s.pool == nil {
		return e, ErrDisabled
	}
	e, err := prepare(e, s.now())
	if err != nil {
		return e, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO entries(id, recipient_id, kind, name, date, time, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.RecipientID, string(e.Kind), e.Name, e.Date, e.Time, e.CreatedAt,
	)
	if err != nil {
		return e, fmt.Errorf("insert entry: %w", err)
	}
	return e, nil
}

func (s *postgresStore) List(ctx context.Context) ([]reminder.Entry, error) {
	if s == nil || s.pool == nil {
		return nil, ErrDisabled
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, recipient_id, kind, name, date, time, created_at FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []reminder.Entry
	for rows.Next() {
		var (
			e    reminder.Entry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.RecipientID, &kind, &e.Name, &e.Date, &e.Time, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = reminder.Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *postgresStore) ClaimOccurrence(ctx context.Context, key string, until time.Time) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrDisabled
	}
	if key == "" {
		return false, errors.New("empty occurrence key")
	}
	var got string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sent_markers(key, until) VALUES($1,$2)
		 ON CONFLICT(key) DO UPDATE SET until = EXCLUDED.until WHERE sent_markers.until <= $3
		 RETURNING key`,
		key, until, s.now(),
	).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim occurrence: %w", err)
	}
	return true, nil
}

func (s *postgresStore) ReleaseOccurrence(ctx context.Context, key string) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM sent_markers WHERE key = $1`, key); err != nil {
		return fmt.Errorf("release occurrence: %w", err)
	}
	return nil
}
