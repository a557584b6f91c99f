package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"

	"github.com/google/uuid"
)

var (
	ErrDisabled     = errors.New("storage disabled")
	ErrClosed       = errors.New("storage closed")
	ErrInvalidEntry = errors.New("invalid entry")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": DSN, schema managed by embedded migrations
//   - "mongo": DSN (mongodb:// URI) and Database
//   - "redis": DSN (redis:// URL)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	Database    string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence contract of the reminder engine.
//
// Append and List are the entry store proper. ClaimOccurrence and
// ReleaseOccurrence manage sent markers: Claim atomically records key unless
// an unexpired marker already exists, and reports whether this caller won.
type Store interface {
	Append(ctx context.Context, e reminder.Entry) (reminder.Entry, error)
	List(ctx context.Context) ([]reminder.Entry, error)
	ClaimOccurrence(ctx context.Context, key string, until time.Time) (bool, error)
	ReleaseOccurrence(ctx context.Context, key string) error
	Close() error
}

// prepare fills the ID and creation time and checks the fields every
// backend requires. Date and time are not parsed here; that is the
// producer's job and the matcher fails closed on bad values.
func prepare(e reminder.Entry, now time.Time) (reminder.Entry, error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.RecipientID == 0 {
		return e, fmt.Errorf("%w: recipient id is required", ErrInvalidEntry)
	}
	if e.Name == "" {
		return e, fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.ID) == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
	return e, nil
}
