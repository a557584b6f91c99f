package scheduler

import (
	"context"
	"time"

	"remindbot/internal/delivery"
	"remindbot/internal/reminder"
)

type Config struct {
	Enabled      bool
	TickInterval time.Duration
	MatchWindow  time.Duration
	Timezone     string // IANA name, e.g. "Asia/Kolkata"
	LeapDay      string // "feb28" or "mar1"
	Dedup        bool   // claim (entry, year) before sending
	GracePeriod  time.Duration
}

const (
	DefaultTickInterval = 30 * time.Second
	DefaultGracePeriod  = 10 * time.Second

	// markerTTL keeps a sent marker alive well past the occurrence day.
	markerTTL = 48 * time.Hour
)

// Store is the part of storage.Store the scheduler uses.
type Store interface {
	List(ctx context.Context) ([]reminder.Entry, error)
	ClaimOccurrence(ctx context.Context, key string, until time.Time) (bool, error)
	ReleaseOccurrence(ctx context.Context, key string) error
}

// Deliverer sends a batch and reports each outcome.
type Deliverer interface {
	DeliverAll(ctx context.Context, jobs []delivery.Job, done func(delivery.Outcome))
}

// Snapshot is the scheduler state shown on /stats.
type Snapshot struct {
	Enabled      bool          `json:"enabled"`
	Running      bool          `json:"running"`
	Timezone     string        `json:"timezone"`
	TickInterval time.Duration `json:"tick_interval_ns"`
	MatchWindow  time.Duration `json:"match_window_ns"`
	LeapDay      string        `json:"leap_day"`
	Dedup        bool          `json:"dedup"`
	Ticks        uint64        `json:"ticks"`
	InFlight     int64         `json:"in_flight_batches"`
	NextTick     time.Time     `json:"next_tick,omitempty"`
}
