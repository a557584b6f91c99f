package delivery

import (
	"context"
	"time"

	"remindbot/internal/reminder"
)

// Sender is the outbound chat channel.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, chatID int64, text string) error

func (f SenderFunc) SendText(ctx context.Context, chatID int64, text string) error {
	return f(ctx, chatID, text)
}

type Config struct {
	Workers      int
	RetryCount   int           // total attempts, not extra retries
	RetryBackoff time.Duration // fixed pause between attempts
	SendTimeout  time.Duration
	RatePerSec   int
}

// Job is one rendered occurrence ready to send.
type Job struct {
	Entry reminder.Entry
	Year  int
	Key   string
	Text  string
}

// Outcome is the final result of one Job.
type Outcome struct {
	Job      Job
	Attempts int
	Err      error
	Class    Class
}

func (o Outcome) OK() bool { return o.Err == nil }
