package eventbus

import "time"

// Event types published by the reminder engine.
const (
	TypeTickCompleted   = "tick.completed"
	TypeReminderSent    = "reminder.sent"
	TypeReminderFailed  = "reminder.failed"
	TypeReminderSkipped = "reminder.skipped"
	TypeEntryAdded      = "entry.added"
)

// TickSummary is the payload of tick.completed.
type TickSummary struct {
	At         time.Time     `json:"at"`
	Took       time.Duration `json:"took_ns"`
	Loaded     int           `json:"loaded"`
	Due        int           `json:"due"`
	Dispatched int           `json:"dispatched"`
	Claimed    int           `json:"already_claimed"`
	DataErrors int           `json:"data_errors"`
	StoreError string        `json:"store_error,omitempty"`
}

// ReminderEvent is the payload of reminder.sent / failed / skipped.
type ReminderEvent struct {
	EntryID     string `json:"entry_id"`
	RecipientID int64  `json:"recipient_id"`
	Key         string `json:"key,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}
