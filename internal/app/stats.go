package app

import (
	"context"
	"sync"
	"time"

	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	logx "remindbot/pkg/logx"
)

// Stats is the document served on /stats.
type Stats struct {
	StartedAt   time.Time                `json:"started_at"`
	Uptime      string                   `json:"uptime"`
	Storage     string                   `json:"storage_driver"`
	Scheduler   scheduler.Snapshot       `json:"scheduler"`
	Delivery    DeliveryStats            `json:"delivery"`
	Collect     CollectStats             `json:"collect"`
	Events      EventCounts              `json:"events"`
	LastTick    *eventbus.TickSummary    `json:"last_tick,omitempty"`
	LastFailure *eventbus.ReminderEvent  `json:"last_failure,omitempty"`
	BusDropped  uint64                   `json:"bus_dropped"`
	Supervisors map[string][]rtsup.Stats `json:"supervisors,omitempty"`
}

type DeliveryStats struct {
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

type CollectStats struct {
	Saved          uint64 `json:"saved"`
	ActiveSessions int    `json:"active_sessions"`
}

// EventCounts tallies bus events since start.
type EventCounts struct {
	Ticks   uint64 `json:"ticks"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Skipped uint64 `json:"skipped"`
	Added   uint64 `json:"added"`
}

// statsCollector folds bus events into counters for /stats.
type statsCollector struct {
	mu          sync.Mutex
	counts      EventCounts
	lastTick    *eventbus.TickSummary
	lastFailure *eventbus.ReminderEvent
}

func (c *statsCollector) observe(e eventbus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch e.Type {
	case eventbus.TypeTickCompleted:
		c.counts.Ticks++
		if ts, ok := e.Data.(eventbus.TickSummary); ok {
			c.lastTick = &ts
		}
	case eventbus.TypeReminderSent:
		c.counts.Sent++
	case eventbus.TypeReminderFailed:
		c.counts.Failed++
		if re, ok := e.Data.(eventbus.ReminderEvent); ok {
			c.lastFailure = &re
		}
	case eventbus.TypeReminderSkipped:
		c.counts.Skipped++
	case eventbus.TypeEntryAdded:
		c.counts.Added++
	}
}

// run consumes events until ctx ends or the channel closes. Every event
// is also logged at debug level.
func (c *statsCollector) run(ctx context.Context, events <-chan eventbus.Event, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.observe(e)
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (c *statsCollector) fill(s *Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.Events = c.counts
	if c.lastTick != nil {
		ts := *c.lastTick
		s.LastTick = &ts
	}
	if c.lastFailure != nil {
		re := *c.lastFailure
		s.LastFailure = &re
	}
}
