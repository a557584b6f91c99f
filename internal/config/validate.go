package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
)

const (
	defaultTickInterval = 30 * time.Second
	defaultRetryBackoff = 2 * time.Second
)

// ValidationError lists every problem found in one pass.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// Validate checks the parsed config. Anything it rejects is a startup
// error, or keeps the previous config on reload.
func (c *Config) Validate() error {
	var probs []string
	add := func(format string, args ...any) {
		probs = append(probs, fmt.Sprintf(format, args...))
	}
	dur := func(path, raw string) time.Duration {
		d, err := ParseDurationField(path, raw)
		if err != nil {
			add("%v", err)
		}
		return d
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token is required (or set BOT_TOKEN)")
	}
	dur("telegram.poll_timeout", c.Telegram.PollTimeout)
	if c.Logging.Telegram.Enabled && c.Telegram.LogChatID == 0 {
		add("logging.telegram.enabled needs telegram.log_chat_id")
	}
	if c.Logging.Telegram.RatePerSec < 0 {
		add("logging.telegram.rate_per_sec must be >= 0")
	}

	s := c.Scheduler
	tick := dur("scheduler.tick_interval", s.TickInterval)
	window := dur("scheduler.match_window", s.MatchWindow)
	dur("scheduler.grace_period", s.GracePeriod)
	if tick == 0 {
		tick = defaultTickInterval
	}
	if window == 0 {
		window = reminder.DefaultWindow
	}
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: unknown zone %q", tz)
		}
	}
	if _, err := reminder.ParseLeapPolicy(s.LeapDay); err != nil {
		add("scheduler.leap_day: %v", err)
	}
	// Without claims a window at least one tick wide can match the same
	// occurrence on two ticks.
	if !s.DedupEnabled() && window >= tick {
		add("scheduler.match_window (%s) must be shorter than scheduler.tick_interval (%s) when dedup is off", window, tick)
	}

	d := c.Delivery
	if d.Workers < 0 {
		add("delivery.workers must be >= 0")
	}
	if d.RetryCount < 0 {
		add("delivery.retry_count must be >= 0")
	}
	if d.RatePerSec < 0 {
		add("delivery.rate_per_sec must be >= 0")
	}
	dur("delivery.retry_backoff", d.RetryBackoff)
	dur("delivery.send_timeout", d.SendTimeout)

	driver := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch {
	case driver == "" || driver == "none":
		add("storage.driver is required (file, sqlite, postgres, mongo or redis)")
	case !storage.KnownDriver(driver):
		add("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	dur("storage.busy_timeout", c.Storage.BusyTimeout)

	dur("collect.session_ttl", c.Collect.SessionTTL)
	if c.Collect.MaxSessions < 0 {
		add("collect.max_sessions must be >= 0")
	}

	if len(probs) == 0 {
		return nil
	}
	return &ValidationError{Problems: probs}
}

// Warnings reports settings that are legal but likely wrong.
func (c *Config) Warnings() []string {
	var out []string
	tick, _ := ParseDurationOrDefault("", c.Scheduler.TickInterval, defaultTickInterval)
	window, _ := ParseDurationOrDefault("", c.Scheduler.MatchWindow, reminder.DefaultWindow)
	if !c.Scheduler.DedupEnabled() && 2*window >= tick {
		out = append(out, "scheduler.match_window is more than half the tick interval; a slow tick may send twice")
	}
	if !c.Health.Enabled {
		out = append(out, "health server disabled; keep-alive pings will fail")
	}
	backoff, _ := ParseDurationOrDefault("", c.Delivery.RetryBackoff, defaultRetryBackoff)
	if backoff > time.Minute {
		out = append(out, "delivery.retry_backoff over a minute delays whole ticks")
	}
	return out
}

// IsValidation reports whether err came from Validate.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
