package app

import (
	"strings"
	"time"

	"remindbot/internal/collect"
	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/health"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
)

// Defaults for keys the config leaves empty. Durations that fail to parse
// never get here; Validate rejects them first.
const (
	defaultPollTimeout   = 10 * time.Second
	defaultWorkers       = 4
	defaultRetryCount    = 3
	defaultRetryBackoff  = 2 * time.Second
	defaultSendTimeout   = 10 * time.Second
	defaultRatePerSec    = 20
	defaultSQLiteBusy    = time.Second
	defaultStoragePath   = "./data/remindbot"
	defaultSQLiteFile    = "./data/remindbot.db"
	defaultMongoDatabase = "remindbot"
)

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:       strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout: poll,
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
	}, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChatID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	tick, err := config.ParseDurationField("scheduler.tick_interval", s.TickInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	window, err := config.ParseDurationField("scheduler.match_window", s.MatchWindow)
	if err != nil {
		return scheduler.Config{}, err
	}
	grace, err := config.ParseDurationField("scheduler.grace_period", s.GracePeriod)
	if err != nil {
		return scheduler.Config{}, err
	}
	// zero durations pick the scheduler's own defaults
	return scheduler.Config{
		Enabled:      s.IsEnabled(),
		TickInterval: tick,
		MatchWindow:  window,
		Timezone:     strings.TrimSpace(s.Timezone),
		LeapDay:      strings.TrimSpace(s.LeapDay),
		Dedup:        s.DedupEnabled(),
		GracePeriod:  grace,
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	d := cfg.Delivery
	backoff, err := config.ParseDurationOrDefault("delivery.retry_backoff", d.RetryBackoff, defaultRetryBackoff)
	if err != nil {
		return delivery.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("delivery.send_timeout", d.SendTimeout, defaultSendTimeout)
	if err != nil {
		return delivery.Config{}, err
	}
	out := delivery.Config{
		Workers:      d.Workers,
		RetryCount:   d.RetryCount,
		RetryBackoff: backoff,
		SendTimeout:  timeout,
		RatePerSec:   d.RatePerSec,
	}
	if out.Workers <= 0 {
		out.Workers = defaultWorkers
	}
	if out.RetryCount <= 0 {
		out.RetryCount = defaultRetryCount
	}
	if out.RatePerSec <= 0 {
		out.RatePerSec = defaultRatePerSec
	}
	return out, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	out := storage.Config{
		Driver:   driver,
		Path:     strings.TrimSpace(sc.Path),
		DSN:      strings.TrimSpace(sc.DSN),
		Database: strings.TrimSpace(sc.Database),
	}
	switch driver {
	case "file":
		if out.Path == "" {
			out.Path = defaultStoragePath
		}
	case "sqlite", "sqlite3":
		if out.Path == "" {
			out.Path = defaultSQLiteFile
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultSQLiteBusy)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	case "mongo", "mongodb":
		if out.Database == "" {
			out.Database = defaultMongoDatabase
		}
	}
	return out, nil
}

func mapCollectConfig(cfg *config.Config) (collect.Config, error) {
	ttl, err := config.ParseDurationOrDefault("collect.session_ttl", cfg.Collect.SessionTTL, collect.DefaultSessionTTL)
	if err != nil {
		return collect.Config{}, err
	}
	return collect.Config{SessionTTL: ttl, MaxSessions: cfg.Collect.MaxSessions}, nil
}

func mapHealthConfig(cfg *config.Config) health.Config {
	return health.Config{
		Enabled:    cfg.Health.Enabled,
		Addr:       strings.TrimSpace(cfg.Health.Addr),
		DebugToken: strings.TrimSpace(cfg.Health.DebugToken),
	}
}
