package config

import (
	"reflect"
	"strings"

	logx "remindbot/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) safe
// structured attrs for logging (never the bot token or a storage DSN),
// and (3) the changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		restart []string
		attrs   = make([]logx.Field, 0, 16)
	)

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.Bool("telegram.api_url_set", strings.TrimSpace(newCfg.Telegram.APIURL) != ""),
			logx.Bool("telegram.log_chat_set", newCfg.Telegram.LogChatID != 0),
		)
		if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
			oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL ||
			oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
			restart = append(restart, "telegram")
		}
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		s := newCfg.Scheduler
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", s.IsEnabled()),
			logx.String("scheduler.tick_interval", s.TickInterval),
			logx.String("scheduler.match_window", s.MatchWindow),
			logx.String("scheduler.timezone", s.Timezone),
			logx.String("scheduler.leap_day", s.LeapDay),
			logx.Bool("scheduler.dedup", s.DedupEnabled()),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		d := newCfg.Delivery
		attrs = append(attrs,
			logx.Int("delivery.workers", d.Workers),
			logx.Int("delivery.retry_count", d.RetryCount),
			logx.String("delivery.retry_backoff", d.RetryBackoff),
			logx.Int("delivery.rate_per_sec", d.RatePerSec),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_changed", oldCfg.Storage.DSN != newCfg.Storage.DSN),
		)
		restart = append(restart, "storage")
	}

	if oldCfg.Collect != newCfg.Collect {
		changed = append(changed, "collect")
		attrs = append(attrs,
			logx.String("collect.session_ttl", newCfg.Collect.SessionTTL),
			logx.Int("collect.max_sessions", newCfg.Collect.MaxSessions),
		)
	}

	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
		attrs = append(attrs,
			logx.Bool("health.enabled", newCfg.Health.Enabled),
			logx.String("health.addr", newCfg.Health.Addr),
			logx.Bool("health.debug_enabled", strings.TrimSpace(newCfg.Health.DebugToken) != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		restart = append(restart, "systemd")
	}

	return changed, attrs, restart
}
