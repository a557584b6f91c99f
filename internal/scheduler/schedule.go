package scheduler

import (
	"time"

	logx "remindbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

// alignedEvery fires on multiples of every since the zero time, so a 30s
// tick lands on :00 and :30 regardless of when the process started.
type alignedEvery struct {
	every time.Duration
}

func (s alignedEvery) Next(t time.Time) time.Time {
	if s.every <= 0 {
		return time.Time{}
	}
	return t.Truncate(s.every).Add(s.every)
}

// cronLogger routes cron's internal messages to logx.
type cronLogger struct{ log logx.Logger }

var _ cron.Logger = cronLogger{}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
