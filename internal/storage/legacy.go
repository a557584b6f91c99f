package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// LegacyNotifyTime is used for imported entries that carry no time. The
// old bot checked reminders once a day at this hour.
const LegacyNotifyTime = "09:00"

// ImportLegacy loads a reminders.json array (chat_id/type/name/date objects)
// into st. It runs only while st is empty, so a second start with the same
// setting imports nothing. Records that fail validation are skipped and
// logged. It returns how many entries were appended.
func ImportLegacy(ctx context.Context, st Store, path string, log logx.Logger) (int, error) {
	path = strings.TrimSpace(path)
	if st == nil || path == "" {
		return 0, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	existing, err := st.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("legacy import: list: %w", err)
	}
	if len(existing) > 0 {
		log.Debug("legacy import skipped; store not empty", logx.Int("entries", len(existing)))
		return 0, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("legacy file not found", logx.String("path", path))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("legacy import: %w", err)
	}
	var records []reminder.Entry
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("legacy import %s: want a JSON array: %w", path, err)
	}

	n := 0
	for i, e := range records {
		if strings.TrimSpace(e.Time) == "" {
			e.Time = LegacyNotifyTime
		}
		if k, err := reminder.ParseKind(string(e.Kind)); err == nil {
			e.Kind = k
		}
		if _, err := reminder.ParseDate(e.Date); err != nil {
			log.Warn("legacy record skipped", logx.Int("index", i), logx.Err(err))
			continue
		}
		if _, err := st.Append(ctx, e); err != nil {
			if errors.Is(err, ErrInvalidEntry) {
				log.Warn("legacy record skipped", logx.Int("index", i), logx.Err(err))
				continue
			}
			return n, fmt.Errorf("legacy import: append: %w", err)
		}
		n++
	}
	log.Info("legacy reminders imported", logx.String("path", path), logx.Int("imported", n), logx.Int("records", len(records)))
	return n, nil
}
