package reminder

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

// Layouts used for persisted and user-entered values.
const (
	DateLayout  = "02-01-2006"
	ClockLayout = "15:04"
)

type Kind string

const (
	KindBirthday    Kind = "Birthday"
	KindAnniversary Kind = "Anniversary"
)

var ErrUnknownKind = errors.New("unknown reminder kind")

// ParseKind accepts the canonical names case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "birthday":
		return KindBirthday, nil
	case "anniversary":
		return KindAnniversary, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Entry is one recurring annual event. Date and Time are stored exactly as
// the collection flow validated them; the matcher re-parses them on every
// tick and skips the entry if they no longer parse.
//
// JSON names match the legacy reminders.json layout (chat_id/type/name/date)
// so storage.ImportLegacy can decode those files directly.
type Entry struct {
	ID          string    `json:"id" bson:"_id"`
	RecipientID int64     `json:"chat_id" bson:"chat_id"`
	Kind        Kind      `json:"type" bson:"type"`
	Name        string    `json:"name" bson:"name"`
	Date        string    `json:"date" bson:"date"` // DD-MM-YYYY, year is the origin year
	Time        string    `json:"time" bson:"time"` // HH:MM in the reference zone
	CreatedAt   time.Time `json:"created_at,omitempty" bson:"created_at"`
}

// Date is a calendar date without a zone.
type Date struct {
	Day   int
	Month time.Month
	Year  int
}

func (d Date) String() string {
	return fmt.Sprintf("%02d-%02d-%04d", d.Day, int(d.Month), d.Year)
}

// ParseDate parses DD-MM-YYYY and rejects dates that do not exist
// (31-04-2000, 29-02-2001).
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if len(s) != len(DateLayout) {
		return Date{}, fmt.Errorf("date %q: want DD-MM-YYYY", s)
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{Day: t.Day(), Month: t.Month(), Year: t.Year()}, nil
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// ParseClock parses a 24h HH:MM value.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	if len(s) != len(ClockLayout) {
		return Clock{}, fmt.Errorf("time %q: want HH:MM", s)
	}
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return Clock{}, err
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// OccurrenceKey identifies one yearly occurrence of an entry. It is the
// sent-marker key used for at-most-once delivery.
//
// Entries written before IDs existed fall back to a content hash.
func OccurrenceKey(e Entry, year int) string {
	id := strings.TrimSpace(e.ID)
	if id == "" {
		h := fnv.New64a()
		_, _ = h.Write([]byte(strconv.FormatInt(e.RecipientID, 10)))
		for _, part := range []string{string(e.Kind), e.Name, e.Date, e.Time} {
			_, _ = h.Write([]byte{0})
			_, _ = h.Write([]byte(part))
		}
		id = fmt.Sprintf("h%x", h.Sum64())
	}
	return id + ":" + strconv.Itoa(year)
}
