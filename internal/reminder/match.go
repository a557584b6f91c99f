package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultWindow is the default match tolerance around notify_time.
const DefaultWindow = 60 * time.Second

var ErrNonPositiveYears = errors.New("elapsed years must be positive")

// DataError marks an entry whose stored values cannot be evaluated. The
// scheduler skips such entries and keeps going.
type DataError struct {
	EntryID string
	Field   string
	Value   string
	Err     error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("entry %s: bad %s %q: %v", e.EntryID, e.Field, e.Value, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// IsDataError reports whether err came from a malformed entry.
func IsDataError(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}

// LeapPolicy picks the day a 29 Feb entry fires on in non-leap years.
type LeapPolicy int

const (
	LeapFeb28 LeapPolicy = iota
	LeapMar1
)

func (p LeapPolicy) String() string {
	if p == LeapMar1 {
		return "mar1"
	}
	return "feb28"
}

// ParseLeapPolicy accepts "feb28" (default when empty) or "mar1".
func ParseLeapPolicy(s string) (LeapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "feb28", "28-02":
		return LeapFeb28, nil
	case "mar1", "01-03":
		return LeapMar1, nil
	default:
		return LeapFeb28, fmt.Errorf("unknown leap day policy %q (use feb28 or mar1)", s)
	}
}

// Occurrence is the matcher verdict for one entry at one instant.
type Occurrence struct {
	Due          bool
	Year         int
	ElapsedYears int
}

// Matcher decides whether an entry's yearly occurrence falls on the current
// tick. Dates are read on the wall clock of Location; the window is measured
// on absolute time, so DST shifts neither skip nor repeat an occurrence.
type Matcher struct {
	Window   time.Duration
	Location *time.Location
	Leap     LeapPolicy
}

func (m Matcher) location() *time.Location {
	if m.Location == nil {
		return time.UTC
	}
	return m.Location
}

// Match returns Due when now's month/day equals the entry's effective
// month/day for now's year and now lies within Window of the notify instant.
// The notify time is also tried on the neighbouring days, so a 00:00 entry
// still matches at 23:59 on its own date.
//
// A notify time inside a spring-forward gap resolves to the instant
// time.Date normalizes it to. One inside a fall-back overlap resolves to a
// single instant.
//
// A malformed date or time, or a non-positive year count on a due
// occurrence, is reported as *DataError.
func (m Matcher) Match(e Entry, now time.Time) (Occurrence, error) {
	now = now.In(m.location())

	d, err := ParseDate(e.Date)
	if err != nil {
		return Occurrence{}, &DataError{EntryID: e.ID, Field: "date", Value: e.Date, Err: err}
	}
	c, err := ParseClock(e.Time)
	if err != nil {
		return Occurrence{}, &DataError{EntryID: e.ID, Field: "time", Value: e.Time, Err: err}
	}

	month, dom := EffectiveDay(d, now.Year(), m.Leap)
	if now.Month() != month || now.Day() != dom {
		return Occurrence{Year: now.Year()}, nil
	}
	if notifyDistance(now, month, dom, c) > m.window() {
		return Occurrence{Year: now.Year()}, nil
	}

	elapsed := now.Year() - d.Year
	if elapsed <= 0 {
		return Occurrence{}, &DataError{EntryID: e.ID, Field: "date", Value: e.Date, Err: ErrNonPositiveYears}
	}
	return Occurrence{Due: true, Year: now.Year(), ElapsedYears: elapsed}, nil
}

func (m Matcher) window() time.Duration {
	if m.Window < 0 {
		return 0
	}
	return m.Window
}

// EffectiveDay maps the entry's day/month onto year, applying the leap policy
// to 29 Feb entries when year has no 29 Feb.
func EffectiveDay(d Date, year int, p LeapPolicy) (time.Month, int) {
	if d.Month == time.February && d.Day == 29 && !IsLeap(year) {
		if p == LeapMar1 {
			return time.March, 1
		}
		return time.February, 28
	}
	return d.Month, d.Day
}

func IsLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// notifyDistance is the absolute time between now and the nearest notify
// instant on the day before, on, or after month/dom in now's zone.
func notifyDistance(now time.Time, month time.Month, dom int, c Clock) time.Duration {
	best := time.Duration(-1)
	for shift := -1; shift <= 1; shift++ {
		at := time.Date(now.Year(), month, dom+shift, c.Hour, c.Minute, 0, 0, now.Location())
		d := now.Sub(at)
		if d < 0 {
			d = -d
		}
		if best < 0 || d < best {
			best = d
		}
	}
	return best
}

// NextOccurrence returns the first notify instant of e strictly after from.
func (m Matcher) NextOccurrence(e Entry, from time.Time) (time.Time, error) {
	loc := m.location()
	from = from.In(loc)
	d, err := ParseDate(e.Date)
	if err != nil {
		return time.Time{}, &DataError{EntryID: e.ID, Field: "date", Value: e.Date, Err: err}
	}
	c, err := ParseClock(e.Time)
	if err != nil {
		return time.Time{}, &DataError{EntryID: e.ID, Field: "time", Value: e.Time, Err: err}
	}
	for y := from.Year(); y <= from.Year()+1; y++ {
		month, dom := EffectiveDay(d, y, m.Leap)
		at := time.Date(y, month, dom, c.Hour, c.Minute, 0, 0, loc)
		if at.After(from) {
			return at, nil
		}
	}
	month, dom := EffectiveDay(d, from.Year()+2, m.Leap)
	return time.Date(from.Year()+2, month, dom, c.Hour, c.Minute, 0, 0, loc), nil
}
