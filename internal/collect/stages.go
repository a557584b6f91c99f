package collect

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"remindbot/internal/reminder"
)

type Stage int

const (
	StageIdle Stage = iota
	StageAwaitKind
	StageAwaitName
	StageAwaitDate
	StageAwaitTime
)

func (s Stage) String() string {
	switch s {
	case StageAwaitKind:
		return "await_kind"
	case StageAwaitName:
		return "await_name"
	case StageAwaitDate:
		return "await_date"
	case StageAwaitTime:
		return "await_time"
	default:
		return "idle"
	}
}

// Session is one chat's progress through the collection conversation.
type Session struct {
	Stage Stage
	Kind  reminder.Kind
	Name  string
	Date  string // normalized DD-MM-YYYY
}

const maxNameRunes = 100

const (
	msgStart      = "Namaste! Kis cheez ka reminder chahiye?\n1. Birthday\n2. Anniversary\nReply 1 ya 2 bhejein."
	msgKindRetry  = "Reply 1 (Birthday) ya 2 (Anniversary) bhejein."
	msgAskName    = "Naam bataiye (jiska reminder chahiye):"
	msgNameEmpty  = "Naam khaali nahi ho sakta. Naam bataiye:"
	msgNameLong   = "Naam bahut lamba hai (max 100 characters). Chhota naam bhejein:"
	msgAskDate    = "Date bataiye (DD-MM-YYYY):"
	msgBadDate    = "❌ Date galat hai! DD-MM-YYYY format me dobara bhejein."
	msgOldDate    = "❌ Date 1900 se pehle ki nahi ho sakti. DD-MM-YYYY format me dobara bhejein."
	msgFutureDate = "❌ Date future me nahi ho sakti. DD-MM-YYYY format me dobara bhejein."
	msgAskTime    = "Reminder kis time bhejna hai? (HH:MM, 24-hour, jaise 09:00)"
	msgBadTime    = "❌ Time galat hai! HH:MM (24-hour) format me dobara bhejein."
	msgIdleHint   = "Naya reminder banane ke liye /start bhejein. Madad ke liye /help."
)

// step is the result of one transition. Save is set when the conversation
// produced a complete entry; the caller persists it and then moves to Next.
type step struct {
	Next  Session
	Reply string
	Save  *reminder.Entry
}

type transition func(now time.Time, s Session, text string) step

var transitions = map[Stage]transition{
	StageIdle:      onIdle,
	StageAwaitKind: onAwaitKind,
	StageAwaitName: onAwaitName,
	StageAwaitDate: onAwaitDate,
	StageAwaitTime: onAwaitTime,
}

// advance applies the transition for s.Stage to a non-command message.
func advance(now time.Time, s Session, text string) step {
	fn, ok := transitions[s.Stage]
	if !ok {
		return step{Next: Session{}, Reply: msgIdleHint}
	}
	return fn(now, s, strings.TrimSpace(text))
}

// parseKindChoice accepts the menu numbers and the kind names.
func parseKindChoice(text string) (reminder.Kind, bool) {
	switch text {
	case "1":
		return reminder.KindBirthday, true
	case "2":
		return reminder.KindAnniversary, true
	}
	k, err := reminder.ParseKind(text)
	return k, err == nil
}

// onIdle lets a bare "1" or "2" start a conversation without /start.
func onIdle(_ time.Time, s Session, text string) step {
	if text == "1" || text == "2" {
		k, _ := parseKindChoice(text)
		return step{Next: Session{Stage: StageAwaitName, Kind: k}, Reply: msgAskName}
	}
	return step{Next: s, Reply: msgIdleHint}
}

func onAwaitKind(_ time.Time, s Session, text string) step {
	k, ok := parseKindChoice(text)
	if !ok {
		return step{Next: s, Reply: msgKindRetry}
	}
	return step{Next: Session{Stage: StageAwaitName, Kind: k}, Reply: msgAskName}
}

func onAwaitName(_ time.Time, s Session, text string) step {
	switch {
	case text == "":
		return step{Next: s, Reply: msgNameEmpty}
	case utf8.RuneCountInString(text) > maxNameRunes:
		return step{Next: s, Reply: msgNameLong}
	}
	s.Name = text
	s.Stage = StageAwaitDate
	return step{Next: s, Reply: msgAskDate}
}

// onAwaitDate takes the origin date. It must exist, be on or after
// 01-01-1900 and not lie in the future.
func onAwaitDate(now time.Time, s Session, text string) step {
	d, err := reminder.ParseDate(text)
	if err != nil {
		return step{Next: s, Reply: msgBadDate}
	}
	if d.Year < 1900 {
		return step{Next: s, Reply: msgOldDate}
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC).After(today) {
		return step{Next: s, Reply: msgFutureDate}
	}
	s.Date = d.String()
	s.Stage = StageAwaitTime
	return step{Next: s, Reply: msgAskTime}
}

func onAwaitTime(_ time.Time, s Session, text string) step {
	c, err := reminder.ParseClock(text)
	if err != nil {
		return step{Next: s, Reply: msgBadTime}
	}
	e := reminder.Entry{
		Kind: s.Kind,
		Name: s.Name,
		Date: s.Date,
		Time: c.String(),
	}
	return step{Next: Session{}, Reply: confirmation(e), Save: &e}
}

func confirmation(e reminder.Entry) string {
	return fmt.Sprintf("Reminder saved! %s of %s on %s at %s", e.Kind, e.Name, e.Date, e.Time)
}
