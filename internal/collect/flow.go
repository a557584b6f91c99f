package collect

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Store is the part of the entry store the conversation writes to.
type Store interface {
	Append(ctx context.Context, e reminder.Entry) (reminder.Entry, error)
	List(ctx context.Context) ([]reminder.Entry, error)
}

// Replier sends conversation replies.
type Replier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Config struct {
	SessionTTL  time.Duration
	MaxSessions int
}

const (
	msgCancelled  = "Theek hai, cancel kar diya. Naya reminder banane ke liye /start bhejein."
	msgNothing    = "Cancel karne ke liye kuch nahi hai."
	msgUnknownCmd = "Ye command samajh nahi aaya. /help dekhein."
	msgSaveFailed = "❌ Reminder save nahi ho paya. Thodi der baad time dobara bhejein."
	msgListFailed = "❌ Reminders abhi load nahi ho paaye. Thodi der baad koshish karein."
	msgListEmpty  = "Koi reminder nahi mila. /start se naya reminder banayein."
	msgHelp       = "Main birthdays aur anniversaries yaad rakhta hoon.\n\n" +
		"/start - naya reminder banayein\n" +
		"/list - apne reminders dekhein\n" +
		"/cancel - chal rahi entry cancel karein\n" +
		"/help - ye message\n\n" +
		"Har saal usi din aur time par aapko message milega."
)

// Commands is the command menu the flow understands.
func Commands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "start", Description: "Naya reminder banayein"},
		{Command: "list", Description: "Apne reminders dekhein"},
		{Command: "cancel", Description: "Chal rahi entry cancel karein"},
		{Command: "help", Description: "Madad"},
	}
}

// Flow runs the per-chat collection conversation and writes finished
// entries to the store.
type Flow struct {
	log      logx.Logger
	bus      eventbus.Bus
	store    Store
	sessions *SessionStore
	matcher  func() reminder.Matcher
	now      func() time.Time

	mu    sync.Mutex
	saved atomic.Uint64
}

// New builds a flow. matcher supplies the zone and leap policy used for
// date checks and /list; nil means UTC with defaults.
func New(cfg Config, store Store, matcher func() reminder.Matcher, log logx.Logger, bus eventbus.Bus) *Flow {
	if log.IsZero() {
		log = logx.Nop()
	}
	if matcher == nil {
		matcher = func() reminder.Matcher { return reminder.Matcher{} }
	}
	return &Flow{
		log:      log,
		bus:      bus,
		store:    store,
		sessions: NewSessionStore(cfg.SessionTTL, cfg.MaxSessions),
		matcher:  matcher,
		now:      time.Now,
	}
}

func (f *Flow) Apply(cfg Config) {
	f.sessions.Configure(cfg.SessionTTL, cfg.MaxSessions)
}

// Saved counts entries written since start.
func (f *Flow) Saved() uint64 { return f.saved.Load() }

// ActiveSessions counts conversations in progress.
func (f *Flow) ActiveSessions() int { return f.sessions.Len() }

// Handle processes one inbound message and returns the reply, or "" when
// nothing should be sent. Messages of one chat must not be handled
// concurrently.
func (f *Flow) Handle(ctx context.Context, m kit.Message) string {
	text := strings.TrimSpace(m.Text)
	if cmd, ok := parseCommand(text); ok {
		return f.command(ctx, m.ChatID, cmd)
	}

	m0 := f.matcher()
	now := f.now()
	if m0.Location != nil {
		now = now.In(m0.Location)
	}

	sess, _ := f.sessions.Get(m.ChatID)
	st := advance(now, sess, text)
	if st.Save != nil {
		e := *st.Save
		e.RecipientID = m.ChatID
		saved, err := f.store.Append(ctx, e)
		if err != nil {
			f.log.Warn("append entry failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
			// keep the session so resending the time retries the save
			f.sessions.Put(m.ChatID, sess)
			return msgSaveFailed
		}
		f.saved.Add(1)
		f.log.Info("entry saved",
			logx.String("entry_id", saved.ID),
			logx.Int64("chat_id", m.ChatID),
			logx.String("kind", string(saved.Kind)),
		)
		eventbus.Publish(f.bus, eventbus.TypeEntryAdded, eventbus.ReminderEvent{EntryID: saved.ID, RecipientID: saved.RecipientID})
	}
	if st.Next.Stage != sess.Stage {
		f.log.Debug("session advanced", logx.Int64("chat_id", m.ChatID),
			logx.String("from", sess.Stage.String()), logx.String("to", st.Next.Stage.String()))
	}
	f.sessions.Put(m.ChatID, st.Next)
	return st.Reply
}

// parseCommand returns the lower-case command name of "/cmd@bot args".
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.Fields(text)[0][1:]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), true
}

func (f *Flow) command(ctx context.Context, chatID int64, cmd string) string {
	switch cmd {
	case "start":
		f.sessions.Put(chatID, Session{Stage: StageAwaitKind})
		return msgStart
	case "cancel":
		if _, ok := f.sessions.Get(chatID); !ok {
			return msgNothing
		}
		f.sessions.Delete(chatID)
		return msgCancelled
	case "list":
		return f.list(ctx, chatID)
	case "help":
		return msgHelp
	default:
		return msgUnknownCmd
	}
}

type listed struct {
	e    reminder.Entry
	next time.Time
}

// list renders the chat's own entries ordered by their next occurrence.
func (f *Flow) list(ctx context.Context, chatID int64) string {
	all, err := f.store.List(ctx)
	if err != nil {
		f.log.Warn("list entries failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return msgListFailed
	}
	m := f.matcher()
	now := f.now()

	var mine []listed
	for _, e := range all {
		if e.RecipientID != chatID {
			continue
		}
		next, err := m.NextOccurrence(e, now)
		if err != nil {
			next = time.Time{}
		}
		mine = append(mine, listed{e: e, next: next})
	}
	if len(mine) == 0 {
		return msgListEmpty
	}
	sort.SliceStable(mine, func(i, j int) bool {
		a, b := mine[i].next, mine[j].next
		if a.IsZero() != b.IsZero() {
			return b.IsZero()
		}
		return a.Before(b)
	})

	var sb strings.Builder
	sb.WriteString("Aapke reminders:\n")
	for i, it := range mine {
		next := "invalid"
		if !it.next.IsZero() {
			next = it.next.Format(reminder.DateLayout + " " + reminder.ClockLayout)
		}
		fmt.Fprintf(&sb, "%d. %s %s | %s %s | next: %s\n",
			i+1, kindIcon(it.e.Kind), it.e.Name, it.e.Date, it.e.Time, next)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func kindIcon(k reminder.Kind) string {
	switch k {
	case reminder.KindBirthday:
		return "🎂"
	case reminder.KindAnniversary:
		return "💍"
	default:
		return "📅"
	}
}

// Run answers updates until ctx ends or updates is closed. Updates are
// handled in arrival order so one chat's messages never race.
func (f *Flow) Run(ctx context.Context, updates <-chan kit.Update, out Replier) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil {
				continue
			}
			f.serve(ctx, *up.Message, out)
		}
	}
}

func (f *Flow) serve(ctx context.Context, m kit.Message, out Replier) {
	f.mu.Lock()
	defer f.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	reply := f.Handle(hctx, m)
	if reply == "" || out == nil {
		return
	}
	if err := out.SendText(hctx, m.ChatID, reply); err != nil {
		f.log.Warn("reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}
