package delivery

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

type recordingSender struct {
	mu    sync.Mutex
	calls map[int64]int
	fn    func(chatID int64, call int) error
}

func (r *recordingSender) SendText(ctx context.Context, chatID int64, text string) error {
	r.mu.Lock()
	if r.calls == nil {
		r.calls = map[int64]int{}
	}
	r.calls[chatID]++
	n := r.calls[chatID]
	r.mu.Unlock()
	if r.fn == nil {
		return nil
	}
	return r.fn(chatID, n)
}

func (r *recordingSender) count(chatID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[chatID]
}

func job(id string, chatID int64) Job {
	return Job{
		Entry: reminder.Entry{ID: id, RecipientID: chatID, Kind: reminder.KindBirthday, Name: id},
		Year:  2024,
		Key:   id + ":2024",
		Text:  "hello " + id,
	}
}

func fastConfig() Config {
	return Config{Workers: 3, RetryCount: 3, RetryBackoff: time.Millisecond, SendTimeout: time.Second, RatePerSec: 1000}
}

func TestDeliver_RetryBoundOnTransient(t *testing.T) {
	t.Parallel()

	snd := &recordingSender{fn: func(int64, int) error {
		return Transient(errors.New("connection reset"))
	}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(fastConfig(), snd, logx.Nop(), bus)
	out := s.Deliver(context.Background(), job("a", 1))

	if out.OK() {
		t.Fatal("expected failure")
	}
	if out.Attempts != 3 || snd.count(1) != 3 {
		t.Fatalf("attempts=%d sends=%d want 3", out.Attempts, snd.count(1))
	}
	if out.Class != ClassTransient {
		t.Fatalf("class=%v", out.Class)
	}
	if IsAbandoned(out.Err) {
		t.Fatal("exhaustion is not abandonment")
	}
	ev := <-events
	if ev.Type != eventbus.TypeReminderFailed {
		t.Fatalf("event %q", ev.Type)
	}
	if _, failed := s.Counters(); failed != 1 {
		t.Fatalf("failed counter=%d", failed)
	}
}

func TestDeliver_TransientThenSuccess(t *testing.T) {
	t.Parallel()

	snd := &recordingSender{fn: func(_ int64, n int) error {
		if n < 2 {
			return &net.OpError{Op: "dial", Err: errors.New("refused")}
		}
		return nil
	}}
	s := New(fastConfig(), snd, logx.Nop(), nil)
	out := s.Deliver(context.Background(), job("a", 1))
	if !out.OK() || out.Attempts != 2 {
		t.Fatalf("out=%+v", out)
	}
}

func TestDeliver_PermanentIsNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"explicit", Permanent(errors.New("chat not found"))},
		{"unclassified", errors.New("bad request")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			snd := &recordingSender{fn: func(int64, int) error { return tt.err }}
			s := New(fastConfig(), snd, logx.Nop(), nil)
			out := s.Deliver(context.Background(), job("p", 9))
			if out.Attempts != 1 || snd.count(9) != 1 {
				t.Fatalf("attempts=%d sends=%d want 1", out.Attempts, snd.count(9))
			}
			if out.Class != ClassPermanent {
				t.Fatalf("class=%v", out.Class)
			}
		})
	}
}

func TestDeliverAll_Isolation(t *testing.T) {
	t.Parallel()

	snd := &recordingSender{fn: func(chatID int64, _ int) error {
		if chatID == 2 {
			return Permanent(errors.New("bot was blocked by the user"))
		}
		return nil
	}}
	s := New(fastConfig(), snd, logx.Nop(), nil)

	var mu sync.Mutex
	var okIDs, failIDs []string
	s.DeliverAll(context.Background(), []Job{job("first", 1), job("second", 2), job("third", 3)}, func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		if o.OK() {
			okIDs = append(okIDs, o.Job.Entry.ID)
		} else {
			failIDs = append(failIDs, o.Job.Entry.ID)
		}
	})

	sort.Strings(okIDs)
	if len(okIDs) != 2 || okIDs[0] != "first" || okIDs[1] != "third" {
		t.Fatalf("ok=%v", okIDs)
	}
	if len(failIDs) != 1 || failIDs[0] != "second" {
		t.Fatalf("fail=%v", failIDs)
	}
	for _, id := range []int64{1, 2, 3} {
		if snd.count(id) != 1 {
			t.Fatalf("recipient %d sends=%d want 1", id, snd.count(id))
		}
	}
}

// A retrying job's backoff must not hold up the other jobs in the batch.
func TestDeliverAll_BackoffDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.Workers = 2
	cfg.RetryBackoff = 300 * time.Millisecond
	var fastDone time.Time
	var mu sync.Mutex
	snd := &recordingSender{fn: func(chatID int64, _ int) error {
		if chatID == 1 {
			return Transient(errors.New("timeout"))
		}
		return nil
	}}
	s := New(cfg, snd, logx.Nop(), nil)

	start := time.Now()
	s.DeliverAll(context.Background(), []Job{job("slow", 1), job("fast", 2)}, func(o Outcome) {
		if o.Job.Entry.ID == "fast" {
			mu.Lock()
			fastDone = time.Now()
			mu.Unlock()
		}
	})
	mu.Lock()
	defer mu.Unlock()
	if d := fastDone.Sub(start); d >= cfg.RetryBackoff {
		t.Fatalf("fast job waited %v behind a retrying job", d)
	}
}

func TestDeliver_ShutdownAbandonsBackoff(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.RetryBackoff = time.Hour
	snd := &recordingSender{fn: func(int64, int) error { return Transient(errors.New("down")) }}
	s := New(cfg, snd, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	out := s.Deliver(ctx, job("x", 5))
	if !IsAbandoned(out.Err) {
		t.Fatalf("expected abandoned, got %v", out.Err)
	}
	if out.Attempts != 1 {
		t.Fatalf("attempts=%d", out.Attempts)
	}
}

func TestDeliver_NoSender(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, logx.Nop(), nil)
	out := s.Deliver(context.Background(), job("x", 1))
	if !errors.Is(out.Err, ErrNoSender) || out.Class != ClassPermanent {
		t.Fatalf("out=%+v", out)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassNone},
		{"transient", Transient(errors.New("x")), ClassTransient},
		{"permanent", Permanent(errors.New("x")), ClassPermanent},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"net", &net.DNSError{Err: "no such host", IsTemporary: true}, ClassTransient},
		{"plain", errors.New("x"), ClassPermanent},
		{"permanent wins", Permanent(Transient(errors.New("x"))), ClassPermanent},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Fatalf("%s: Classify=%v want %v", tt.name, got, tt.want)
		}
	}
}

func TestApply_Defaults(t *testing.T) {
	t.Parallel()

	s := New(Config{RetryCount: -1, RetryBackoff: -time.Second}, nil, logx.Nop(), nil)
	cfg := s.Config()
	if cfg.RetryCount != 1 || cfg.RetryBackoff != 0 || cfg.Workers != 4 || cfg.SendTimeout != 10*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	s.Apply(Config{Workers: 8, RetryCount: 5})
	if got := s.Config(); got.Workers != 8 || got.RetryCount != 5 {
		t.Fatalf("Apply: %+v", got)
	}
}
