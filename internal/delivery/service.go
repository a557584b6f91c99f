package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/eventbus"
	logx "remindbot/pkg/logx"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Service sends rendered reminders with bounded retry.
//
// Only Transient failures are retried, up to RetryCount attempts in total
// with a fixed RetryBackoff between them. Jobs in one batch run on a
// bounded pool and never affect each other. Safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender Sender
	log    logx.Logger
	bus    eventbus.Bus

	sent   atomic.Uint64
	failed atomic.Uint64
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 1
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Counters returns lifetime sent/failed totals.
func (s *Service) Counters() (sent, failed uint64) {
	return s.sent.Load(), s.failed.Load()
}

// DeliverAll sends every job on at most Workers goroutines and calls done
// once per job with its outcome. It returns after all jobs finished or were
// abandoned because ctx ended. done may be nil and must be safe for
// concurrent use.
func (s *Service) DeliverAll(ctx context.Context, jobs []Job, done func(Outcome)) {
	if len(jobs) == 0 {
		return
	}
	workers := s.Config().Workers

	// The group context is not used: one job's failure must not cancel
	// its siblings, so every job returns nil.
	var g errgroup.Group
	g.SetLimit(workers)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			out := s.Deliver(ctx, j)
			if done != nil {
				done(out)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Deliver sends one job, retrying transient failures.
func (s *Service) Deliver(ctx context.Context, j Job) Outcome {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	log := s.log.With(
		logx.String("entry_id", j.Entry.ID),
		logx.Int64("recipient_id", j.Entry.RecipientID),
	)
	out := Outcome{Job: j}
	if sender == nil {
		out.Err, out.Class = ErrNoSender, ClassPermanent
		s.finish(log, out)
		return out
	}

	for attempt := 1; attempt <= cfg.RetryCount; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				out.Err, out.Class = abandoned(ctx, err), ClassTransient
				break
			}
		}

		out.Attempts = attempt
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := sender.SendText(callCtx, j.Entry.RecipientID, j.Text)
		cancel()
		if err == nil {
			out.Err, out.Class = nil, ClassNone
			break
		}
		out.Err, out.Class = err, Classify(err)
		if ctx.Err() != nil {
			out.Err, out.Class = abandoned(ctx, err), ClassTransient
			break
		}
		if out.Class == ClassPermanent {
			log.Debug("send failed permanently", logx.Err(err), logx.Int("attempt", attempt))
			break
		}
		log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", cfg.RetryCount))
		if attempt >= cfg.RetryCount {
			break
		}
		if err := sleep(ctx, cfg.RetryBackoff); err != nil {
			out.Err = abandoned(ctx, out.Err)
			break
		}
	}

	s.finish(log, out)
	return out
}

func (s *Service) finish(log logx.Logger, out Outcome) {
	ev := eventbus.ReminderEvent{
		EntryID:     out.Job.Entry.ID,
		RecipientID: out.Job.Entry.RecipientID,
		Key:         out.Job.Key,
		Attempts:    out.Attempts,
	}
	if out.Err == nil {
		s.sent.Add(1)
		log.Info("reminder sent", logx.Int("attempts", out.Attempts))
		eventbus.Publish(s.bus, eventbus.TypeReminderSent, ev)
		return
	}
	s.failed.Add(1)
	ev.Error = out.Err.Error()
	ev.Reason = out.Class.String()
	log.Warn("reminder delivery failed",
		logx.Err(out.Err),
		logx.String("class", out.Class.String()),
		logx.Int("attempts", out.Attempts),
	)
	eventbus.Publish(s.bus, eventbus.TypeReminderFailed, ev)
}

type abandonedError struct {
	cause error
	last  error
}

func (e abandonedError) Error() string {
	if e.last != nil && !errors.Is(e.last, e.cause) {
		return "abandoned: " + e.cause.Error() + " (last: " + e.last.Error() + ")"
	}
	return "abandoned: " + e.cause.Error()
}

func (e abandonedError) Unwrap() error { return e.cause }

// abandoned wraps the shutdown cause so callers can tell a cut-short
// delivery from an exhausted one.
func abandoned(ctx context.Context, last error) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return Transient(abandonedError{cause: cause, last: last})
}

// IsAbandoned reports whether the outcome was cut short by shutdown.
func IsAbandoned(err error) bool {
	var e abandonedError
	return errors.As(err, &e)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
