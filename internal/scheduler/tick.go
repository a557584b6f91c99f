package scheduler

import (
	"context"
	"time"

	"remindbot/internal/delivery"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

// RunTick evaluates every stored entry against now and dispatches the due
// ones. Delivery runs in the background on the scheduler's supervisor; use
// WaitIdle to wait for it. The returned summary is also published as
// tick.completed.
func (s *Service) RunTick(ctx context.Context, now time.Time) eventbus.TickSummary {
	start := time.Now()
	s.ticks.Add(1)

	s.mu.Lock()
	cfg := s.cfg
	m := s.matcher
	loc := s.loc
	s.mu.Unlock()

	now = now.In(loc)
	sum := eventbus.TickSummary{At: now}
	log := s.log.With(logx.Time("tick", now))

	// Store calls of one tick must not run into the next one.
	tctx, cancel := context.WithTimeout(ctx, cfg.TickInterval)
	defer cancel()

	entries, err := s.store.List(tctx)
	if err != nil {
		sum.StoreError = err.Error()
		sum.Took = time.Since(start)
		log.Warn("store list failed; tick aborted", logx.Err(err))
		eventbus.Publish(s.bus, eventbus.TypeTickCompleted, sum)
		return sum
	}
	sum.Loaded = len(entries)

	var jobs []delivery.Job
	for _, e := range entries {
		job, ok := s.evaluate(tctx, log, cfg, m, e, now, &sum)
		if ok {
			jobs = append(jobs, job)
		}
	}
	sum.Dispatched = len(jobs)
	s.dispatch(jobs, cfg.Dedup)

	sum.Took = time.Since(start)
	if sum.Due > 0 || sum.DataErrors > 0 {
		log.Info("tick completed",
			logx.Int("loaded", sum.Loaded),
			logx.Int("due", sum.Due),
			logx.Int("dispatched", sum.Dispatched),
			logx.Int("already_claimed", sum.Claimed),
			logx.Int("data_errors", sum.DataErrors),
		)
	} else {
		log.Debug("tick completed", logx.Int("loaded", sum.Loaded), logx.Duration("took", sum.Took))
	}
	eventbus.Publish(s.bus, eventbus.TypeTickCompleted, sum)
	return sum
}

// evaluate turns one entry into a job, or explains why not. Every failure
// stays inside this entry.
func (s *Service) evaluate(ctx context.Context, log logx.Logger, cfg Config, m reminder.Matcher,
	e reminder.Entry, now time.Time, sum *eventbus.TickSummary) (delivery.Job, bool) {

	elog := log.With(logx.String("entry_id", e.ID), logx.Int64("recipient_id", e.RecipientID))

	occ, err := m.Match(e, now)
	if err != nil {
		sum.DataErrors++
		elog.Warn("skipping malformed entry", logx.Err(err))
		s.skipped(e, "", "data_error", err)
		return delivery.Job{}, false
	}
	if !occ.Due {
		return delivery.Job{}, false
	}
	sum.Due++

	text, err := reminder.Render(e.Kind, e.Name, occ.ElapsedYears)
	if err != nil {
		sum.DataErrors++
		elog.Warn("skipping entry with unknown kind", logx.Err(err))
		s.skipped(e, "", "data_error", err)
		return delivery.Job{}, false
	}

	key := reminder.OccurrenceKey(e, occ.Year)
	if cfg.Dedup {
		won, err := s.store.ClaimOccurrence(ctx, key, now.Add(markerTTL))
		if err != nil {
			elog.Warn("claim failed; entry skipped this tick", logx.String("key", key), logx.Err(err))
			s.skipped(e, key, "claim_error", err)
			return delivery.Job{}, false
		}
		if !won {
			sum.Claimed++
			elog.Debug("occurrence already claimed", logx.String("key", key))
			s.skipped(e, key, "already_sent", nil)
			return delivery.Job{}, false
		}
	}
	return delivery.Job{Entry: e, Year: occ.Year, Key: key, Text: text}, true
}

func (s *Service) skipped(e reminder.Entry, key, reason string, err error) {
	ev := eventbus.ReminderEvent{EntryID: e.ID, RecipientID: e.RecipientID, Key: key, Reason: reason}
	if err != nil {
		ev.Error = err.Error()
	}
	eventbus.Publish(s.bus, eventbus.TypeReminderSkipped, ev)
}

// dispatch hands jobs to the deliverer without blocking the tick. With
// dedup on, a claim is given back when delivery ran out of transient
// retries or was cut short, so a later tick in the window can try again.
// Permanent failures keep their claim.
func (s *Service) dispatch(jobs []delivery.Job, dedup bool) {
	if len(jobs) == 0 || s.deliverer == nil {
		return
	}
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()

	s.batches.Add(1)
	s.inflight.Add(1)
	sup.Go0("deliver.batch", func(ctx context.Context) {
		defer s.batches.Done()
		defer s.inflight.Add(-1)
		s.deliverer.DeliverAll(ctx, jobs, func(o delivery.Outcome) {
			if !dedup || o.OK() || o.Class != delivery.ClassTransient {
				return
			}
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.store.ReleaseOccurrence(rctx, o.Job.Key); err != nil {
				s.log.Warn("release claim failed", logx.String("key", o.Job.Key), logx.Err(err))
			}
		})
	})
}
