package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	logx "remindbot/pkg/logx"

	"github.com/robfig/cron/v3"
)

type Service struct {
	mu sync.Mutex

	log       logx.Logger
	bus       eventbus.Bus
	store     Store
	deliverer Deliverer
	now       func() time.Time

	cfg     Config
	loc     *time.Location
	matcher reminder.Matcher

	c       *cron.Cron
	entryID cron.EntryID
	started bool

	// sup owns delivery batches; it outlives the cron so Stop can give
	// in-flight sends a grace period.
	sup      *rtsup.Supervisor
	batches  sync.WaitGroup
	inflight atomic.Int64
	ticks    atomic.Uint64
}

// New validates cfg and builds a stopped scheduler. An unknown timezone or
// leap-day policy is a configuration error.
func New(cfg Config, store Store, deliverer Deliverer, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:       log,
		bus:       bus,
		store:     store,
		deliverer: deliverer,
		now:       time.Now,
	}
	if err := s.applyLocked(cfg); err != nil {
		return nil, err
	}
	s.sup = s.newSupervisor()
	return s, nil
}

func (s *Service) newSupervisor() *rtsup.Supervisor {
	return rtsup.New(context.Background(), rtsup.WithLogger(s.log))
}

func normalize(cfg Config) Config {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.MatchWindow <= 0 {
		cfg.MatchWindow = reminder.DefaultWindow
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	cfg.Timezone = strings.TrimSpace(cfg.Timezone)
	return cfg
}

func (s *Service) applyLocked(cfg Config) error {
	cfg = normalize(cfg)
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("scheduler.timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	leap, err := reminder.ParseLeapPolicy(cfg.LeapDay)
	if err != nil {
		return fmt.Errorf("scheduler.leap_day: %w", err)
	}
	s.cfg = cfg
	s.loc = loc
	s.matcher = reminder.Matcher{Window: cfg.MatchWindow, Location: loc, Leap: leap}
	return nil
}

// Apply swaps the configuration at runtime. A changed cadence or zone
// restarts the cron; toggling Enabled stops or resumes ticking.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	old := s.cfg
	if err := s.applyLocked(cfg); err != nil {
		s.mu.Unlock()
		return err
	}
	var stale *cron.Cron
	restart := false
	switch {
	case !s.started:
	case s.c != nil && !s.cfg.Enabled:
		stale = s.detachCronLocked()
		s.log.Info("scheduler disabled by config")
	case s.c != nil && (old.TickInterval != s.cfg.TickInterval || old.Timezone != s.cfg.Timezone):
		stale = s.detachCronLocked()
		restart = true
	case s.c == nil && s.cfg.Enabled:
		restart = true
	}
	s.mu.Unlock()

	// the running tick takes s.mu, so wait for it unlocked
	waitCron(context.Background(), stale)

	if restart {
		s.mu.Lock()
		if s.c == nil && s.started && s.cfg.Enabled {
			s.startCronLocked()
			s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Duration("tick", s.cfg.TickInterval))
		}
		s.mu.Unlock()
	}
	return nil
}

// Start begins ticking. It is idempotent and does nothing when disabled.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.started = true
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled")
		return
	}
	if s.sup.Context().Err() != nil {
		s.sup = s.newSupervisor()
	}
	s.startCronLocked()
	s.log.Info("service started",
		logx.String("tz", s.loc.String()),
		logx.Duration("tick", s.cfg.TickInterval),
		logx.Duration("window", s.cfg.MatchWindow),
		logx.String("leap_day", s.matcher.Leap.String()),
		logx.Bool("dedup", s.cfg.Dedup),
	)
}

func (s *Service) startCronLocked() {
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.entryID = s.c.Schedule(alignedEvery{every: s.cfg.TickInterval}, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.sup.Context()
		s.mu.Unlock()
		s.RunTick(ctx, s.now())
	}))
	s.c.Start()
}

func (s *Service) detachCronLocked() *cron.Cron {
	c := s.c
	s.c = nil
	return c
}

func waitCron(ctx context.Context, c *cron.Cron) {
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Stop stops taking ticks, then waits up to the grace period (bounded by
// ctx) for in-flight deliveries before abandoning them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.detachCronLocked()
	s.started = false
	grace := s.cfg.GracePeriod
	sup := s.sup
	s.mu.Unlock()

	waitCron(ctx, c)

	gctx, cancel := context.WithTimeout(ctx, grace)
	err := s.WaitIdle(gctx)
	cancel()
	if err != nil {
		s.log.Warn("grace period elapsed; abandoning in-flight deliveries",
			logx.Int64("batches", s.inflight.Load()), logx.Duration("grace", grace))
	}
	sup.Cancel()
	if err != nil {
		// abandoned sends return promptly once their context is gone
		_ = s.WaitIdle(ctx)
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// WaitIdle blocks until no delivery batch is in flight or ctx ends.
func (s *Service) WaitIdle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.batches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Enabled:      s.cfg.Enabled,
		Running:      s.c != nil,
		Timezone:     s.loc.String(),
		TickInterval: s.cfg.TickInterval,
		MatchWindow:  s.cfg.MatchWindow,
		LeapDay:      s.matcher.Leap.String(),
		Dedup:        s.cfg.Dedup,
		Ticks:        s.ticks.Load(),
		InFlight:     s.inflight.Load(),
	}
	if s.c != nil {
		snap.NextTick = s.c.Entry(s.entryID).Next
	}
	return snap
}

// Matcher returns the matcher built from the current config.
func (s *Service) Matcher() reminder.Matcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matcher
}
