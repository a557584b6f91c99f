package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"remindbot/internal/collect"
	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/eventbus"
	"remindbot/internal/health"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/systemd"
)

// chatAdapter is the transport plus the plain-send hook the log sink uses.
type chatAdapter interface {
	kit.Adapter
	SendPlain(ctx context.Context, chatID int64, text string) error
}

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	adapter chatAdapter

	deliv  *delivery.Service
	sched  *scheduler.Service
	flow   *collect.Flow
	health *health.Service
	sd     *systemd.Notifier

	stats     *statsCollector
	driver    string
	startedAt time.Time

	updates  chan kit.Update
	stopOnce sync.Once
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	acfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(acfg, bootLog)
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg, ad)
}

// newApp wires every component around an already built transport.
func newApp(cfgm *config.Manager, cfg *config.Config, ad chatAdapter) (*App, error) {
	logSvc, log := logx.New(mapLogConfig(cfg), ad)
	log = log.With(logx.String("comp", "app"))
	for _, w := range cfg.Warnings() {
		log.Warn("config: " + w)
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if store == nil {
		return nil, errors.New("storage is disabled; set storage.driver")
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver))

	fail := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	if legacy := cfg.Storage.ImportLegacy; legacy != "" {
		ictx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := storage.ImportLegacy(ictx, store, legacy, log.With(logx.String("comp", "storage")))
		cancel()
		if err != nil {
			return fail(err)
		}
	}

	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return fail(err)
	}
	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	ccfg, err := mapCollectConfig(cfg)
	if err != nil {
		return fail(err)
	}

	bus := eventbus.New()
	deliv := delivery.New(dcfg, ad, log.With(logx.String("comp", "delivery")), bus)
	sched, err := scheduler.New(scfg, store, deliv, log.With(logx.String("comp", "scheduler")), bus)
	if err != nil {
		return fail(err)
	}
	flow := collect.New(ccfg, store, sched.Matcher, log.With(logx.String("comp", "collect")), bus)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		deliv:   deliv,
		sched:   sched,
		flow:    flow,
		sd:      systemd.NewNotifier(cfg.Systemd.Notify, log.With(logx.String("comp", "systemd"))),
		stats:   &statsCollector{},
		driver:  sc.Driver,
		updates: make(chan kit.Update, 256),
	}
	a.health = health.New(mapHealthConfig(cfg), func() any { return a.Stats() }, log.With(logx.String("comp", "health")))
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.startedAt = time.Now()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapAll(cfg)
		return err
	})

	// subscribe before anything can publish
	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.stats", func(c context.Context) {
		defer unsub()
		a.stats.run(c, events, a.log)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go("collect.dispatch", func(c context.Context) error {
		return a.flow.Run(c, a.updates, a.adapter)
	})

	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 15*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, collect.Commands()); err != nil && c.Err() == nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
		})
	}

	a.sched.Start(a.sup.Context())
	a.health.Start(a.sup.Context())

	applied := a.cfgm.Get()
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, applied, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sd.Ready()
	a.sd.Status("serving")
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		a.sd.Watchdog(c, func() bool { return a.sup.Err() == nil })
	})

	a.log.Info("app started", logx.String("storage", a.driver), logx.Bool("health", a.health.Enabled()))
	return nil
}

// reloadLoop applies published configs until ctx ends, diffing each against
// lastApplied. Bursts collapse to the newest config.
func (a *App) reloadLoop(ctx context.Context, lastApplied *config.Config, sub <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = drainLatest(sub, newCfg)
			a.sd.Reloading()
			a.applyConfig(ctx, lastApplied, newCfg)
			a.sd.Ready()
			lastApplied = newCfg
		}
	}
}

func drainLatest(sub <-chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

// mapped holds every component config derived from one file.
type mapped struct {
	sched   scheduler.Config
	deliv   delivery.Config
	collect collect.Config
	health  health.Config
	logs    logx.Config
}

func mapAll(cfg *config.Config) (mapped, error) {
	var (
		m   mapped
		err error
	)
	if m.sched, err = mapSchedulerConfig(cfg); err != nil {
		return m, err
	}
	if m.deliv, err = mapDeliveryConfig(cfg); err != nil {
		return m, err
	}
	if m.collect, err = mapCollectConfig(cfg); err != nil {
		return m, err
	}
	if _, err = mapStorageConfig(cfg); err != nil {
		return m, err
	}
	m.health = mapHealthConfig(cfg)
	m.logs = mapLogConfig(cfg)
	return m, nil
}

// applyConfig pushes newCfg into the running components. Sections that
// need a restart are logged and left alone.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	m, err := mapAll(newCfg)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(m.logs)
	a.deliv.Apply(m.deliv)
	if err := a.sched.Apply(m.sched); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	}
	a.flow.Apply(m.collect)
	a.health.Reconfigure(ctx, m.health)

	for _, w := range newCfg.Warnings() {
		a.log.Warn("config: " + w)
	}
	a.log.Info("config reloaded", fields...)
}

// Stats assembles the /stats document.
func (a *App) Stats() Stats {
	sent, failed := a.deliv.Counters()
	s := Stats{
		StartedAt:  a.startedAt,
		Storage:    a.driver,
		Scheduler:  a.sched.Snapshot(),
		Delivery:   DeliveryStats{Sent: sent, Failed: failed},
		Collect:    CollectStats{Saved: a.flow.Saved(), ActiveSessions: a.flow.ActiveSessions()},
		BusDropped: a.bus.Dropped(),
	}
	if !a.startedAt.IsZero() {
		s.Uptime = time.Since(a.startedAt).Truncate(time.Second).String()
	}
	a.stats.fill(&s)

	sups := map[string][]rtsup.Stats{}
	if a.sup != nil {
		sups["app"] = a.sup.Snapshot()
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		if sup := sp.Supervisor(); sup != nil {
			sups["telegram"] = sup.Snapshot()
		}
	}
	if sup := a.health.Supervisor(); sup != nil {
		sups["health"] = sup.Snapshot()
	}
	s.Supervisors = sups
	return s
}

// Stop shuts everything down once; later calls return at once.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.stopOnce.Do(func() { a.stop(ctx, reason) })
	return nil
}

func (a *App) stop(ctx context.Context, reason StopReason) {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sd.Status("stopping: " + string(reason))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// the scheduler gets the longest budget: it drains in-flight deliveries
	a.step(ctx, "scheduler", 15*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "health", 2*time.Second, func(c context.Context) error { a.health.Stop(c); return nil })
	a.step(ctx, "adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "storage", 2*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, dispatch, etc.)
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
