package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"newsbot/internal/commands"
	"newsbot/internal/config"
	"newsbot/internal/dedup"
	"newsbot/internal/dispatch"
	"newsbot/internal/eventbus"
	"newsbot/internal/pipeline"
	"newsbot/internal/runtime/supervisor"
	"newsbot/internal/scheduler"
	"newsbot/internal/status"
	"newsbot/internal/transport"
	"newsbot/internal/transport/telegram"
	"newsbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter transport.Adapter
	store   dedup.Store
	disp    *dispatch.Dispatcher
	pipe    *pipeline.Pipeline
	sched   *scheduler.Scheduler
	status  *status.Tracker
	router  *commands.Router

	updates chan transport.Update

	closeOnce sync.Once
}

// New loads and validates the config at cfgPath and wires every component.
// Nothing runs until Start or RunOnce.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	d, err := cfg.Durations()
	if err != nil {
		return nil, err
	}

	// the telegram sink gets its sender once the adapter exists
	logSvc, log := logx.New(mapLogging(cfg), nil)

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: d.PollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	logSvc.SetSender(ad)

	a, err := build(ctx, cfg, cfgm, ad, log)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	a.logs = logSvc
	return a, nil
}

// build wires the components on top of an existing transport.
func build(ctx context.Context, cfg *config.Config, cfgm *config.Manager, ad transport.Adapter, log logx.Logger) (*App, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	d, err := cfg.Durations()
	if err != nil {
		return nil, err
	}
	bus := eventbus.New()

	store, err := dedup.Open(ctx, mapDedup(cfg), log.With(logx.String("comp", "dedup")))
	if err != nil {
		log.Warn("dedup store unavailable; falling back to memory",
			logx.String("driver", cfg.Dedup.Driver), logx.Err(err))
		store = dedup.NewMemStore(cfg.Dedup.Capacity)
	}

	f := buildFetcher(cfg, d, nil, log)
	fm := buildFormatter(cfg)
	disp := dispatch.New(mapDispatch(cfg, d), ad, bus, log)
	pipe := pipeline.New(mapPipeline(cfg, d), f, store, fm, disp, bus, log)

	sched, err := scheduler.New(scheduler.Config{
		Rules:      cfg.Scheduler.Rules,
		Timezone:   cfg.Scheduler.Timezone,
		RunOnStart: cfg.Scheduler.RunOnStart,
	}, func(c context.Context) { pipe.Run(c) }, bus, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	tracker := status.New(log)

	capacity := cfg.Dedup.Capacity
	if capacity <= 0 {
		capacity = dedup.DefaultCapacity
	}
	router := commands.NewRouter(ad, cfg.Telegram.OwnerUserIDs, log)
	router.Register(commands.Builtin(commands.Deps{
		News:      pipe,
		Replies:   disp,
		Store:     store,
		Capacity:  capacity,
		Scheduler: sched,
		Status:    tracker,
		MaxNews:   cfg.Pipeline.MaxPerRun,
		Welcome:   cfg.Telegram.Welcome,
	})...)

	return &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "app")),
		bus:     bus,
		adapter: ad,
		store:   store,
		disp:    disp,
		pipe:    pipe,
		sched:   sched,
		status:  tracker,
		router:  router,
		updates: make(chan transport.Update, 256),
	}, nil
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

// Start runs the scheduler, the status tracker, the command loop and the
// config watcher. Canceling ctx does not stop the app; call Stop.
func (a *App) Start(ctx context.Context) error {
	// detached so an in-flight run can finish during Stop
	a.sup = supervisor.New(context.WithoutCancel(ctx), supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.sup.Go("status.tracker", func(c context.Context) error {
		return a.status.Run(c, a.bus)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfg.Telegram.CommandsEnabled() {
		if err := a.adapter.Start(runCtx, a.updates); err != nil {
			return fmt.Errorf("telegram start: %w", err)
		}
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.router.Run(c, a.updates)
		})
		if mu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
			a.sup.Go0("commands.menu", func(c context.Context) {
				mctx, cancel := context.WithTimeout(c, 10*time.Second)
				defer cancel()
				if err := mu.UpdateMenuCommands(mctx, a.router.Menu()); err != nil {
					a.log.Warn("command menu update failed", logx.Err(err))
				}
			})
		}
	} else {
		a.log.Info("inbound commands disabled")
	}

	if err := a.sched.Start(runCtx); err != nil {
		a.sup.Cancel()
		return err
	}

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			last := a.cfg
			for {
				select {
				case <-c.Done():
					return
				case newCfg, ok := <-sub:
					if !ok {
						return
					}
					a.applyConfig(last, newCfg)
					last = newCfg
				}
			}
		})
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.Int("targets", len(a.disp.Targets())),
		logx.Strs("rules", a.cfg.Scheduler.Rules),
		logx.String("provider", a.cfg.Provider.Kind))
	return nil
}

// applyConfig hot-applies the logging block. Other sections are reported
// and need a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	loggingChanged, attrs, restart := config.SummarizeChange(oldCfg, newCfg)
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	if !loggingChanged {
		if len(restart) == 0 {
			a.log.Info("config reloaded (no changes)")
		}
		return
	}
	if a.logs != nil {
		a.logs.Apply(mapLogging(newCfg))
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", "logging")}, attrs...)...)
}

// RunOnce performs a single pipeline pass without the scheduler or the
// command loop. A fetch failure is returned alongside the report.
func (a *App) RunOnce(ctx context.Context) (pipeline.RunReport, error) {
	rep := a.pipe.Run(ctx)
	if rep.FetchErr != nil {
		return rep, rep.FetchErr
	}
	if len(rep.Failures) > 0 {
		return rep, errors.Join(rep.Failures...)
	}
	return rep, nil
}

// Scheduler exposes the trigger schedule for previews and tests.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Stop shuts down in order: future triggers and the in-flight run first,
// then inbound polling, then background loops, then the store.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		sdNotify(a.log, daemon.SdNotifyStopping)
	}

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			elapsed := time.Since(start)
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", elapsed))
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	if a.sup != nil {
		// a run may be mid-send; give it the fetch and send timeouts
		step("scheduler", 25*time.Second, a.sched.Stop)
		step("adapter", 3*time.Second, a.adapter.Stop)
		a.sup.Cancel()
		step("supervisor", 2*time.Second, a.sup.Wait)
	}
	step("store", 2*time.Second, func(context.Context) error { return a.Close() })

	delivered, failed := a.disp.Stats()
	a.log.Info("stopped", logx.Uint64("delivered", delivered), logx.Uint64("failed", failed))
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// Close releases the store. It is safe to call more than once.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() { err = a.store.Close() })
	return err
}
