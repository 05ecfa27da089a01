// Package app wires the postbot components and owns their lifecycle.
package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"postbot/internal/api"
	"postbot/internal/auth"
	"postbot/internal/config"
	"postbot/internal/errors"
	"postbot/internal/eventbus"
	"postbot/internal/jobs"
	"postbot/internal/runtime/supervisor"
	"postbot/internal/services/posting"
	"postbot/internal/storage"
	"postbot/internal/task/engine"
	"postbot/internal/task/scheduler"
	"postbot/internal/transport"
	telegram "postbot/internal/transport/telegram/adapter"
	logx "postbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	jobs    *jobs.Store
	engine  *engine.Service
	sched   *scheduler.Service
	auth    *auth.Verifier
	posting *posting.Service
	api     *api.Server

	restored posting.RestoreReport
}

// New loads the config at cfgPath, connects to Telegram and builds every
// component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := cfg.Resolve(); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, bootLog)
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, ad)
}

func build(cfgm *config.Manager, cfg *config.Config, sender transport.Sender) (*App, error) {
	r, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg, r), sender)
	a := &App{
		cfgm: cfgm,
		log:  log.With(logx.String("comp", "app")),
		logs: logSvc,
		bus:  eventbus.New(),
	}

	var sc storage.Config
	if a.store, sc, err = OpenStore(cfg, log.With(logx.String("comp", "storage"))); err != nil {
		logSvc.Close()
		return nil, err
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	a.jobs = jobs.NewStore(a.store)
	a.engine = engine.New(engineConfig(r), log, a.bus)
	a.sched = scheduler.New(r.Location, log)

	authOpts := []auth.Option{auth.WithAdmins(cfg.Telegram.AdminUserIDs)}
	if r.AuthMaxAge > 0 {
		authOpts = append(authOpts, auth.WithMaxAge(r.AuthMaxAge))
	}
	a.auth = auth.NewVerifier(cfg.Telegram.Token, authOpts...)

	a.posting = posting.New(posting.Deps{
		Store:      a.jobs,
		Scheduler:  a.sched,
		Runner:     a.engine,
		Sender:     sender,
		Deliveries: a.store,
		Bus:        a.bus,
		Log:        log,
		Location:   r.Location,
	}, posting.WithFatalHandler(a.fatal))

	a.api = api.New(apiConfig(cfg, r), api.Deps{
		Posting: a.posting,
		Auth:    a.auth,
		Status:  a.status,
		Log:     log,
	})
	return a, nil
}

// fatal stops the app when the job table and the scheduler have diverged.
func (a *App) fatal(err error) {
	a.log.Error("fatal: stopping", logx.Bool("fatal", true), logx.Err(err))
	if a.sup != nil {
		a.sup.Fail(err)
	}
}

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// APIAddr is the bound address of the mini app API while running.
func (a *App) APIAddr() string { return a.api.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return cfg.Validate() })

	if err := a.jobs.Load(ctx); err != nil {
		return errors.Wrap(err, "load job table")
	}
	a.engine.Start(a.sup.Context())

	rep, err := a.posting.Restore(ctx)
	if err != nil {
		return errors.Wrap(err, "restore schedule")
	}
	a.restored = rep
	a.log.Info("schedule restored",
		logx.Int("armed_once", rep.ArmedOnce),
		logx.Int("armed_recurring", rep.ArmedRecurring),
		logx.Int("inactive", rep.Inactive),
		logx.Int("missed", len(rep.Missed)),
		logx.Int("failed", len(rep.Failed)),
	)
	a.sched.Start(a.sup.Context())

	if err := a.api.Start(a.sup.Context(), a.sup.Fail); err != nil {
		return err
	}

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	a.startReload()
	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	a.startSystemd()

	a.log.Info("app started", logx.String("api", a.api.Addr()))
	return nil
}

// status feeds the admin scheduler_status endpoint.
func (a *App) status(ctx context.Context) (any, error) {
	recent, err := a.store.RecentDeliveries(ctx, 20)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"scheduler":         a.sched.Snapshot(),
		"engine":            a.engine.Snapshot(),
		"restore":           a.restored,
		"recent_deliveries": recent,
		"dropped_events":    a.bus.Dropped(),
	}
	if a.sup != nil {
		out["goroutines"] = a.sup.Snapshot()
	}
	return out, nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, max(time.Until(dl), 0))
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- errors.Newf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("api", 3*time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("engine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
