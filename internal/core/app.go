// Package core wires configuration, storage, the discord adapter, the
// lifecycle engine and the command surface into one supervised app.
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chankeeper/internal/adapters/discord"
	"chankeeper/internal/commands"
	"chankeeper/internal/config"
	"chankeeper/internal/engine"
	"chankeeper/internal/services/notify"
	"chankeeper/internal/storage"
	logx "chankeeper/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service

	store   *storage.Store
	adapter *discord.Adapter
	notif   *notify.Service
	eng     *engine.Engine
	cmdm    *commands.Manager
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	ad, err := discord.New(discord.Config{Token: cfg.Discord.Token}, logSvc.Logger())
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	notifSvc := notify.New(notify.Config{
		Enabled:     cfg.Notify.Enabled,
		RatePerSec:  cfg.Notify.RatePerSec,
		HistorySize: cfg.Notify.HistorySize,
	}, ad, logSvc.Logger().With(logx.String("comp", "notify")))

	engCfg, err := engineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	eng := engine.New(engCfg, store, ad, notifSvc,
		logSvc.Logger().With(logx.String("comp", "engine")))

	cmdm := commands.NewManager(commands.Config{
		Prefix:          cfg.Discord.CommandPrefix,
		OwnerUserIDs:    cfg.Discord.OwnerUserIDs,
		DefaultTimezone: cfg.Engine.DefaultTimezone,
	}, store, ad, ad, logSvc.Logger())

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		notif:   notifSvc,
		eng:     eng,
		cmdm:    cmdm,
	}, nil
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	interval, err := config.ParseDurationOrDefault("engine.interval", cfg.Engine.Interval, time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	grace, err := config.ParseDurationField("engine.grace", cfg.Engine.Grace)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Enabled:  cfg.Engine.Enabled,
		Interval: interval,
		Grace:    grace,
		Workers:  cfg.Engine.Workers,
	}, nil
}

func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		return fmt.Errorf("discord.token is required")
	}
	if cfg.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must be >= 0")
	}
	if cfg.Notify.RatePerSec < 0 {
		return fmt.Errorf("notify.rate_per_sec must be >= 0")
	}
	if _, err := config.ParseDurationField("engine.interval", cfg.Engine.Interval); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("engine.grace", cfg.Engine.Grace); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Engine.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("engine.default_timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop()).
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
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.eng.Enabled() {
		a.eng.Start(a.sup.Context())
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.adapter.Messages())
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts: keep only the latest config
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
					continue
				default:
				}
				break
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	a.cmdm.Apply(commands.Config{
		Prefix:          newCfg.Discord.CommandPrefix,
		OwnerUserIDs:    newCfg.Discord.OwnerUserIDs,
		DefaultTimezone: newCfg.Engine.DefaultTimezone,
	})

	a.notif.Apply(notify.Config{
		Enabled:     newCfg.Notify.Enabled,
		RatePerSec:  newCfg.Notify.RatePerSec,
		HistorySize: newCfg.Notify.HistorySize,
	})

	prevEnabled := a.eng.Enabled()
	engCfg, err := engineConfig(newCfg)
	if err != nil {
		// validator should have caught this; keep the engine as-is
		a.log.Warn("engine config rejected on reload", logx.Err(err))
	} else {
		a.eng.Apply(engCfg)
		if prevEnabled && !engCfg.Enabled {
			a.log.Info("engine disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.eng.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && engCfg.Enabled {
			a.log.Info("engine enabled via config")
			a.eng.Start(ctx)
		}
	}

	a.log.Info("config reloaded",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run one shutdown step with an upper bound so a single component
	// cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
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
			a.log.Debug("stop step end",
				logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("engine", 3*time.Second, func(c context.Context) error { a.eng.Stop(c); return nil })
	step("notify", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { a.adapter.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}
