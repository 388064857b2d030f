// Package app wires the bot together and owns its start/stop lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"descbot/internal/commands"
	"descbot/internal/config"
	"descbot/internal/descriptions"
	"descbot/internal/eventbus"
	"descbot/internal/observability/ops"
	"descbot/internal/profile"
	"descbot/internal/ratelimit"
	"descbot/internal/rotation"
	"descbot/internal/runtime/supervisor"
	"descbot/internal/storage"
	"descbot/internal/task/scheduler"
	"descbot/internal/transport"
	telegram "descbot/internal/transport/telegram/adapter"
	"descbot/pkg/logx"
)

const metricsNamespace = "descbot"

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type Options struct {
	Version string
	// Fs backs the description catalog and the file store; nil means the
	// OS filesystem.
	Fs afero.Fs
}

type App struct {
	version string
	cfgm    *config.ConfigManager

	sup    *supervisor.Supervisor
	log    logx.Logger
	logs   *logx.Service
	bus    eventbus.Bus
	recent *eventbus.Recent
	reg    *prometheus.Registry

	adapter *telegram.Adapter
	store   storage.Store
	catalog *descriptions.Catalog
	limiter *ratelimit.Limiter
	updater *profile.Telegram
	rot     *rotation.Scheduler
	disp    *commands.Dispatcher
	sched   *scheduler.Service
	ops     *ops.Service

	watchDescriptions bool
	updates           chan transport.Update
	live              atomic.Pointer[string]
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	token, tokenSrc, err := config.ResolveToken(cfg)
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO")
	ad, err := telegram.New(telegram.Config{Token: token, PollTimeout: s.PollTimeout}, bootLog.With(logx.Component("telegram")))
	if err != nil {
		return nil, err
	}

	// Enable the Telegram sink only after its target is set, or Apply warns
	// about a missing chat.
	logCfg := logConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	logSvc.SetTelegramTarget(s.GroupLogChatID, cfg.Logging.Telegram.ThreadID)
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)
	log.Info("config loaded", logx.String("path", cfgPath), logx.String("token_source", string(tokenSrc)))

	store, err := storage.Open(storage.Config{
		Driver:      s.StorageDriver,
		Path:        s.StoragePath,
		BusyTimeout: s.BusyTimeout,
	}, opts.Fs, log.With(logx.Component("storage")))
	if err != nil {
		return nil, err
	}

	catalog, err := descriptions.Open(opts.Fs, s.DescriptionsPath, descriptions.LimitFor(s.Field))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if catalog.Count() == 0 {
		log.Warn("no descriptions configured; rotation idle", logx.String("path", s.DescriptionsPath))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bus := eventbus.New()
	limiter := ratelimit.New(s.MinUpdateInterval)
	updater := profile.NewTelegram(ad, limiter, profile.Config{
		Field:    s.Field,
		Language: s.Language,
		MaxWait:  s.MaxWait,
	}, log)

	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	rot := rotation.New(loadCtx, catalog, store, updater, rotation.Options{
		CheckInterval:    s.CheckInterval,
		OverrideDuration: s.OverrideDuration,
		Metrics:          rotation.NewMetrics(metricsNamespace, reg),
		Bus:              bus,
		Log:              log,
	})
	cancel()

	handler := commands.NewHandler(rot, catalog, commands.HandlerConfig{
		Prefix:      s.CommandPrefix,
		Field:       s.Field,
		Version:     opts.Version,
		LimiterWait: limiter.TimeUntilAllowed,
	})
	disp := commands.NewDispatcher(handler, ad, store, bus, commands.NewMetrics(metricsNamespace, reg), log, commands.DispatcherConfig{
		Prefix:      s.CommandPrefix,
		BotUsername: ad.Username(),
		Owners:      s.OwnerIDs,
		RatePerMin:  s.CommandRatePerMin,
	})

	a := &App{
		version:           opts.Version,
		cfgm:              cfgm,
		log:               log.With(logx.Component("app")),
		logs:              logSvc,
		bus:               bus,
		recent:            eventbus.NewRecent(50),
		reg:               reg,
		adapter:           ad,
		store:             store,
		catalog:           catalog,
		limiter:           limiter,
		updater:           updater,
		rot:               rot,
		disp:              disp,
		watchDescriptions: s.WatchDescriptions,
		updates:           make(chan transport.Update, 256),
	}
	a.sched = scheduler.New(a.runScheduled, time.Local, log)
	if err := a.sched.Apply(scheduleEntries(cfg.Schedule)); err != nil {
		_ = store.Close()
		return nil, err
	}
	a.ops = ops.New(ops.FromSettings(cfg.Ops, s.OpsAddr), ops.Sources{
		Gatherer: reg,
		Health:   a.health,
		Status:   a.status,
	}, log)
	return a, nil
}

// runScheduled executes a scheduled command line through the dispatcher so
// it is audited like an owner command.
func (a *App) runScheduled(ctx context.Context, name, line string) error {
	res, err := a.disp.RunText(ctx, "schedule:"+name, line)
	if err != nil {
		return err
	}
	if !res.OK {
		return errors.New(res.Text)
	}
	return nil
}

func scheduleEntries(in []config.ScheduleEntry) []scheduler.Entry {
	out := make([]scheduler.Entry, 0, len(in))
	for _, e := range in {
		out = append(out, scheduler.Entry{Name: e.Name, Spec: e.Spec, Command: e.Command})
	}
	return out
}

func logConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// validate gates hot reloads.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	return errors.Join(
		config.Validate(cfg),
		a.sched.Validate(scheduleEntries(cfg.Schedule)),
	)
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(a.validate)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.recent", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.recent.Add(e)
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go0("profile.live", a.readLive)
	a.sup.GoRestart("rotation.run", a.rot.Run, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.disp.DispatchLoop(c, a.updates)
	})
	a.sched.Start(a.sup.Context())
	a.ops.Start(a.sup.Context())

	if a.watchDescriptions {
		a.sup.GoRestart("descriptions.watch", func(c context.Context) error {
			return a.catalog.Watch(c, a.log.With(logx.Component("descriptions")), func(_, newCount int) {
				a.rot.Reconcile(c, newCount)
			})
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log, a.health) })
	notify(a.log, notifyReady)

	a.log.Info("app started",
		logx.String("version", a.version),
		logx.String("bot", a.adapter.Username()),
		logx.Int("descriptions", a.catalog.Count()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notify(a.log, notifyStopping)

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// The runner finishes its current cycle before the context goes away, so
	// a completed update is still committed and persisted.
	step("rotation", 3*time.Second, a.rot.Shutdown)
	a.sup.Cancel()

	step("schedule", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
