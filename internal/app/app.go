// Package app is the composition root: it loads config, wires the relay and
// its inbound surfaces, and owns startup and shutdown ordering.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"noticebot/internal/config"
	"noticebot/internal/dispatch"
	"noticebot/internal/eventbus"
	"noticebot/internal/intake"
	"noticebot/internal/metrics"
	"noticebot/internal/runtime/supervisor"
	"noticebot/internal/storage"
	"noticebot/internal/watchdog"
	"noticebot/internal/webhook"
	"noticebot/pkg/logx"
)

const dispatchDrain = 30 * time.Second

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	comp     *Components
	disp     *dispatch.Service
	metrics  *metrics.Metrics
	web      *webhook.Server
	intake   *intake.Consumer
	watchdog *watchdog.Watchdog
}

// New loads cfgPath and wires every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapping(cfg); err != nil {
		return nil, err
	}

	// The operator sink needs the Telegram sender, which needs a logger of
	// its own; bootstrap with the sink off, then apply the final config.
	baseLogCfg := mapLogConfig(cfg)
	bootLogCfg := baseLogCfg
	bootLogCfg.Operator.Enabled = false
	logSvc, log := logx.New(bootLogCfg, nil)

	bus := eventbus.New()

	comp, err := Build(cfg, log, bus)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if comp.Telegram != nil {
		logSvc.SetSender(comp.Telegram)
	}
	logSvc.Apply(baseLogCfg)

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, closeAll(logSvc, store, err)
	}
	disp := dispatch.New(dc, comp.Broadcast, store, log, bus)

	a := &App{
		cfgm:  cfgm,
		cfg:   cfg,
		log:   log.With(logx.String("comp", "app")),
		logs:  logSvc,
		bus:   bus,
		store: store,
		comp:  comp,
		disp:  disp,
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}
	if wc, ok, err := mapWebhookConfig(cfg); err != nil {
		return nil, closeAll(logSvc, store, err)
	} else if ok {
		a.web = webhook.New(wc, disp, comp.Session, store, a.metrics, log)
	}
	if ic, ok := mapIntakeConfig(cfg); ok {
		a.intake = intake.New(ic, disp, log)
	}
	if wdc, ok := mapWatchdogConfig(cfg); ok {
		wd, err := watchdog.New(wdc, comp.Session, log)
		if err != nil {
			return nil, closeAll(logSvc, store, fmt.Errorf("watchdog: %w", err))
		}
		a.watchdog = wd
		if a.metrics != nil {
			a.metrics.RegisterWatchdog(wd.Stats)
		}
	}
	return a, nil
}

func closeAll(logs *logx.Service, store storage.Store, err error) error {
	if store != nil {
		_ = store.Close()
	}
	_ = logs.Close()
	return err
}

func (a *App) Logger() logx.Logger { return a.log }

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

// Start brings the session up, then opens the inbound surfaces. A session
// that cannot be authenticated fails Start.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateMapping(cfg)
	})

	if a.metrics != nil {
		a.sup.Go0("metrics.events", func(c context.Context) { a.metrics.Run(c, a.bus) })
	}
	a.sup.Go0("eventbus.log", a.logEvents)

	sdStatus(a.log, "authenticating session "+a.comp.Session.Name())
	if err := a.comp.Session.StartSession(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("session bring-up: %w", err)
	}
	a.log.Info("session ready", logx.String("session", a.comp.Session.Name()), logx.Int("chats", len(a.comp.Broadcast.Chats())))

	// The dispatcher outlives the supervisor context so Stop can drain it.
	a.disp.Start(context.WithoutCancel(a.sup.Context()))

	if a.web != nil {
		a.sup.Go("webhook", a.web.Run)
	}
	if a.intake != nil {
		a.sup.GoRestart("intake.amqp", a.intake.Run,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}
	if a.watchdog != nil {
		a.sup.Go("watchdog", a.watchdog.Run)
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		sdWatchdogLoop(c, a.log, func(context.Context) bool { return a.sup.Err() == nil })
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	sdNotify(a.log, daemon.SdNotifyReady)
	sdStatus(a.log, "relaying notices")
	a.log.Info("app started")
	return nil
}

func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type == eventbus.TypeQRChallenge {
				sdStatus(a.log, "waiting for QR scan")
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}

// reloadLoop applies logging changes live and flags everything else as
// needing a restart.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs, restart := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}

			a.logs.Apply(mapLogConfig(newCfg))

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
			if len(restart) > 0 {
				a.log.Warn("config sections changed; restart required for changes to take effect",
					logx.String("sections", strings.Join(restart, ",")))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Close the inbound surfaces first so nothing new is queued.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
				max = time.Until(dl)
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("dispatcher", dispatchDrain, a.disp.Stop)
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
