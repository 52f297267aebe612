package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signupbot/internal/config"
	"signupbot/internal/eventbus"
	"signupbot/internal/notifier"
	"signupbot/internal/poller"
	"signupbot/internal/runtime/supervisor"
	"signupbot/internal/source"
	"signupbot/internal/storage"
	"signupbot/internal/transport"
	"signupbot/internal/transport/discord"
	"signupbot/internal/transport/natsink"
	"signupbot/internal/transport/telegram"
	logx "signupbot/pkg/logx"
	"signupbot/pkg/systemd"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	senders []transport.Sender
	closers []func()

	src    source.Source
	notif  *notifier.Service
	poller *poller.Poller
	sd     *systemd.Notifier
}

func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Senders are built before logging so the alert sink has a target; they
	// log through a bootstrap console logger until then.
	bootLog := logx.NewConsole(cfg.Logging.Level)
	senders, closers, err := buildSenders(cfg, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), pickAlertSender(cfg, senders))
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		senders: senders,
		closers: closers,
	}
	fail := func(err error) (*App, error) {
		a.closeResources()
		return nil, err
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return fail(err)
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return fail(err)
		}
		a.store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	srcCfg, err := mapSourceConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.src, err = source.Open(ctx, srcCfg, log.With(logx.String("comp", "source")))
	if err != nil {
		return fail(fmt.Errorf("source: %w", err))
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.notif = notifier.New(ncfg, senders, log.With(logx.String("comp", "notifier")), a.bus, a.store)

	pcfg, err := mapPollerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	a.poller = poller.New(pcfg, a.src, a.notif, a.store, a.bus, log.With(logx.String("comp", "poller")))

	notify := cfg.Systemd.Notify == nil || *cfg.Systemd.Notify
	a.sd = systemd.New(notify, log.With(logx.String("comp", "systemd")))
	a.poller.OnCycle(func(o poller.Outcome) {
		a.sd.Watchdog()
		a.sd.Status("last cycle %s at %s (%d signups)", o.Status, o.At.Format(time.RFC3339), o.YesCount)
	})

	if _, err := a.poller.Restore(ctx); err != nil {
		// A broken snapshot only costs one baseline cycle.
		log.Warn("snapshot restore failed; starting from baseline", logx.Err(err))
	}

	log.Info("app configured",
		logx.String("source", a.src.Name()),
		logx.Strings("senders", a.notif.Senders()),
		logx.String("schedule", pcfg.Schedule.String()),
		logx.String("tz", pcfg.Location.String()))
	return a, nil
}

func buildSenders(cfg *config.Config, log logx.Logger) ([]transport.Sender, []func(), error) {
	var (
		out     []transport.Sender
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if d := cfg.Discord; d != nil {
		dc, err := mapDiscordConfig(d)
		if err != nil {
			return nil, nil, err
		}
		s, err := discord.New(dc, log.With(logx.String("comp", "discord")))
		if err != nil {
			return nil, nil, fmt.Errorf("discord: %w", err)
		}
		out = append(out, s)
	}
	if t := cfg.Telegram; t != nil {
		tc, err := mapTelegramConfig(t)
		if err != nil {
			return nil, nil, err
		}
		s, err := telegram.New(tc, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, nil, fmt.Errorf("telegram: %w", err)
		}
		out = append(out, s)
	}
	if n := cfg.NATS; n != nil {
		nc, err := mapNATSConfig(n)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		p, err := natsink.New(nc, log.With(logx.String("comp", "nats")))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("nats: %w", err)
		}
		out = append(out, p)
		closers = append(closers, p.Close)
	}
	if len(out) == 0 {
		return nil, nil, config.ErrNoSender
	}
	return out, closers, nil
}

// pickAlertSender returns the chat sender log alerts go to. NATS is never
// an alert target.
func pickAlertSender(cfg *config.Config, senders []transport.Sender) transport.Sender {
	want := strings.TrimSpace(cfg.Logging.Alert.Sender)
	for _, s := range senders {
		switch s.Name() {
		case "nats":
			continue
		case want:
			return s
		}
		if want == "" {
			return s
		}
	}
	return nil
}

// Done is closed when the supervisor context is canceled (fatal error or Stop).
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

// RunOnce performs a single cycle and returns its outcome. With a restored
// snapshot that cycle diffs and delivers; otherwise it is the baseline.
func (a *App) RunOnce(ctx context.Context) poller.Outcome {
	o := a.poller.Cycle(ctx)
	a.log.Info("single cycle finished", logx.String("status", string(o.Status)), logx.Int("events", o.Events))
	return o
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		if _, err := mapPollerConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapStorageConfig(cfg)
		return err
	})

	a.sup.GoRestart("poller", a.poller.Run,
		supervisor.WithRestartBackoff(time.Second, time.Minute))

	if a.bus != nil {
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
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
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
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sd.Ready()
	a.log.Info("app started")
	return nil
}

// applyConfig hot-applies logging and delivery settings. Everything else
// needs a restart and is only reported.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.sd.Reloading()
	defer a.sd.Ready()

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.SetSender(pickAlertSender(next, a.senders))
	a.logs.Apply(mapLogConfig(next))

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	if a.sup != nil {
		a.sup.Cancel()
	}

	// step bounds each shutdown stage so one component can't stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	if a.sup != nil {
		// The poller finishes its in-flight cycle here.
		step("supervisor", 20*time.Second, func(c context.Context) error {
			err := a.sup.Wait(c)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	a.logDeliveries()
	step("senders", 2*time.Second, func(context.Context) error {
		for _, c := range a.closers {
			c()
		}
		a.closers = nil
		return nil
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}

type deliverySummary struct {
	total, delivered, rejected, failed int
	lastFailure                        *notifier.HistoryItem
}

func summarizeDeliveries(items []notifier.HistoryItem) deliverySummary {
	var sum deliverySummary
	for i := range items {
		sum.total++
		switch items[i].Outcome {
		case transport.OutcomeDelivered:
			sum.delivered++
			continue
		case transport.OutcomeRejected:
			sum.rejected++
		default:
			sum.failed++
		}
		sum.lastFailure = &items[i]
	}
	return sum
}

// logDeliveries reports the notifier's recent history on shutdown.
func (a *App) logDeliveries() {
	if a.notif == nil {
		return
	}
	sum := summarizeDeliveries(a.notif.History())
	if sum.total == 0 {
		return
	}
	fields := []logx.Field{
		logx.Int("attempts", sum.total),
		logx.Int("delivered", sum.delivered),
		logx.Int("rejected", sum.rejected),
		logx.Int("failed", sum.failed),
	}
	if f := sum.lastFailure; f != nil {
		fields = append(fields,
			logx.String("last_failure_sender", f.Sender),
			logx.String("last_failure_key", f.Key),
			logx.String("last_failure", f.Error),
			logx.Time("last_failure_at", f.At))
	}
	a.log.Info("recent deliveries", fields...)
}

func (a *App) closeResources() {
	for _, c := range a.closers {
		c()
	}
	a.closers = nil
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
