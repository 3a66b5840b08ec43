// Package app wires configuration, storage, delivery, the scheduler and
// the operator bot into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autoposter/internal/config"
	"autoposter/internal/controller"
	"autoposter/internal/delivery"
	"autoposter/internal/destination"
	"autoposter/internal/eventbus"
	"autoposter/internal/eventlog"
	"autoposter/internal/runtime/supervisor"
	"autoposter/internal/scheduler"
	"autoposter/internal/storage"
	"autoposter/internal/transport/telegram"
	"autoposter/pkg/logx"
)

const loadTimeout = 5 * time.Second

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store // nil when storage is disabled

	dests   *destination.Store
	events  *eventlog.Log
	discord *delivery.Discord
	router  *delivery.Router
	limited *delivery.Limited
	sched   *scheduler.Scheduler
	ctl     *controller.Controller

	bot      *telegram.Bot // nil when headless
	autosave *autosaver
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	durs, err := cfg.ParseDurations()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	var store storage.Store
	if sc, enabled := mapStorage(cfg, durs); enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	dests := destination.NewStore()
	events := eventlog.New(cfg.EventLog.Capacity)
	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		doc, err := store.Load(ctx)
		if err != nil {
			cancel()
			_ = store.Close()
			return nil, fmt.Errorf("load destinations: %w", err)
		}
		dests.Load(doc)
		replayJournal(ctx, store, events, cfg.EventLog.Capacity, log)
		cancel()
	}
	if tok := config.BotTokenFromEnv(); tok != "" {
		dests.SetCredential(tok)
		log.Info("discord bot token taken from environment", logx.String("var", config.EnvBotToken))
	}
	events.SetSink(recordSink(bus, log.With(logx.String("comp", "events"))))

	discord := delivery.NewDiscord(delivery.DiscordOptions{
		APIBase:     cfg.DiscordAPIBase(),
		HTTPTimeout: durs.HTTPTimeout,
		Credential:  dests.Credential,
		Log:         log.With(logx.String("comp", "discord")),
	})
	router := delivery.NewRouter()
	router.Handle(delivery.KindWebhook, discord.Webhook())
	router.Handle(delivery.KindChannel, discord.Channel())
	limited := delivery.NewLimited(router, cfg.Delivery.RatePerSec)

	sched := scheduler.New(scheduler.Options{
		Store:  dests,
		Sender: limited,
		Events: events,
		Bus:    bus,
		Log:    log.With(logx.String("comp", "scheduler")),
		Config: mapScheduler(cfg, durs),
	})

	ctlOpts := controller.Options{
		Store:     dests,
		Scheduler: sched,
		Events:    events,
		Log:       log.With(logx.String("comp", "controller")),
	}
	if store != nil {
		ctlOpts.Persister = store
	}
	ctl := controller.New(ctlOpts)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		dests:   dests,
		events:  events,
		discord: discord,
		router:  router,
		limited: limited,
		sched:   sched,
		ctl:     ctl,
	}
	a.autosave = newAutosaver(ctl.Persist, log.With(logx.String("comp", "autosave")))

	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		bot, err := telegram.New(telegram.Options{
			Token:        cfg.Telegram.Token,
			PollTimeout:  durs.PollTimeout,
			Owners:       cfg.Telegram.OwnerUserIDs,
			NotifyErrors: cfg.Telegram.NotifyErrors,
			Controller:   ctl,
			Bus:          bus,
			Log:          log.With(logx.String("comp", "telegram")),
		})
		if err != nil {
			if store != nil {
				_ = store.Close()
			}
			return nil, fmt.Errorf("telegram bot: %w", err)
		}
		a.bot = bot
		router.Handle(delivery.KindTelegram, telegram.NewSender(bot))
	} else {
		log.Info("telegram token not set; running headless")
	}
	return a, nil
}

// Controller exposes the operator façade.
func (a *App) Controller() *controller.Controller { return a.ctl }

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
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	// Reloads are validated before commit; config.Validate covers the rest.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		return a.autosave.validate(autosaveSpec(c))
	})

	if a.store != nil {
		if err := a.autosave.Apply(autosaveSpec(cfg)); err != nil {
			return err
		}
		a.autosave.Start()

		ch, unsub := a.bus.Subscribe(256)
		a.sup.Go0("events.journal", func(c context.Context) {
			defer unsub()
			runJournal(c, ch, a.store, a.log.With(logx.String("comp", "journal")))
		})
	}

	if a.bot != nil {
		if err := a.bot.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if cfg.Scheduler.AutoStart {
		a.ctl.StartAutoPosting(a.sup.Context())
	}

	a.log.Info("app started",
		logx.Int("destinations", a.dests.Len()),
		logx.Bool("auto_start", cfg.Scheduler.AutoStart),
		logx.Bool("telegram", a.bot != nil),
	)
	return nil
}

// applyConfig pushes a committed reload into the live components.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, fields := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogging(next))

	durs, err := next.ParseDurations()
	if err != nil {
		a.log.Warn("invalid durations in reloaded config; keeping previous", logx.Err(err))
		return
	}
	a.sched.Configure(mapScheduler(next, durs))
	a.limited.SetRate(next.Delivery.RatePerSec)
	a.discord.Configure(next.DiscordAPIBase(), durs.HTTPTimeout)
	a.events.SetCapacity(next.EventLog.Capacity)

	if a.bot != nil {
		a.bot.SetOwners(next.Telegram.OwnerUserIDs)
		a.bot.SetNotifyErrors(next.Telegram.NotifyErrors)
	}
	if strings.TrimSpace(prev.Telegram.Token) != strings.TrimSpace(next.Telegram.Token) ||
		prev.Telegram.PollTimeout != next.Telegram.PollTimeout {
		a.log.Warn("telegram token or poll timeout changed; restart required for changes to take effect")
	}

	for _, s := range sections {
		if s != "storage" {
			continue
		}
		oldSC, _ := mapStorage(prev, durs)
		newSC, _ := mapStorage(next, durs)
		if oldSC.Driver != newSC.Driver || oldSC.Path != newSC.Path {
			a.log.Warn("storage driver or path changed; restart required for changes to take effect")
		}
		if a.store != nil {
			if err := a.autosave.Apply(autosaveSpec(next)); err != nil {
				a.log.Warn("autosave not updated", logx.Err(err))
			}
		}
	}

	a.sched.RefreshStatus()
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(context.Context) error { a.sched.Stop(); return nil })
	a.step(ctx, "deliveries", 5*time.Second, a.sched.Drain)
	if a.bot != nil {
		a.step(ctx, "telegram", 2*time.Second, a.bot.Stop)
	}
	if a.store != nil {
		a.step(ctx, "autosave", time.Second, a.autosave.Stop)
		a.step(ctx, "persist", 3*time.Second, a.ctl.Persist)
	}
	// Supervised goroutines (journal, config watch/reload) exit before storage closes.
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)
	if a.store != nil {
		a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	c := a.sup.Counters()
	a.log.Info("stopped",
		logx.Uint64("goroutines_started", c.Started),
		logx.Uint64("panics", c.Panics),
		logx.Int64("still_active", c.Active),
	)
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
