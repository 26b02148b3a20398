package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"roomwatch/internal/bot"
	"roomwatch/internal/config"
	"roomwatch/internal/eventbus"
	"roomwatch/internal/notifier"
	"roomwatch/internal/observability/ops"
	rtsup "roomwatch/internal/runtime/supervisor"
	"roomwatch/internal/status"
	"roomwatch/internal/storage"
	"roomwatch/internal/subscribers"
	"roomwatch/internal/task/scheduler"
	kit "roomwatch/internal/transport"
	telegram "roomwatch/internal/transport/telegram/adapter"
	"roomwatch/internal/transport/telegram/router"
	"roomwatch/internal/watch"
	logx "roomwatch/pkg/logx"
)

// Options override pieces of the wiring. Zero values build the real thing.
type Options struct {
	// Adapter replaces the Telegram adapter.
	Adapter kit.Adapter
	// HTTPClient is used for status page fetches.
	HTTPClient *http.Client
}

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	base  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	client  *http.Client

	provider *swapProvider
	subs     *subscribers.Store
	sched    *scheduler.Service
	notif    *notifier.Service
	reg      *watch.Registry
	ops      *ops.Service
	cmdm     *router.CommandManager
	bot      *bot.Bot

	updates chan kit.Update

	stopOnce sync.Once
}

func NewApp(ctx context.Context, cfgPath string, opt Options) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("info"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	ad := opt.Adapter
	if ad == nil {
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: cfg.PollTimeout(),
			APIURL:      cfg.Telegram.APIURL,
			LogChatID:   cfg.Telegram.LogChatID,
			LogThreadID: cfg.Telegram.LogThreadID,
		}, logx.NewConsole("info").With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		ad = tg
	}

	var sender logx.ChatSender
	if s, ok := ad.(logx.ChatSender); ok {
		sender = s
	}
	logSvc, log := logx.New(cfg.LogConfig(), sender)
	cfgm.SetLogger(log)
	appLog := log.With(logx.String("comp", "app"))

	sc := cfg.StorageConfig()
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	appLog.Info("storage opened", logx.String("driver", driverName(sc.Driver)))

	client := opt.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	provider := &swapProvider{}
	if err := provider.set(cfg.StatusConfig(), client, log.With(logx.String("comp", "status"))); err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()
	subs := subscribers.New(store, log)
	sched := scheduler.New(cfg.SchedulerConfig(), log.With(logx.String("comp", "scheduler")))
	notif := notifier.New(cfg.NotifierConfig(), ad, log.With(logx.String("comp", "notifier")), bus)

	reg := watch.NewRegistry(cfg.WatchConfig(), watch.Deps{
		Provider:    status.NewShared(provider, cfg.ShareWindow()),
		Scheduler:   sched,
		Notifier:    bot.NewRoomNotifier(notif),
		Subscribers: subs,
		Bus:         bus,
		Log:         log.With(logx.String("comp", "watch")),
	}, subs)

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, router.Options{
		Workers:        cfg.Bot.Workers,
		QueueSize:      cfg.Bot.QueueSize,
		DefaultTimeout: cfg.CommandTimeout(),
		BotUsername:    cfg.Bot.Username,
		UnknownReply:   cfg.Bot.UnknownReply,
	})
	b := bot.New(bot.Config{Name: cfg.Bot.Name}, reg, subs, log)

	a := &App{
		cfgm:     cfgm,
		base:     log,
		log:      appLog,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		client:   client,
		provider: provider,
		subs:     subs,
		sched:    sched,
		notif:    notif,
		reg:      reg,
		cmdm:     cmdm,
		bot:      b,
		updates:  make(chan kit.Update, 256),
	}
	a.ops = ops.New(cfg.OpsConfig(), ops.Sources{
		Monitors:      reg,
		Notifications: notif,
		Bus:           bus,
		Supervisors:   a.supervisors,
	}, log.With(logx.String("comp", "ops")))
	return a, nil
}

func driverName(d string) string {
	if strings.TrimSpace(d) == "" {
		return "memory"
	}
	return d
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

// Registry exposes the monitor table.
func (a *App) Registry() *watch.Registry { return a.reg }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cmdm.SetAppSupervisor(a.sup)
	a.bot.Register(a.cmdm)

	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := status.ParseExtractor(cfg.Status.Extractor); err != nil {
			return fmt.Errorf("status.extractor: %w", err)
		}
		return nil
	})

	a.sched.Start(a.sup.Context())
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.ops.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
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
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

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
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig fans a committed config out to the live components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(next.LogConfig())
		case "watch":
			a.reg.Apply(next.WatchConfig())
		case "status":
			if err := a.provider.set(next.StatusConfig(), a.client, a.base.With(logx.String("comp", "status"))); err != nil {
				a.log.Warn("invalid status config; keeping previous", logx.Err(err))
			}
		case "scheduler":
			a.sched.Apply(next.SchedulerConfig())
		case "notifier":
			wasEnabled := a.notif.Enabled()
			ncfg := next.NotifierConfig()
			a.notif.Apply(ncfg)
			switch {
			case wasEnabled && !ncfg.Enabled:
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !wasEnabled && ncfg.Enabled:
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
		case "ops":
			a.ops.Reconfigure(ctx, next.OpsConfig())
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// supervisors collects the goroutine views shown by the ops server.
func (a *App) supervisors() map[string]rtsup.Snapshot {
	out := map[string]rtsup.Snapshot{}
	add := func(name string, s *rtsup.Supervisor) {
		if s != nil {
			out[name] = s.Snapshot()
		}
	}
	add("app", a.sup)
	add("commands", a.cmdm.Supervisor())
	add("notifier", a.notif.Supervisor())
	add("ops", a.ops.Supervisor())
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		add("telegram.adapter", sp.Supervisor())
	}
	return out
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.stopOnce.Do(func() { a.stop(ctx) })
	return nil
}

func (a *App) stop(ctx context.Context) {
	a.log.Info("stopping")
	a.sup.Cancel()

	// step bounds one shutdown action so a stuck component cannot stall the rest.
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
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("monitors", time.Second, func(context.Context) error {
		n := a.reg.Shutdown()
		a.log.Debug("monitors stopped", logx.Int("count", n))
		return nil
	})
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	_ = a.logs.Close()
}
