package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chatwarden/internal/assistant"
	"chatwarden/internal/bot"
	"chatwarden/internal/config"
	"chatwarden/internal/eventbus"
	"chatwarden/internal/feed"
	"chatwarden/internal/moderation"
	"chatwarden/internal/news"
	"chatwarden/internal/notifier"
	"chatwarden/internal/observability/status"
	"chatwarden/internal/router"
	rtsup "chatwarden/internal/runtime/supervisor"
	"chatwarden/internal/storage"
	"chatwarden/internal/task/scheduler"
	kit "chatwarden/internal/transport"
	telegram "chatwarden/internal/transport/telegram/adapter"
	logx "chatwarden/pkg/logx"
	"chatwarden/pkg/systemd"
)

// App owns every long-lived component and their lifecycle.
type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log    logx.Logger
	logs   *logx.Service
	bus    eventbus.Bus
	events *eventbus.Recorder
	store  storage.Store
	sd     *systemd.Notifier

	adapter *telegram.Adapter
	router  *router.Router
	bot     *bot.Bot

	sched  *scheduler.Service
	notif  *notifier.Service
	status *status.Service

	fetcher  *feed.Fetcher
	dedup    *news.DedupStore
	registry *news.Registry
	engine   *news.Engine

	warns     *moderation.Warns
	stats     *moderation.Stats
	flood     *moderation.AntiFlood
	filter    *moderation.WordFilter
	assistant *assistant.Service

	updates chan kit.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		TextLimit:   cfg.Telegram.TextLimit,
	}, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Telegram logging stays off until the target is set, so Apply does
	// not warn about a missing chat.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	target, _ := groupLogTarget(cfg)
	logSvc.SetTelegramTarget(target.ChatID, target.ThreadID)
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		events:  eventbus.NewRecorder(64),
		sd:      systemd.New(root),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(ctx, cfg, root); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config, root logx.Logger) error {
	comp := func(name string) logx.Logger { return root.With(logx.String("comp", name)) }

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	a.store, err = storage.Open(sc, comp("storage"))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	// moderation
	a.warns = moderation.NewWarns(a.store, a.adapter, cfg.Moderation.WarnThreshold, comp("warns"))
	a.stats = moderation.NewStats(a.store, comp("stats"))
	window, err := floodWindow(cfg)
	if err != nil {
		return err
	}
	a.flood = moderation.NewAntiFlood(cfg.Moderation.FloodLimit, window)
	if a.filter, err = moderation.NewWordFilter(cfg.Moderation.BadWords); err != nil {
		return err
	}

	// news
	fopts, err := mapFetchOptions(cfg, comp("feed"))
	if err != nil {
		return err
	}
	a.fetcher = feed.NewFetcher(cfg.News.Topics, fopts)
	a.dedup = news.NewDedupStore(a.store, comp("news.dedup"))
	a.registry = news.NewRegistry(a.store, comp("news.registry"))
	popts, err := mapPipelineOptions(cfg, comp("news.pipeline"))
	if err != nil {
		return err
	}
	popts.OnDelivered = func(d news.Delivery) {
		a.bus.Publish(eventbus.Event{Type: "news.delivered", Data: d})
	}
	pipeline := news.NewPipeline(a.fetcher, a.adapter, a.dedup, popts)
	loc, err := newsLocation(cfg)
	if err != nil {
		return err
	}
	a.engine = news.NewEngine(a.registry, pipeline, news.EngineOptions{
		Location:    loc,
		Parallel:    cfg.News.ParallelDestinations,
		MaxParallel: cfg.News.MaxParallel,
		Log:         comp("news.engine"),
		OnRemoved:   a.onSubscriptionRemoved,
	})

	// assistant
	if cfg.Assistant.Enabled {
		timeout, err := config.ParseDurationOrDefault("assistant.timeout", cfg.Assistant.Timeout, 20*time.Second)
		if err != nil {
			return err
		}
		settings := assistant.NewSettings(a.store, mapAssistantDefaults(cfg), comp("assistant.settings"))
		a.assistant = assistant.NewService(
			assistant.NewClient(cfg.Assistant.BaseURL, cfg.Assistant.APIKey, timeout),
			assistant.NewContexts(cfg.Assistant.MaxHistory),
			settings,
			assistant.Options{
				Timeout:      timeout,
				Temperature:  cfg.Assistant.Temperature,
				FallbackText: cfg.Assistant.FallbackText,
				Log:          comp("assistant"),
			})
	}

	// load persisted state before anything reads it
	loads := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"dedup", a.dedup.Load},
		{"subscriptions", a.registry.Load},
		{"warns", a.warns.Load},
		{"stats", a.stats.Load},
	}
	if a.assistant != nil {
		loads = append(loads, struct {
			name string
			fn   func(context.Context) error
		}{"chat settings", a.assistant.Settings().Load})
	}
	for _, l := range loads {
		if err := l.fn(ctx); err != nil {
			return fmt.Errorf("load %s: %w", l.name, err)
		}
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, a.adapter, comp("notifier"), a.bus)

	botSettings, err := mapBotSettings(cfg)
	if err != nil {
		return err
	}
	deps := bot.Deps{
		Port:      a.adapter,
		Registry:  a.registry,
		Topics:    a.fetcher.Topics,
		Warns:     a.warns,
		Stats:     a.stats,
		Flood:     a.flood,
		Filter:    a.filter,
		Assistant: a.assistant,
		Notifier:  a.notif,
		Log:       comp("bot"),
	}
	a.bot = bot.New(deps, botSettings)

	a.router = router.New(a.adapter, comp("router"), router.Config{})
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.router.SetBotUsername(a.adapter.Me().Username)
	a.bot.Register(a.router)

	a.sched = scheduler.New(schedulerConfig(cfg), comp("scheduler"))
	a.status = status.New(mapStatusConfig(cfg), a.snapshot, comp("http"))
	return nil
}

// onSubscriptionRemoved reports a channel dropped as unreachable.
func (a *App) onSubscriptionRemoved(chatID int64, err error) {
	a.bus.Publish(eventbus.Event{Type: "news.removed", Data: map[string]any{"chat_id": chatID, "error": err.Error()}})
	target, _ := groupLogTarget(a.cfgm.Get())
	if target.ChatID == 0 || !a.notif.Enabled() {
		return
	}
	_ = a.notif.Notify(context.Background(), notifier.Notice{
		Channel:  "news.unreachable",
		Target:   target,
		Priority: notifier.PriorityAlert,
		Text:     "News subscription removed: chat " + strconv.FormatInt(chatID, 10) + " is unreachable (" + err.Error() + ")",
	})
}

// Done is closed when the app context ends: a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Validate(cfg) })

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	if err := a.adapter.UpdateMenuCommands(runCtx, a.router.MenuCommands()); err != nil {
		a.log.Warn("command menu not updated", logx.Err(err))
	}
	if a.notif.Enabled() {
		a.notif.Start(runCtx)
	}
	cfg := a.cfgm.Get()
	if err := a.registerJobs(cfg); err != nil {
		return err
	}
	a.sched.Start(runCtx)
	a.status.Reconfigure(runCtx, mapStatusConfig(cfg))

	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	a.sup.Go0("eventbus.recorder", func(c context.Context) {
		a.events.Run(c, a.bus)
	})
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)

	a.log.Info("app started",
		logx.String("bot", a.adapter.Me().Username),
		logx.Int("subscriptions", a.registry.Len()),
		logx.Bool("assistant", a.assistant != nil))
	a.sd.Ready(fmt.Sprintf("serving %d subscriptions", a.registry.Len()))
	return nil
}

// Stop shuts components down in dependency order; each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping(string(reason))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
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
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("stats.flush", 2*time.Second, func(c context.Context) error {
		if failed := a.stats.Flush(c); failed > 0 {
			return fmt.Errorf("%d stats counters not written", failed)
		}
		return nil
	})
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("http", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
