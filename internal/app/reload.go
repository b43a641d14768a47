package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"chatwarden/internal/config"
	logx "chatwarden/pkg/logx"
)

// reloadLoop applies committed configs until ctx ends. Bursts are coalesced
// to the newest config.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		var cfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			cfg = c
		}
	drain:
		for {
			select {
			case c := <-sub:
				if c != nil {
					cfg = c
				}
			default:
				break drain
			}
		}
		a.apply(ctx, last, cfg)
		last = cfg
	}
}

// apply pushes the reloadable parts of cfg into the running components.
// Storage, the bot token and enabling the assistant need a restart.
func (a *App) apply(ctx context.Context, prev, cfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if slices.Contains(sections, "storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}
	if prev.Telegram.Token != cfg.Telegram.Token || prev.Assistant.Enabled != cfg.Assistant.Enabled ||
		prev.Assistant.BaseURL != cfg.Assistant.BaseURL || prev.Assistant.APIKey != cfg.Assistant.APIKey {
		a.log.Warn("telegram token or assistant provider changed; restart required for changes to take effect")
	}

	// target first so Apply does not warn about an unset chat
	target, _ := groupLogTarget(cfg)
	a.logs.SetTelegramTarget(target.ChatID, target.ThreadID)
	a.logs.Apply(mapLogConfig(cfg))

	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	if s, err := mapBotSettings(cfg); err == nil {
		a.bot.Apply(s)
	}

	a.warns.SetThreshold(cfg.Moderation.WarnThreshold)
	if w, err := floodWindow(cfg); err == nil {
		a.flood.SetLimits(cfg.Moderation.FloodLimit, w)
	}
	if err := a.filter.SetPatterns(cfg.Moderation.BadWords); err != nil {
		a.log.Warn("word filter not updated", logx.Err(err))
	}

	if a.assistant != nil {
		a.assistant.Settings().SetDefaults(mapAssistantDefaults(cfg))
	}

	a.fetcher.SetTopics(cfg.News.Topics)
	if loc, err := newsLocation(cfg); err == nil {
		a.engine.SetLocation(loc)
	}
	a.sched.Apply(schedulerConfig(cfg))
	if err := a.registerJobs(cfg); err != nil {
		a.log.Warn("jobs not updated", logx.Err(err))
	}

	if ncfg, err := mapNotifierConfig(cfg); err == nil {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.log.Info("notifier disabled via config")
		case !wasEnabled && ncfg.Enabled:
			a.notif.Start(ctx)
			a.log.Info("notifier enabled via config")
		}
	}

	a.status.Reconfigure(ctx, mapStatusConfig(cfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
