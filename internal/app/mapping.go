package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"chatwarden/internal/assistant"
	"chatwarden/internal/bot"
	"chatwarden/internal/config"
	"chatwarden/internal/feed"
	"chatwarden/internal/news"
	"chatwarden/internal/notifier"
	"chatwarden/internal/observability/status"
	"chatwarden/internal/storage"
	"chatwarden/internal/task/scheduler"
	kit "chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
)

const defaultNewsTick = "* * * * *"

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path)}, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
	}
	return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
}

func mapLogConfig(cfg *config.Config) logx.Config {
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

// groupLogTarget parses telegram.group_log; an empty value yields ChatID 0.
func groupLogTarget(cfg *config.Config) (kit.ChatTarget, error) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return kit.ChatTarget{}, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return kit.ChatTarget{}, fmt.Errorf("telegram.group_log: %w", err)
	}
	return kit.ChatTarget{ChatID: id, ThreadID: cfg.Logging.Telegram.ThreadID}, nil
}

func mapBotSettings(cfg *config.Config) (bot.Settings, error) {
	target, err := groupLogTarget(cfg)
	if err != nil {
		return bot.Settings{}, err
	}
	return bot.Settings{GroupLog: target, NotifyBans: cfg.Moderation.NotifyBans}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	base, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:    n.Enabled,
		Workers:    n.Workers,
		QueueSize:  n.QueueSize,
		RatePerSec: n.RatePerSec,
		RetryMax:   n.RetryMax,
		RetryBase:  base,
	}, nil
}

func mapStatusConfig(cfg *config.Config) status.Config {
	h := cfg.HTTP
	return status.Config{
		Enabled:      h.Enabled,
		Addr:         h.Addr,
		Token:        h.Token,
		Pprof:        h.Pprof,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 40 * time.Second, // pprof profile defaults to 30s
		IdleTimeout:  time.Minute,
	}
}

func newsLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.News.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.News.Timezone, Spread: true}
}

func newsTick(cfg *config.Config) string {
	if t := strings.TrimSpace(cfg.News.Tick); t != "" {
		return t
	}
	return defaultNewsTick
}

func mapFetchOptions(cfg *config.Config, log logx.Logger) (feed.Options, error) {
	timeout, err := config.ParseDurationOrDefault("news.feed_timeout", cfg.News.FeedTimeout, 15*time.Second)
	if err != nil {
		return feed.Options{}, err
	}
	return feed.Options{Timeout: timeout, UserAgent: cfg.News.UserAgent, Log: log}, nil
}

func mapPipelineOptions(cfg *config.Config, log logx.Logger) (news.PipelineOptions, error) {
	send, err := config.ParseDurationOrDefault("news.send_timeout", cfg.News.SendTimeout, 20*time.Second)
	if err != nil {
		return news.PipelineOptions{}, err
	}
	return news.PipelineOptions{
		CaptionLimit: cfg.News.CaptionLimit,
		TextLimit:    cfg.Telegram.TextLimit,
		SendTimeout:  send,
		Log:          log,
	}, nil
}

func mapAssistantDefaults(cfg *config.Config) assistant.Defaults {
	a := cfg.Assistant
	mode, err := assistant.ParseMode(a.DefaultMode)
	if err != nil {
		mode = assistant.ModeMention
	}
	return assistant.Defaults{
		SystemPrompt: assistant.LoadSystemPrompt(a.SystemPromptFile, a.SystemPrompt),
		Model:        a.Model,
		Mode:         mode,
	}
}

func floodWindow(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("moderation.flood_window", cfg.Moderation.FloodWindow, 0)
}

// Validate is the startup and hot-reload gate: the static checks plus everything the
// mappers would reject.
func Validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := groupLogTarget(cfg); err != nil {
		return err
	}
	if _, err := newsLocation(cfg); err != nil {
		return fmt.Errorf("news.timezone: %w", err)
	}
	return nil
}
