package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Validate rejects configs that would fail at runtime. The app uses it both
// at startup and before committing a hot reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if gl := strings.TrimSpace(cfg.Telegram.GroupLog); gl != "" {
		if _, err := strconv.ParseInt(gl, 10, 64); err != nil {
			return fmt.Errorf("telegram.group_log: must be a numeric chat id: %w", err)
		}
	}
	if cfg.Telegram.TextLimit < 0 || cfg.Telegram.TextLimit > 4096 {
		return fmt.Errorf("telegram.text_limit must be within 0..4096")
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"news.feed_timeout", cfg.News.FeedTimeout},
		{"news.send_timeout", cfg.News.SendTimeout},
		{"assistant.timeout", cfg.Assistant.Timeout},
		{"moderation.flood_window", cfg.Moderation.FloodWindow},
		{"notifier.retry_base", cfg.Notifier.RetryBase},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "none":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %q", cfg.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}

	if tz := strings.TrimSpace(cfg.News.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("news.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.News.CaptionLimit < 0 || cfg.News.CaptionLimit > 1024 {
		return fmt.Errorf("news.caption_limit must be within 0..1024")
	}
	for topic, urls := range cfg.News.Topics {
		if strings.TrimSpace(topic) == "" || topic != strings.ToLower(topic) {
			return fmt.Errorf("news.topics: topic keys must be non-empty lowercase, got %q", topic)
		}
		if len(urls) == 0 {
			return fmt.Errorf("news.topics.%s: at least one feed url is required", topic)
		}
	}
	if cfg.News.Enabled && len(cfg.News.Topics) == 0 {
		return errors.New("news.enabled requires news.topics")
	}

	if cfg.Assistant.Enabled && strings.TrimSpace(cfg.Assistant.BaseURL) == "" {
		return errors.New("assistant.base_url is required when assistant.enabled")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Assistant.DefaultMode)) {
	case "", "off", "mention", "all":
	default:
		return fmt.Errorf("assistant.default_mode: unknown mode %q", cfg.Assistant.DefaultMode)
	}
	if cfg.Assistant.MaxHistory < 0 {
		return errors.New("assistant.max_history must be >= 0")
	}

	if cfg.Moderation.WarnThreshold < 0 || cfg.Moderation.FloodLimit < 0 {
		return errors.New("moderation thresholds must be >= 0")
	}
	for i, w := range cfg.Moderation.BadWords {
		if _, err := regexp.Compile(w); err != nil {
			return fmt.Errorf("moderation.bad_words[%d]: %w", i, err)
		}
	}

	if cfg.Notifier.Workers < 0 || cfg.Notifier.QueueSize < 0 || cfg.Notifier.RetryMax < 0 {
		return errors.New("notifier values must be >= 0")
	}
	return nil
}
