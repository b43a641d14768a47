package config

import (
	"reflect"
	"sort"

	logx "chatwarden/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (bot token, API key) are never logged.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	ot.Token, nt.Token = "", ""
	if !reflect.DeepEqual(ot, nt) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", nt.GroupLog != ""),
		)
	}
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram.token")
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if !reflect.DeepEqual(oldCfg.News, newCfg.News) {
		changed = append(changed, "news")
		attrs = append(attrs,
			logx.Bool("news.enabled", newCfg.News.Enabled),
			logx.Strings("news.topics", topicKeys(newCfg.News.Topics)),
		)
	}

	oa, na := oldCfg.Assistant, newCfg.Assistant
	oa.APIKey, na.APIKey = "", ""
	if oa != na || oldCfg.Assistant.APIKey != newCfg.Assistant.APIKey {
		changed = append(changed, "assistant")
		attrs = append(attrs,
			logx.Bool("assistant.enabled", na.Enabled),
			logx.String("assistant.model", na.Model),
		)
	}

	if !reflect.DeepEqual(oldCfg.Moderation, newCfg.Moderation) {
		changed = append(changed, "moderation")
		attrs = append(attrs,
			logx.Int("moderation.warn_threshold", newCfg.Moderation.WarnThreshold),
			logx.Int("moderation.bad_words", len(newCfg.Moderation.BadWords)),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Bool("notifier.enabled", newCfg.Notifier.Enabled))
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Bool("http.enabled", newCfg.HTTP.Enabled))
	}
	return changed, attrs
}

func topicKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
