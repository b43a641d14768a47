package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

const sampleYAML = `
telegram:
  token: ${CHATWARDEN_TEST_TOKEN}
  owner_user_ids: [42]
  group_log: "-1001"
storage:
  driver: file
  path: ./data
news:
  enabled: true
  timezone: UTC
  topics:
    tech: ["https://example.com/tech.rss"]
assistant:
  enabled: true
  base_url: https://openrouter.ai/api/v1
  model: test/model
  default_mode: mention
moderation:
  warn_threshold: 5
  bad_words: ["(?i)spam"]
`

func TestDecodeYAMLExpandsEnv(t *testing.T) {
	t.Setenv("CHATWARDEN_TEST_TOKEN", "123:abc")
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if got := cfg.News.Topics["tech"]; len(got) != 1 {
		t.Fatalf("topics = %v", cfg.News.Topics)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeYAMLMergeKeys(t *testing.T) {
	t.Parallel()
	doc := `
defaults: &feeds
  tech: ["https://example.com/a.rss"]
  science: ["https://example.com/s.rss"]
telegram:
  token: x
news:
  topics:
    <<: *feeds
    tech: ["https://example.com/b.rss"]
`
	if _, err := Decode("config.yml", []byte(doc)); err == nil {
		t.Fatal("expected unknown field error for top-level anchor holder")
	}
	cfg, err := Decode("config.yml", []byte(`
telegram:
  token: x
news:
  topics:
    <<: {tech: ["https://example.com/a.rss"], science: ["https://example.com/s.rss"]}
    tech: ["https://example.com/b.rss"]
`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := cfg.News.Topics["tech"]; len(got) != 1 || got[0] != "https://example.com/b.rss" {
		t.Fatalf("explicit key must win over merge: %v", got)
	}
	if got := cfg.News.Topics["science"]; len(got) != 1 {
		t.Fatalf("merged key missing: %v", cfg.News.Topics)
	}
	if _, err := Decode("config.yaml", []byte("telegram: [unclosed")); err == nil {
		t.Fatal("expected yaml syntax error")
	}
	if _, err := ParseDurationField("x.timeout", "-1s"); err == nil {
		t.Fatal("expected negative duration error")
	}
	if d, err := ParseDurationOrDefault("x.timeout", "0s", 7); err != nil || d != 7 {
		t.Fatalf("ParseDurationOrDefault = %v, %v", d, err)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := Decode("config.json", []byte(`{"telegram":{"token":"x"},"bogus":1}`))
	if err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	t.Parallel()
	_, err := Decode("config.json", []byte(`{"telegram":{"token":"x"}}{}`))
	if err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{Telegram: TelegramConfig{Token: "t"}}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"minimal", func(c *Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"bad group log", func(c *Config) { c.Telegram.GroupLog = "@chan" }, "group_log"},
		{"bad duration", func(c *Config) { c.Assistant.Timeout = "soon" }, "assistant.timeout"},
		{"file without path", func(c *Config) { c.Storage.Driver = "file" }, "storage.path"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"bad timezone", func(c *Config) { c.News.Timezone = "Mars/Base" }, "news.timezone"},
		{"upper topic", func(c *Config) { c.News.Topics = map[string][]string{"Tech": {"u"}} }, "lowercase"},
		{"topic without urls", func(c *Config) { c.News.Topics = map[string][]string{"tech": nil} }, "news.topics.tech"},
		{"news without topics", func(c *Config) { c.News.Enabled = true }, "news.enabled"},
		{"assistant without url", func(c *Config) { c.Assistant.Enabled = true }, "assistant.base_url"},
		{"bad mode", func(c *Config) { c.Assistant.DefaultMode = "loud" }, "default_mode"},
		{"bad word regexp", func(c *Config) { c.Moderation.BadWords = []string{"("} }, "bad_words[0]"},
		{"caption too long", func(c *Config) { c.News.CaptionLimit = 2000 }, "caption_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "old"}, Assistant: AssistantConfig{APIKey: "k1"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "new"}, Assistant: AssistantConfig{APIKey: "k2"}}
	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if slices.Contains(changed, "telegram") {
		t.Fatalf("token-only change reported as telegram section: %v", changed)
	}
	if !slices.Contains(changed, "telegram.token") || !slices.Contains(changed, "assistant") {
		t.Fatalf("changed = %v", changed)
	}
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(`{"telegram":{"token":"a"}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return Validate(cfg) })
	ch := m.Subscribe(1)
	ctx := context.Background()

	if m.reload(ctx) {
		t.Fatal("unchanged content must not publish")
	}
	write(`{"telegram":{"token":""}}`)
	if m.reload(ctx) {
		t.Fatal("invalid config must not publish")
	}
	write(`{"telegram":{"token":"b"}}`)
	if !m.reload(ctx) {
		t.Fatal("valid change should publish")
	}
	if got := (<-ch).Telegram.Token; got != "b" {
		t.Fatalf("published token = %q", got)
	}
	if m.Get().Telegram.Token != "b" {
		t.Fatal("reload did not commit")
	}
	m.Unsubscribe(ch)
}
