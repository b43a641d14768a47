package config

// Config is the root of the YAML/JSON configuration file.
// Durations are Go duration strings ("500ms", "20s", "1m").
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	News       NewsConfig       `json:"news"`
	Assistant  AssistantConfig  `json:"assistant"`
	Moderation ModerationConfig `json:"moderation"`
	Notifier   NotifierConfig   `json:"notifier"`
	HTTP       HTTPConfig       `json:"http"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id receiving log lines and ban notices.
	GroupLog    string `json:"group_log"`
	PollTimeout string `json:"poll_timeout"`
	// TextLimit caps a single outgoing text message (default 4096).
	TextLimit int `json:"text_limit,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	storage: { driver: file, path: ./data/chatwarden }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | file | sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NewsConfig drives the scheduled digest.
type NewsConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// Tick is the cron spec of the due check (default every minute).
	Tick         string `json:"tick,omitempty"`
	FeedTimeout  string `json:"feed_timeout,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
	CaptionLimit int    `json:"caption_limit,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`

	ParallelDestinations bool `json:"parallel_destinations,omitempty"`
	MaxParallel          int  `json:"max_parallel,omitempty"`

	// Topics maps a topic key to one or more feed URLs.
	Topics map[string][]string `json:"topics"`
}

type AssistantConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	Timeout string `json:"timeout,omitempty"`

	MaxHistory       int     `json:"max_history,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	SystemPrompt     string  `json:"system_prompt,omitempty"`
	SystemPromptFile string  `json:"system_prompt_file,omitempty"`
	FallbackText     string  `json:"fallback_text,omitempty"`
	// DefaultMode applies to chats without settings: off | mention | all.
	DefaultMode string `json:"default_mode,omitempty"`
}

type ModerationConfig struct {
	WarnThreshold int      `json:"warn_threshold,omitempty"`
	FloodLimit    int      `json:"flood_limit,omitempty"`
	FloodWindow   string   `json:"flood_window,omitempty"`
	BadWords      []string `json:"bad_words,omitempty"`
	NotifyBans    bool     `json:"notify_bans,omitempty"`
}

// NotifierConfig controls the async admin-notice pipeline.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
}

// HTTPConfig controls the status endpoint.
// Prefer a loopback address; pprof is mounted only when Pprof is set.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	// Token is required as a bearer token or ?token= when Addr is not loopback.
	Token string `json:"token,omitempty"`
	Pprof bool   `json:"pprof,omitempty"`
}
