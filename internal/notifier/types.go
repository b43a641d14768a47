package notifier

import (
	"time"

	kit "chatwarden/internal/transport"
)

// Config controls the async notice pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// DedupWindow suppresses identical notices to the same target.
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Priority tags a notice; higher values get a marker prefix.
type Priority int

const (
	PriorityInfo  Priority = 5
	PriorityWarn  Priority = 7
	PriorityAlert Priority = 9
)

// Notice is a short message for chat admins, e.g. a ban report.
type Notice struct {
	// Channel groups notices for dedup and events ("ban", "news.unreachable").
	Channel  string
	Target   kit.ChatTarget
	Priority Priority
	Text     string
	Options  *kit.SendOptions
}

type HistoryItem struct {
	At      time.Time `json:"at"`
	Channel string    `json:"channel"`
	Text    string    `json:"text"`
}

// Event is published on the event bus for each lifecycle step of a notice.
type Event struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
