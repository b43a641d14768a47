package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API. Load* calls are used once at startup to
// rebuild in-memory state; Put* calls are write-through.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	PutSeen(ctx context.Context, guid string, at time.Time) error
	LoadSeen(ctx context.Context) ([]SeenRecord, error)

	PutSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscription(ctx context.Context, chatID int64) error
	LoadSubscriptions(ctx context.Context) ([]Subscription, error)

	PutChatSettings(ctx context.Context, cs ChatSettings) error
	LoadChatSettings(ctx context.Context) ([]ChatSettings, error)

	PutCounter(ctx context.Context, c Counter) error
	LoadCounters(ctx context.Context, kind string) ([]Counter, error)

	Close() error
}

// AuditEntry records an admin action.
type AuditEntry struct {
	At        time.Time `json:"at"`
	ActorID   int64     `json:"actor_id"`
	ActorName string    `json:"actor_name,omitempty"`
	ChatID    int64     `json:"chat_id"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"err,omitempty"`
}

// SeenRecord is a delivered news item identifier.
type SeenRecord struct {
	GUID string    `json:"guid"`
	At   time.Time `json:"at"`
}

// Subscription is the persisted form of a chat's news schedule.
type Subscription struct {
	ChatID        int64     `json:"chat_id"`
	Topics        []string  `json:"topics"`
	Slots         []string  `json:"slots"`
	LastFiredSlot string    `json:"last_fired_slot,omitempty"`
	LastFiredDate string    `json:"last_fired_date,omitempty"`
	CreatedBy     int64     `json:"created_by,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChatSettings holds per-chat assistant overrides. Empty fields fall back to
// the configured defaults.
type ChatSettings struct {
	ChatID       int64     `json:"chat_id"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Model        string    `json:"model,omitempty"`
	Mode         string    `json:"mode,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Counter kinds.
const (
	CounterWarns    = "warns"
	CounterMessages = "messages"
)

// Counter is a per-user integer in one chat. A zero Value deletes the row.
type Counter struct {
	Kind   string `json:"kind"`
	ChatID int64  `json:"chat_id"`
	UserID int64  `json:"user_id"`
	Value  int    `json:"value"`
	Name   string `json:"name,omitempty"`
}

type counterKey struct {
	kind   string
	chatID int64
	userID int64
}

func (c Counter) key() counterKey { return counterKey{c.Kind, c.ChatID, c.UserID} }
