package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"chatwarden/internal/storage"
	logx "chatwarden/pkg/logx"
)

// Mode decides which group messages get an AI reply.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeMention Mode = "mention" // replies to the bot, @mentions and id mentions
	ModeAll     Mode = "all"
)

var ErrBadMode = errors.New("mode must be off, mention or all")

// ParseMode accepts a mode name in any case.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeOff, ModeMention, ModeAll:
		return m, nil
	}
	return "", ErrBadMode
}

// Defaults apply to chats without overrides.
type Defaults struct {
	SystemPrompt string
	Model        string
	Mode         Mode
}

// ChatConfig is the effective assistant configuration of one chat.
type ChatConfig struct {
	SystemPrompt string
	Model        string
	Mode         Mode
	// Custom* report whether the chat overrides the default.
	CustomPrompt bool
	CustomModel  bool
}

// Settings holds per-chat prompt, mode and model overrides. Every change is
// written through to storage; a failed write is logged and memory wins.
type Settings struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time

	mu       sync.RWMutex
	defaults Defaults
	chats    map[int64]storage.ChatSettings

	writeMu sync.Mutex
}

func NewSettings(store storage.Store, defaults Defaults, log logx.Logger) *Settings {
	if defaults.Mode == "" {
		defaults.Mode = ModeMention
	}
	return &Settings{
		store:    store,
		log:      log,
		now:      time.Now,
		defaults: defaults,
		chats:    map[int64]storage.ChatSettings{},
	}
}

func (s *Settings) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	list, err := s.store.LoadChatSettings(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, cs := range list {
		s.chats[cs.ChatID] = cs
	}
	s.mu.Unlock()
	return nil
}

// SetDefaults swaps the fallback values (config reload).
func (s *Settings) SetDefaults(d Defaults) {
	if d.Mode == "" {
		d.Mode = ModeMention
	}
	s.mu.Lock()
	s.defaults = d
	s.mu.Unlock()
}

func (s *Settings) Get(chatID int64) ChatConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.defaults
	out := ChatConfig{SystemPrompt: d.SystemPrompt, Model: d.Model, Mode: d.Mode}
	cs, ok := s.chats[chatID]
	if !ok {
		return out
	}
	if cs.SystemPrompt != "" {
		out.SystemPrompt, out.CustomPrompt = cs.SystemPrompt, true
	}
	if cs.Model != "" {
		out.Model, out.CustomModel = cs.Model, true
	}
	if m, err := ParseMode(cs.Mode); err == nil {
		out.Mode = m
	}
	return out
}

// SetPrompt overrides the system prompt; an empty prompt restores the default.
func (s *Settings) SetPrompt(ctx context.Context, chatID int64, prompt string) {
	s.update(ctx, chatID, func(cs *storage.ChatSettings) { cs.SystemPrompt = strings.TrimSpace(prompt) })
}

func (s *Settings) SetMode(ctx context.Context, chatID int64, m Mode) {
	s.update(ctx, chatID, func(cs *storage.ChatSettings) { cs.Mode = string(m) })
}

// SetModel overrides the model; an empty name restores the default.
func (s *Settings) SetModel(ctx context.Context, chatID int64, model string) {
	s.update(ctx, chatID, func(cs *storage.ChatSettings) { cs.Model = strings.TrimSpace(model) })
}

func (s *Settings) update(ctx context.Context, chatID int64, fn func(cs *storage.ChatSettings)) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	cs := s.chats[chatID]
	cs.ChatID = chatID
	fn(&cs)
	cs.UpdatedAt = s.now()
	s.chats[chatID] = cs
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	if err := s.store.PutChatSettings(ctx, cs); err != nil {
		s.log.Warn("chat settings persist failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}
