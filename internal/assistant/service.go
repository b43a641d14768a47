package assistant

import (
	"context"
	"errors"
	"html"
	"strconv"
	"strings"
	"time"

	"chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
)

const (
	DefaultFallbackText  = "⚠️ The assistant is temporarily unavailable. Try again later."
	DefaultMalformedText = "⚠️ Could not process the assistant reply."
	DefaultSystemPrompt  = "You are an assistant in a group chat. Answer briefly."
)

type Options struct {
	Timeout      time.Duration
	Temperature  float64
	FallbackText string
	Log          logx.Logger
}

// Service answers chat messages with completions from a Completer.
type Service struct {
	llm      Completer
	contexts *Contexts
	settings *Settings
	opts     Options
	log      logx.Logger
}

func NewService(llm Completer, contexts *Contexts, settings *Settings, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.FallbackText == "" {
		opts.FallbackText = DefaultFallbackText
	}
	return &Service{llm: llm, contexts: contexts, settings: settings, opts: opts, log: opts.Log}
}

func (s *Service) Settings() *Settings { return s.settings }

// ShouldReply reports whether m addresses the bot under the chat's mode.
// Private chats always get an answer unless the mode is off.
func (s *Service) ShouldReply(m *transport.Message, me transport.User) bool {
	if m == nil || m.FromIsBot || strings.TrimSpace(m.Text) == "" {
		return false
	}
	switch s.settings.Get(m.ChatID).Mode {
	case ModeOff:
		return false
	case ModeAll:
		return true
	}
	if !m.IsGroup {
		return true
	}
	return Addressed(m, me)
}

// Addressed reports a reply to the bot, an @username mention or the bot id
// appearing in the text.
func Addressed(m *transport.Message, me transport.User) bool {
	if me.ID != 0 && m.ReplyToFromID == me.ID {
		return true
	}
	text := strings.ToLower(m.Text)
	if me.Username != "" && strings.Contains(text, "@"+strings.ToLower(me.Username)) {
		return true
	}
	return me.ID != 0 && strings.Contains(m.Text, strconv.FormatInt(me.ID, 10))
}

// Reply appends text to the chat's conversation and returns the answer.
// Provider failures return the fallback text and leave the history
// unchanged; the error is returned alongside for logging.
func (s *Service) Reply(ctx context.Context, chatID int64, text string) (string, error) {
	cfg := s.settings.Get(chatID)
	sess := s.contexts.Begin(chatID)
	defer sess.End()

	user := Message{Role: RoleUser, Content: text}
	msgs := append(sess.Messages(cfg.SystemPrompt), user)

	cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	started := time.Now()
	answer, err := s.llm.Complete(cctx, CompletionRequest{
		Model:       cfg.Model,
		Messages:    msgs,
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		s.log.Warn("completion failed",
			logx.Int64("chat_id", chatID), logx.String("model", cfg.Model),
			logx.Duration("took", time.Since(started)), logx.Err(err))
		if !errors.Is(err, ErrProviderUnavailable) {
			err = errors.Join(ErrProviderUnavailable, err)
		}
		return s.opts.FallbackText, err
	}

	answer = strings.TrimSpace(html.UnescapeString(answer))
	if answer == "" {
		return DefaultMalformedText, ErrProviderUnavailable
	}
	sess.Append(user, Message{Role: RoleAssistant, Content: answer})
	s.log.Debug("completion ok",
		logx.Int64("chat_id", chatID), logx.String("model", cfg.Model),
		logx.Int("history", len(msgs)), logx.Duration("took", time.Since(started)))
	return answer, nil
}

// Clear drops the chat's conversation history.
func (s *Service) Clear(chatID int64) {
	s.contexts.Reset(chatID)
}
