package transport

import (
	"context"
	"errors"
)

// ErrDestinationUnreachable reports that a chat can no longer receive
// messages (bot kicked, chat deleted, user blocked the bot). Callers drop
// the destination instead of retrying.
var ErrDestinationUnreachable = errors.New("transport: destination unreachable")

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID            int
	ChatID        int64
	ThreadID      int // forum topic thread id (0 if none)
	ChatTitle     string
	FromID        int64
	FromUsername  string
	FromFirstName string
	FromIsBot     bool
	Text          string
	IsGroup       bool

	// Reply target, zero when the message is not a reply.
	ReplyToID       int
	ReplyToFromID   int64
	ReplyToUsername string
	ReplyToText     string
}

// DisplayName prefers @username and falls back to the first name.
func (m *Message) DisplayName() string {
	if m.FromUsername != "" {
		return "@" + m.FromUsername
	}
	return m.FromFirstName
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Chat is a resolved destination.
type Chat struct {
	ID       int64
	Title    string
	Username string
	Type     string
}

// User identifies the bot account itself.
type User struct {
	ID       int64
	Username string
}

const (
	ParseMarkdown = "Markdown"
	ParseHTML     = "HTML"
)

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int
	// ReplyMarkupAdapter is adapter-specific markup (Telegram: *telebot.ReplyMarkup).
	ReplyMarkupAdapter any
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	Me() User

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, photoURL, caption string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	BanMember(ctx context.Context, chatID, userID int64) error
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	// ResolveChat accepts a numeric id, @username or t.me link.
	ResolveChat(ctx context.Context, ref string) (Chat, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface for adapters that can publish
// a platform command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
