package bot

import (
	"context"
	"sync"
	"time"

	"chatwarden/internal/assistant"
	"chatwarden/internal/feed"
	"chatwarden/internal/moderation"
	"chatwarden/internal/news"
	"chatwarden/internal/notifier"
	"chatwarden/internal/router"
	kit "chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
)

// Port is the transport surface the handlers use.
type Port interface {
	router.Port
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
	DeleteMessage(ctx context.Context, ref kit.MessageRef) error
	BanMember(ctx context.Context, chatID, userID int64) error
	ResolveChat(ctx context.Context, ref string) (kit.Chat, error)
	Me() kit.User
}

// Notifier queues admin notices.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notice) error
}

// Settings are the hot-reloadable knobs of the handlers.
type Settings struct {
	// GroupLog receives ban notices; ChatID 0 disables them.
	GroupLog   kit.ChatTarget
	NotifyBans bool
}

type Deps struct {
	Port     Port
	Registry *news.Registry
	// Topics returns the configured topic map.
	Topics    func() feed.Topics
	Warns     *moderation.Warns
	Stats     *moderation.Stats
	Flood     *moderation.AntiFlood
	Filter    *moderation.WordFilter
	Assistant *assistant.Service // nil when the assistant is disabled
	Notifier  Notifier           // nil when notices are disabled
	Log       logx.Logger
}

// Bot implements the chat commands and the plain-message flow.
type Bot struct {
	d     Deps
	log   logx.Logger
	setup *sessions
	now   func() time.Time

	// isOwner is wired by Register from the router.
	isOwner func(int64) bool

	mu       sync.RWMutex
	settings Settings
}

func New(d Deps, s Settings) *Bot {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Topics == nil {
		d.Topics = func() feed.Topics { return nil }
	}
	return &Bot{
		d:        d,
		log:      d.Log.With(logx.String("comp", "bot")),
		setup:    newSessions(DefaultSessionTTL),
		now:      time.Now,
		isOwner:  func(int64) bool { return false },
		settings: s,
	}
}

// Apply swaps reloadable settings.
func (b *Bot) Apply(s Settings) {
	b.mu.Lock()
	b.settings = s
	b.mu.Unlock()
}

func (b *Bot) current() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

// Register installs the commands, callbacks and message handler on r.
func (b *Bot) Register(r *router.Router) {
	b.isOwner = r.IsOwner
	var cmds []router.Command
	cmds = append(cmds, b.newsCommands()...)
	cmds = append(cmds, b.moderationCommands()...)
	cmds = append(cmds, b.assistantCommands()...)
	r.Register(cmds, b.callbacks())
	r.OnMessage(b.HandleMessage)
}

// PruneSessions drops expired setup dialogs.
func (b *Bot) PruneSessions() int { return b.setup.prune() }

func (b *Bot) callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Scope: cbScopeNews, Action: cbActionHourly, Handle: b.handleHourly},
		{Scope: cbScopeNews, Action: cbActionCancel, Handle: b.handleCancel},
	}
}

// reply answers req's message in plain text.
func (b *Bot) reply(ctx context.Context, req *router.Request, text string) {
	b.send(ctx, req, text, &kit.SendOptions{DisablePreview: true})
}

func (b *Bot) send(ctx context.Context, req *router.Request, text string, opt *kit.SendOptions) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if req.Message != nil && opt.ReplyTo == 0 {
		opt.ReplyTo = req.Message.ID
	}
	if _, err := b.d.Port.SendText(ctx, req.Chat, text, opt); err != nil {
		req.Log.Warn("reply failed", logx.Err(err))
	}
}

// isChatAdmin reports whether the sender may moderate the request's chat.
func (b *Bot) isChatAdmin(ctx context.Context, req *router.Request) bool {
	if req.Owner {
		return true
	}
	if !req.IsGroup {
		return false
	}
	ok, err := b.d.Port.IsAdmin(ctx, req.Chat.ChatID, req.FromID)
	if err != nil {
		req.Log.Warn("admin check failed", logx.Err(err))
		return false
	}
	return ok
}
