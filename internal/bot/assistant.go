package bot

import (
	"context"
	"errors"
	"strings"

	"chatwarden/internal/assistant"
	"chatwarden/internal/router"
	kit "chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
)

func (b *Bot) assistantCommands() []router.Command {
	return []router.Command{
		{Route: "prompt", Description: "show or set the chat's system prompt", Usage: "/prompt [text|reset]", Handle: b.handlePrompt},
		{Route: "mode", Description: "when the assistant answers", Usage: "/mode [off|mention|all]", Handle: b.handleMode},
		{Route: "model", Description: "show or set the AI model", Usage: "/model [name|reset]", Handle: b.handleModel},
		{Route: "clear", Description: "forget the conversation", Usage: "/clear", Handle: b.handleClear},
	}
}

// configurable checks that the assistant is on and that the sender may
// change this chat's settings: anyone in private, admins in groups.
func (b *Bot) configurable(ctx context.Context, req *router.Request) bool {
	if b.d.Assistant == nil {
		b.reply(ctx, req, "🤖 The assistant is disabled.")
		return false
	}
	if req.IsGroup && !b.isChatAdmin(ctx, req) {
		b.reply(ctx, req, "admins only")
		return false
	}
	return true
}

func (b *Bot) handlePrompt(ctx context.Context, req *router.Request) error {
	if !b.configurable(ctx, req) {
		return nil
	}
	settings := b.d.Assistant.Settings()
	chatID := req.Chat.ChatID
	switch arg := strings.TrimSpace(req.ArgText); {
	case arg == "":
		cur := settings.Get(chatID)
		label := "default"
		if cur.CustomPrompt {
			label = "custom"
		}
		b.reply(ctx, req, "📝 Current prompt ("+label+"):\n"+cur.SystemPrompt)
	case strings.EqualFold(arg, "reset"):
		settings.SetPrompt(ctx, chatID, "")
		b.d.Assistant.Clear(chatID)
		b.reply(ctx, req, "🔄 Prompt reset to the default.")
	default:
		settings.SetPrompt(ctx, chatID, arg)
		// old turns were answered under the previous prompt
		b.d.Assistant.Clear(chatID)
		b.reply(ctx, req, "✅ Prompt updated.")
	}
	return nil
}

func (b *Bot) handleMode(ctx context.Context, req *router.Request) error {
	if !b.configurable(ctx, req) {
		return nil
	}
	settings := b.d.Assistant.Settings()
	if len(req.Args) == 0 {
		b.reply(ctx, req, "🤖 Mode: "+string(settings.Get(req.Chat.ChatID).Mode)+"\noff: never answer\nmention: answer replies and mentions\nall: answer every message")
		return nil
	}
	m, err := assistant.ParseMode(req.Args[0])
	if err != nil {
		b.reply(ctx, req, "❌ "+err.Error())
		return nil
	}
	settings.SetMode(ctx, req.Chat.ChatID, m)
	b.reply(ctx, req, "✅ Mode set to "+string(m)+".")
	return nil
}

func (b *Bot) handleModel(ctx context.Context, req *router.Request) error {
	if !b.configurable(ctx, req) {
		return nil
	}
	settings := b.d.Assistant.Settings()
	switch {
	case len(req.Args) == 0:
		b.reply(ctx, req, "🧠 Model: "+settings.Get(req.Chat.ChatID).Model)
	case strings.EqualFold(req.Args[0], "reset"):
		settings.SetModel(ctx, req.Chat.ChatID, "")
		b.reply(ctx, req, "🔄 Model reset to "+settings.Get(req.Chat.ChatID).Model+".")
	default:
		settings.SetModel(ctx, req.Chat.ChatID, req.Args[0])
		b.reply(ctx, req, "✅ Model set to "+req.Args[0]+".")
	}
	return nil
}

func (b *Bot) handleClear(ctx context.Context, req *router.Request) error {
	if !b.configurable(ctx, req) {
		return nil
	}
	b.d.Assistant.Clear(req.Chat.ChatID)
	b.reply(ctx, req, "🔄 Conversation history cleared.")
	return nil
}

// answer runs the assistant for m and replies with Markdown. The adapter
// splits long answers and falls back to plain text on entity errors.
func (b *Bot) answer(ctx context.Context, req *router.Request) {
	m := req.Message
	text, err := b.d.Assistant.Reply(ctx, m.ChatID, m.Text)
	if err != nil && !errors.Is(err, assistant.ErrProviderUnavailable) {
		req.Log.Warn("assistant reply failed", logx.Err(err))
	}
	opt := &kit.SendOptions{ParseMode: kit.ParseMarkdown, ReplyTo: m.ID}
	if err != nil {
		// fallback strings are plain text
		opt.ParseMode = ""
	}
	if _, serr := b.d.Port.SendText(ctx, req.Chat, text, opt); serr != nil {
		req.Log.Warn("assistant answer not sent", logx.Err(serr))
	}
}
