package bot

import (
	"context"
	"fmt"
	"strconv"

	"chatwarden/internal/notifier"
	"chatwarden/internal/router"
	kit "chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
	"chatwarden/pkg/tgui"
)

func (b *Bot) moderationCommands() []router.Command {
	return []router.Command{
		{Route: "ban", Description: "ban the replied user", Usage: "/ban (reply to a message)", Access: router.AccessAdmin, Handle: b.handleBan},
		{Route: "warn", Description: "warn the replied user", Usage: "/warn (reply to a message)", Access: router.AccessAdmin, Handle: b.handleWarn},
		{Route: "unwarn", Description: "remove one warning", Usage: "/unwarn (reply to a message)", Access: router.AccessAdmin, Handle: b.handleUnwarn},
		{Route: "del", Description: "delete the replied message", Usage: "/del (reply to a message)", Access: router.AccessAdmin, Handle: b.handleDelete},
		{Route: "stats", Description: "top 10 active users", Usage: "/stats", Handle: b.handleStats},
	}
}

// replyTarget returns the author of the message req replies to.
func (b *Bot) replyTarget(ctx context.Context, req *router.Request, verb string) (id int64, name string, ok bool) {
	m := req.Message
	if m == nil || m.ReplyToID == 0 || m.ReplyToFromID == 0 {
		b.reply(ctx, req, "ℹ️ Reply to the user's message to "+verb+" them.")
		return 0, "", false
	}
	if m.ReplyToFromID == b.d.Port.Me().ID {
		b.reply(ctx, req, "🤖 I will not "+verb+" myself.")
		return 0, "", false
	}
	return m.ReplyToFromID, targetName(m), true
}

func targetName(m *kit.Message) string {
	if m.ReplyToUsername != "" {
		return "@" + m.ReplyToUsername
	}
	return "user #" + strconv.FormatInt(m.ReplyToFromID, 10)
}

// protected reports whether the target is a chat admin; admins cannot be
// warned or banned through the bot.
func (b *Bot) protected(ctx context.Context, req *router.Request, userID int64) bool {
	ok, err := b.d.Port.IsAdmin(ctx, req.Chat.ChatID, userID)
	if err != nil {
		req.Log.Warn("target admin check failed", logx.Int64("target", userID), logx.Err(err))
		return false
	}
	if ok {
		b.reply(ctx, req, "🛡 Admins cannot be moderated.")
	}
	return ok
}

func (b *Bot) handleBan(ctx context.Context, req *router.Request) error {
	target, name, ok := b.replyTarget(ctx, req, "ban")
	if !ok || b.protected(ctx, req, target) {
		return nil
	}
	if err := b.d.Warns.Ban(ctx, req.Chat.ChatID, target, req.FromID); err != nil {
		req.Log.Warn("ban failed", logx.Int64("target", target), logx.Err(err))
		b.reply(ctx, req, "❌ Could not ban the user. Check the bot's admin rights.")
		return nil
	}
	b.reply(ctx, req, fmt.Sprintf("🚨 %s has been banned.", name))
	b.noticeBan(ctx, req, target, name, "banned by an admin")
	return nil
}

func (b *Bot) handleWarn(ctx context.Context, req *router.Request) error {
	target, name, ok := b.replyTarget(ctx, req, "warn")
	if !ok || b.protected(ctx, req, target) {
		return nil
	}
	res := b.d.Warns.Warn(ctx, req.Chat.ChatID, target, name, req.FromID)
	switch {
	case res.Banned && res.BanErr == nil:
		b.reply(ctx, req, fmt.Sprintf("🚨 %s reached %d warnings and has been banned.", name, res.Threshold))
		b.noticeBan(ctx, req, target, name, fmt.Sprintf("reached %d warnings", res.Threshold))
	case res.Banned:
		req.Log.Warn("threshold ban failed", logx.Int64("target", target), logx.Err(res.BanErr))
		b.reply(ctx, req, fmt.Sprintf("⚠️ %s reached %d warnings, but the ban failed. Check the bot's admin rights.", name, res.Threshold))
	default:
		b.reply(ctx, req, fmt.Sprintf("⚠️ %s, you have received a warning! (%d/%d)", name, res.Count, res.Threshold))
	}
	return nil
}

func (b *Bot) handleUnwarn(ctx context.Context, req *router.Request) error {
	target, name, ok := b.replyTarget(ctx, req, "unwarn")
	if !ok {
		return nil
	}
	n := b.d.Warns.Unwarn(ctx, req.Chat.ChatID, target, req.FromID)
	b.reply(ctx, req, fmt.Sprintf("✅ Warning removed from %s (%d/%d).", name, n, b.d.Warns.Threshold()))
	return nil
}

func (b *Bot) handleDelete(ctx context.Context, req *router.Request) error {
	m := req.Message
	if m == nil || m.ReplyToID == 0 {
		b.reply(ctx, req, "ℹ️ Reply to the message you want to delete.")
		return nil
	}
	chat := req.Chat
	err := b.d.Port.DeleteMessage(ctx, kit.MessageRef{ChatID: chat.ChatID, ThreadID: chat.ThreadID, MessageID: m.ReplyToID})
	b.d.Warns.Audit(ctx, chat.ChatID, req.FromID, "delete", m.ReplyToFromID, err)
	if err != nil {
		req.Log.Warn("delete failed", logx.Int("message_id", m.ReplyToID), logx.Err(err))
		b.reply(ctx, req, "❌ Could not delete the message.")
		return nil
	}
	if err := b.d.Port.DeleteMessage(ctx, kit.MessageRef{ChatID: chat.ChatID, ThreadID: chat.ThreadID, MessageID: m.ID}); err != nil {
		req.Log.Debug("command message not deleted", logx.Err(err))
	}
	return nil
}

func (b *Bot) handleStats(ctx context.Context, req *router.Request) error {
	if !req.IsGroup {
		b.reply(ctx, req, "📊 Statistics are collected in groups only.")
		return nil
	}
	top := b.d.Stats.Top(req.Chat.ChatID)
	if len(top) == 0 {
		b.reply(ctx, req, "📊 No statistics yet.")
		return nil
	}
	ui := tgui.New().Title("🏆", "Most active users").Blank()
	for i, e := range top {
		name := e.Name
		if name == "" {
			name = "user #" + strconv.FormatInt(e.UserID, 10)
		}
		ui.HTML(tgui.H(fmt.Sprintf("%d. ", i+1)) + tgui.Mention(name, e.UserID) + tgui.Esc(fmt.Sprintf(": %d messages", e.Count)))
	}
	if req.Message != nil {
		ui.ReplyTo(req.Message.ID)
	}
	if _, err := ui.Build().Send(ctx, b.d.Port, req.Chat); err != nil {
		req.Log.Warn("stats reply failed", logx.Err(err))
	}
	return nil
}

// noticeBan reports a ban to the log chat when configured.
func (b *Bot) noticeBan(ctx context.Context, req *router.Request, target int64, name, reason string) {
	s := b.current()
	if !s.NotifyBans || s.GroupLog.ChatID == 0 || b.d.Notifier == nil {
		return
	}
	where := strconv.FormatInt(req.Chat.ChatID, 10)
	if req.Message != nil && req.Message.ChatTitle != "" {
		where = req.Message.ChatTitle + " (" + where + ")"
	}
	text := fmt.Sprintf("Ban in %s\nUser: %s (%d)\nBy: %d\nReason: %s", where, name, target, req.FromID, reason)
	err := b.d.Notifier.Notify(ctx, notifier.Notice{
		Channel:  "ban",
		Target:   s.GroupLog,
		Priority: notifier.PriorityWarn,
		Text:     text,
		Options:  &kit.SendOptions{DisablePreview: true},
	})
	if err != nil {
		req.Log.Warn("ban notice not queued", logx.Err(err))
	}
}
