package bot

import (
	"context"
	"strings"

	"chatwarden/internal/router"
	kit "chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
)

// HandleMessage processes a non-command message: group stats, an open
// setup dialog, antiflood, the word filter and finally the assistant.
func (b *Bot) HandleMessage(ctx context.Context, req *router.Request) error {
	m := req.Message
	if m == nil || m.FromIsBot || strings.TrimSpace(m.Text) == "" {
		return nil
	}
	if m.IsGroup {
		b.d.Stats.Track(m.ChatID, m.FromID, m.DisplayName())
	}
	if b.continueSetup(ctx, req) {
		return nil
	}
	if m.IsGroup && !b.allowFlood(ctx, req) {
		return nil
	}
	if m.IsGroup && b.filtered(ctx, req) {
		return nil
	}
	if b.d.Assistant != nil && b.d.Assistant.ShouldReply(m, b.d.Port.Me()) {
		b.answer(ctx, req)
	}
	return nil
}

func (b *Bot) allowFlood(ctx context.Context, req *router.Request) bool {
	if b.d.Flood == nil {
		return true
	}
	m := req.Message
	v := b.d.Flood.Allow(m.ChatID, m.FromID, b.now())
	if v.Allowed {
		return true
	}
	req.Log.Debug("flood limited", logx.Bool("notify", v.Notify))
	if v.Notify {
		b.reply(ctx, req, "🐢 Too many messages! Please wait a minute.")
	}
	return false
}

// filtered deletes a message matching the word filter and reports whether
// it did. Admins are not filtered.
func (b *Bot) filtered(ctx context.Context, req *router.Request) bool {
	if b.d.Filter == nil || b.d.Filter.Len() == 0 {
		return false
	}
	m := req.Message
	pattern := b.d.Filter.Match(m.Text)
	if pattern == "" || b.isChatAdmin(ctx, req) {
		return false
	}
	err := b.d.Port.DeleteMessage(ctx, kit.MessageRef{ChatID: m.ChatID, ThreadID: m.ThreadID, MessageID: m.ID})
	b.d.Warns.Audit(ctx, m.ChatID, b.d.Port.Me().ID, "filter_delete", m.FromID, err)
	if err != nil {
		req.Log.Warn("filtered message not deleted", logx.String("pattern", pattern), logx.Err(err))
		return true
	}
	req.Log.Info("filtered message deleted", logx.String("pattern", pattern))
	if _, err := b.d.Port.SendText(ctx, req.Chat, "🚫 Message removed for breaking the rules!", nil); err != nil {
		req.Log.Warn("filter notice failed", logx.Err(err))
	}
	return true
}
