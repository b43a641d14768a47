package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"chatwarden/internal/news"
	"chatwarden/internal/router"
	kit "chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
	"chatwarden/pkg/tgui"
)

const (
	cbScopeNews    = "news"
	cbActionHourly = "hourly"
	cbActionCancel = "cancel"

	maxReportedSlots = 3
)

func (b *Bot) newsCommands() []router.Command {
	return []router.Command{
		{Route: "news_setup", Description: "set up scheduled news for a channel", Usage: "/news_setup", Handle: b.handleNewsSetup},
		{Route: "news_list", Description: "list news subscriptions", Usage: "/news_list", Access: router.AccessOwnerOnly, Handle: b.handleNewsList},
		{Route: "news_stop", Description: "stop news for a channel", Usage: "/news_stop <channel_id|@username>", Handle: b.handleNewsStop},
	}
}

// keyboard renders the dialog buttons; each carries the session id.
func (b *Bot) keyboard(sessID string, hourly bool) *tgui.Inline {
	actions := []string{cbActionCancel}
	if hourly {
		actions = []string{cbActionHourly, cbActionCancel}
	}
	labels := map[string]string{cbActionHourly: "Every hour", cbActionCancel: "Cancel"}
	kb := tgui.NewInline()
	for _, action := range actions {
		data, err := tgui.Data(cbScopeNews, action, sessID)
		if err != nil {
			b.log.Error("callback data too long", logx.String("action", action))
			continue
		}
		kb.Row(tgui.Btn(labels[action], data))
	}
	return kb
}

func (b *Bot) topicList() string {
	keys := b.d.Topics().Keys()
	if len(keys) == 0 {
		return "(none configured)"
	}
	return strings.Join(keys, ", ")
}

func (b *Bot) handleNewsSetup(ctx context.Context, req *router.Request) error {
	if len(b.d.Topics()) == 0 {
		b.reply(ctx, req, "📰 News is not configured on this bot.")
		return nil
	}
	sess := b.setup.start(req.Chat.ChatID, req.FromID)
	req.Log.Info("news setup started", logx.String("session", sess.ID))
	msg := tgui.New().
		Title("📰", "News setup").
		Line("1. Add the bot to your channel as an admin").
		Line("2. Send the channel's @username or id").
		Inline(b.keyboard(sess.ID, false))
	if req.Message != nil {
		msg.ReplyTo(req.Message.ID)
	}
	if _, err := msg.Build().Send(ctx, b.d.Port, req.Chat); err != nil {
		req.Log.Warn("setup prompt not sent", logx.Err(err))
	}
	return nil
}

// continueSetup feeds a plain message into the sender's open setup dialog.
// It reports whether the message was consumed.
func (b *Bot) continueSetup(ctx context.Context, req *router.Request) bool {
	sess, ok := b.setup.get(req.Chat.ChatID, req.FromID)
	if !ok {
		return false
	}
	text := strings.TrimSpace(req.Message.Text)
	switch sess.Step {
	case stepChannel:
		b.setupChannel(ctx, req, sess, text)
	case stepTopics:
		b.setupTopics(ctx, req, sess, text)
	case stepSchedule:
		b.setupSchedule(ctx, req, sess, text)
	}
	return true
}

func (b *Bot) setupChannel(ctx context.Context, req *router.Request, sess setupSession, text string) {
	ch, err := b.d.Port.ResolveChat(ctx, text)
	if err != nil {
		req.Log.Info("setup channel not resolved", logx.String("ref", text), logx.Err(err))
		b.reply(ctx, req, "❌ Channel not found or the bot has no access to it!")
		return
	}
	userAdmin, err := b.d.Port.IsAdmin(ctx, ch.ID, req.FromID)
	if err != nil {
		req.Log.Info("setup admin check failed", logx.Int64("channel", ch.ID), logx.Err(err))
		b.reply(ctx, req, "❌ Channel not found or the bot has no access to it!")
		return
	}
	if !userAdmin {
		b.reply(ctx, req, "❌ You must be an admin of the channel to set it up!")
		return
	}
	if botAdmin, err := b.d.Port.IsAdmin(ctx, ch.ID, b.d.Port.Me().ID); err != nil || !botAdmin {
		b.reply(ctx, req, "❌ The bot is not an admin of the channel!")
		return
	}
	if !b.setup.update(req.Chat.ChatID, req.FromID, sess.ID, func(s *setupSession) {
		s.Channel = ch
		s.Step = stepTopics
	}) {
		b.reply(ctx, req, expiredText)
		return
	}
	req.Log.Info("setup channel confirmed", logx.Int64("channel", ch.ID))
	b.reply(ctx, req, "✅ Channel confirmed. Send topics separated by commas:\nAvailable topics: "+b.topicList())
}

func (b *Bot) setupTopics(ctx context.Context, req *router.Request, sess setupSession, text string) {
	valid, unknown := news.ParseTopics(text, b.d.Topics())
	if len(unknown) > 0 {
		b.reply(ctx, req, "❌ Unknown topics: "+strings.Join(unknown, ", ")+"\nAvailable topics: "+b.topicList())
		return
	}
	if len(valid) == 0 {
		b.reply(ctx, req, "❌ No valid topics given!")
		return
	}
	if !b.setup.update(req.Chat.ChatID, req.FromID, sess.ID, func(s *setupSession) {
		s.Topics = valid
		s.Step = stepSchedule
	}) {
		b.reply(ctx, req, expiredText)
		return
	}
	msg := tgui.New().
		Line("⏰ Send publication times, e.g. 09:00, 18:00").
		Line("Format: HH:MM").
		Inline(b.keyboard(sess.ID, true))
	if req.Message != nil {
		msg.ReplyTo(req.Message.ID)
	}
	if _, err := msg.Build().Send(ctx, b.d.Port, req.Chat); err != nil {
		req.Log.Warn("schedule prompt not sent", logx.Err(err))
	}
}

func (b *Bot) setupSchedule(ctx context.Context, req *router.Request, sess setupSession, text string) {
	slots, invalid := news.ParseSlots(text)
	if len(invalid) > 0 || len(slots) == 0 {
		var sb strings.Builder
		sb.WriteString("❌ Invalid times:\n")
		for i, s := range invalid {
			if i == maxReportedSlots {
				break
			}
			sb.WriteString("• " + s + " → invalid format\n")
		}
		sb.WriteString("✅ Example: 09:00, 18:30, 23:59")
		b.reply(ctx, req, sb.String())
		return
	}
	b.finishSetup(ctx, req, sess, slots, strings.Join(slots, ", "))
}

const expiredText = "⌛ This setup session has expired. Start again with /news_setup."

func (b *Bot) finishSetup(ctx context.Context, req *router.Request, sess setupSession, slots []string, label string) {
	if !b.setup.end(req.Chat.ChatID, req.FromID, sess.ID) {
		b.reply(ctx, req, expiredText)
		return
	}
	sub, err := b.d.Registry.Add(ctx, sess.Channel.ID, sess.Topics, slots, req.FromID)
	if err != nil {
		if !errors.Is(err, news.ErrEmptySubscription) {
			req.Log.Error("subscription add failed", logx.Err(err))
		}
		b.reply(ctx, req, "❌ Could not save the settings. Start again with /news_setup.")
		return
	}
	req.Log.Info("subscription saved",
		logx.Int64("channel", sub.ChatID), logx.Strings("topics", sub.Topics), logx.Int("slots", len(sub.Slots)))
	b.reply(ctx, req, fmt.Sprintf("✅ Settings saved!\n• Channel: %s\n• Topics: %s\n• Times: %s",
		channelLabel(sess.Channel), strings.Join(sub.Topics, ", "), label))
}

func channelLabel(c kit.Chat) string {
	switch {
	case c.Username != "":
		return "@" + c.Username
	case c.Title != "":
		return c.Title
	}
	return strconv.FormatInt(c.ID, 10)
}

func (b *Bot) handleHourly(ctx context.Context, req *router.Request) error {
	sess, ok := b.setup.get(req.Chat.ChatID, req.FromID)
	if !ok || sess.ID != req.Payload || sess.Step != stepSchedule {
		b.reply(ctx, req, expiredText)
		return nil
	}
	b.finishSetup(ctx, req, sess, news.HourlySlots(), "every hour")
	return nil
}

func (b *Bot) handleCancel(ctx context.Context, req *router.Request) error {
	if !b.setup.end(req.Chat.ChatID, req.FromID, req.Payload) {
		b.reply(ctx, req, expiredText)
		return nil
	}
	req.Log.Info("news setup cancelled")
	b.reply(ctx, req, "❌ Setup cancelled.")
	return nil
}

func (b *Bot) handleNewsList(ctx context.Context, req *router.Request) error {
	subs := b.d.Registry.List()
	if len(subs) == 0 {
		b.reply(ctx, req, "📰 No subscriptions.")
		return nil
	}
	ui := tgui.New().Title("📰", fmt.Sprintf("Subscriptions (%d)", len(subs)))
	for _, s := range subs {
		times := strings.Join(s.Slots, ", ")
		if slices.Equal(s.Slots, news.HourlySlots()) {
			times = "every hour"
		}
		ui.HTML(tgui.H("• ") + tgui.Code(strconv.FormatInt(s.ChatID, 10)) + tgui.Esc(": "+strings.Join(s.Topics, ", ")+" at "+times))
	}
	if req.Message != nil {
		ui.ReplyTo(req.Message.ID)
	}
	if _, err := ui.Build().Send(ctx, b.d.Port, req.Chat); err != nil {
		req.Log.Warn("news list reply failed", logx.Err(err))
	}
	return nil
}

func (b *Bot) handleNewsStop(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		b.reply(ctx, req, "ℹ️ Usage: /news_stop <channel_id|@username>")
		return nil
	}
	ref := req.Args[0]
	chatID, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		ch, rerr := b.d.Port.ResolveChat(ctx, ref)
		if rerr != nil {
			b.reply(ctx, req, "❌ Channel not found.")
			return nil
		}
		chatID = ch.ID
	}
	sub, ok := b.d.Registry.Get(chatID)
	if !ok {
		b.reply(ctx, req, "ℹ️ No subscription for "+ref+".")
		return nil
	}
	if !req.Owner && sub.CreatedBy != req.FromID {
		b.reply(ctx, req, "❌ Only the user who set up the subscription or a bot owner can stop it.")
		return nil
	}
	b.d.Registry.Remove(ctx, chatID)
	req.Log.Info("subscription stopped", logx.Int64("channel", chatID))
	b.reply(ctx, req, "✅ News stopped for "+ref+".")
	return nil
}
