package adapter

import (
	"context"
	"hash/fnv"
	"strconv"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
	"chatwarden/pkg/mdsafe"
)

const (
	textLimitMax    = 4096
	captionLimitMax = 1024
	menuDescMax     = 256
	menuCommandsMax = 100
)

func (a *Adapter) sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             tele.ParseMode(opt.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	if opt.ReplyTo > 0 {
		so.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: &tele.Chat{ID: to.ChatID}}
	}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok && rm != nil {
		so.ReplyMarkup = rm
	}
	return so
}

// SendText sends text, splitting it into several messages when it exceeds
// the text limit. Markdown text is split on span boundaries and each part is
// balanced; a part Telegram rejects for bad entities is resent as plain text.
// Reply markup is attached to the last part; the returned ref is the last
// message sent.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	parts := a.splitText(text, opt.ParseMode)
	chat := &tele.Chat{ID: to.ChatID}
	var ref kit.MessageRef
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		so := a.sendOptions(to, opt)
		if i > 0 {
			so.ReplyTo = nil
		}
		if i < len(parts)-1 {
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chat, part, so)
		if err != nil && so.ParseMode != tele.ModeDefault && isEntityError(err) {
			a.log.Debug("markup rejected; resending as plain text", logx.Int64("chat_id", to.ChatID), logx.Err(err))
			so.ParseMode = tele.ModeDefault
			msg, err = a.bot.Send(chat, part, so)
		}
		if err != nil {
			return ref, classify(err)
		}
		ref = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
	}
	return ref, nil
}

// splitText measures in UTF-16 units, as Telegram does.
func (a *Adapter) splitText(text, parseMode string) []string {
	if mdsafe.Units(text) <= a.cfg.TextLimit {
		return []string{text}
	}
	if parseMode == kit.ParseMarkdown {
		return mdsafe.Fit(text, a.cfg.TextLimit)
	}
	return mdsafe.ChunkUnits(text, a.cfg.TextLimit)
}

// SendPhoto sends an image by URL with a caption cut to the caption limit.
func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, photoURL, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	if mdsafe.Units(caption) > captionLimitMax {
		caption = mdsafe.Truncate(caption, captionLimitMax)
	}
	photo := &tele.Photo{File: tele.FromURL(photoURL), Caption: caption}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, photo, a.sendOptions(to, opt))
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	so := a.sendOptions(kit.ChatTarget{ChatID: ref.ChatID}, opt)
	so.ReplyTo = nil
	_, err := a.bot.Edit(m, text, so)
	return classify(err)
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	err := a.bot.Delete(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}})
	return classify(err)
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// SendLog delivers a log line to the log chat as plain text.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// UpdateMenuCommands publishes the command menu (setMyCommands). It only
// calls Telegram when the list changed since the last successful update.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	list := menuCommands(cmds)
	sum := menuHash(list)
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(list); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(list)))
	return nil
}

func menuCommands(cmds []kit.BotCommand) []tele.Command {
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if utf8.RuneCountInString(d) > menuDescMax {
			d = string([]rune(d)[:menuDescMax])
		}
		out = append(out, tele.Command{Text: c.Command, Description: d})
		if len(out) >= menuCommandsMax {
			break
		}
	}
	return out
}

func menuHash(list []tele.Command) uint64 {
	h := fnv.New64a()
	for _, c := range list {
		h.Write([]byte(c.Text))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
	}
	h.Write([]byte(strconv.Itoa(len(list))))
	return h.Sum64()
}
