package tgui

import (
	"context"
	"strings"

	kit "chatwarden/internal/transport"

	tele "gopkg.in/telebot.v4"
)

// Sender is the subset of the transport adapter a Message needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error
}

// Message is rendered text plus send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

func (m Message) Send(ctx context.Context, s Sender, to kit.ChatTarget) (kit.MessageRef, error) {
	return s.SendText(ctx, to, m.Text, m.Opt)
}

func (m Message) Edit(ctx context.Context, s Sender, ref kit.MessageRef) error {
	return s.EditText(ctx, ref, m.Text, m.Opt)
}

// Builder assembles an HTML message line by line, escaping text.
// Defaults: ParseMode HTML, previews disabled.
type Builder struct {
	rm      *tele.ReplyMarkup
	replyTo int
	lines   []string
}

func New() *Builder { return &Builder{} }

func (b *Builder) Inline(kb *Inline) *Builder {
	b.rm = nil
	if kb != nil {
		b.rm = kb.Markup()
	}
	return b
}

func (b *Builder) ReplyTo(messageID int) *Builder {
	b.replyTo = messageID
	return b
}

// Title adds a bold title line with an optional emoji.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	line := B(t).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = Esc(e).String() + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

// Line adds an escaped line; an empty string adds a blank line.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// HTML adds pre-escaped content.
func (b *Builder) HTML(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder { return b.Line("") }

// KV adds a "• key: value" row with a bold key.
func (b *Builder) KV(key, value string) *Builder {
	key = strings.TrimSpace(key)
	if key == "" {
		return b
	}
	b.lines = append(b.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return b
}

func (b *Builder) Build() Message {
	opt := &kit.SendOptions{ParseMode: kit.ParseHTML, DisablePreview: true, ReplyTo: b.replyTo}
	if b.rm != nil {
		opt.ReplyMarkupAdapter = b.rm
	}
	return Message{Text: strings.Trim(strings.Join(b.lines, "\n"), "\n"), Opt: opt}
}
