package tgui

import (
	"errors"
	"strings"
	"testing"

	kit "chatwarden/internal/transport"

	tele "gopkg.in/telebot.v4"
)

func TestDataLimit(t *testing.T) {
	t.Parallel()
	got, err := Data("news", "hourly", "a:b")
	if err != nil || got != "news:hourly:a:b" {
		t.Fatalf("Data = %q, %v", got, err)
	}
	if got, _ := Data(" news ", "cancel", ""); got != "news:cancel" {
		t.Fatalf("Data without payload = %q", got)
	}
	if _, err := Data("news", "x", strings.Repeat("p", 60)); !errors.Is(err, ErrCallbackDataTooLong) {
		t.Fatalf("err = %v", err)
	}
}

func TestBuilderEscapesAndAttachesMarkup(t *testing.T) {
	t.Parallel()
	kb := NewInline().Row(Btn("Every hour", "news:hourly"), Btn("Cancel", "news:cancel"))
	m := New().
		Title("📊", "Top <users>").
		KV("a&b", "1").
		Line("x < y").
		HTML(Mention("Ann", 42)).
		ReplyTo(3).
		Inline(kb).
		Build()

	want := "📊 <b>Top &lt;users&gt;</b>\n• <b>a&amp;b</b>: 1\nx &lt; y\n<a href=\"tg://user?id=42\">Ann</a>"
	if m.Text != want {
		t.Fatalf("text = %q\nwant  %q", m.Text, want)
	}
	if m.Opt.ParseMode != kit.ParseHTML || !m.Opt.DisablePreview || m.Opt.ReplyTo != 3 {
		t.Fatalf("opt = %+v", m.Opt)
	}
	rm, ok := m.Opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	if !ok || len(rm.InlineKeyboard) != 1 || len(rm.InlineKeyboard[0]) != 2 {
		t.Fatalf("markup = %#v", m.Opt.ReplyMarkupAdapter)
	}
}
