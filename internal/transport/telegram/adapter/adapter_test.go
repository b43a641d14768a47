package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
	"chatwarden/pkg/mdsafe"
)

func TestClassifyMarksGoneChats(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		gone bool
	}{
		{"kicked", tele.ErrKickedFromChannel, true},
		{"blocked wrapped", fmt.Errorf("telebot: %w", tele.ErrBlockedByUser), true},
		{"chat not found", tele.ErrChatNotFound, true},
		{"unknown forbidden", tele.NewError(403, "Forbidden: something new"), true},
		{"too long", tele.ErrTooLongMessage, false},
		{"plain", errors.New("network down"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			if errors.Is(got, kit.ErrDestinationUnreachable) != tc.gone {
				t.Fatalf("classify(%v) unreachable = %v, want %v", tc.err, !tc.gone, tc.gone)
			}
			if !errors.Is(got, tc.err) {
				t.Fatalf("classify(%v) lost the original error", tc.err)
			}
		})
	}
	if classify(nil) != nil {
		t.Fatalf("classify(nil) must be nil")
	}
}

func TestIsEntityError(t *testing.T) {
	t.Parallel()

	bad := tele.NewError(400, "Bad Request: can't parse entities: Can't find end of the entity starting at byte offset 12")
	if !isEntityError(fmt.Errorf("telebot: %w", bad)) {
		t.Fatalf("expected entity error")
	}
	if isEntityError(tele.ErrChatNotFound) {
		t.Fatalf("chat not found is not an entity error")
	}
}

func TestParseChatRef(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		id       int64
		username string
		wantErr  bool
	}{
		{in: "-1001234567890", id: -1001234567890},
		{in: "@science_news", username: "science_news"},
		{in: "https://t.me/science_news", username: "science_news"},
		{in: "t.me/science_news/42", username: "science_news"},
		{in: "@ab", wantErr: true},
		{in: "example.com/channel", wantErr: true},
		{in: "  ", wantErr: true},
	}
	for _, tc := range cases {
		id, username, err := ParseChatRef(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseChatRef(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseChatRef(%q): %v", tc.in, err)
		}
		if id != tc.id || username != tc.username {
			t.Fatalf("ParseChatRef(%q) = (%d, %q), want (%d, %q)", tc.in, id, username, tc.id, tc.username)
		}
	}
}

func TestAdminCacheExpires(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newAdminCache(time.Minute)
	c.now = func() time.Time { return now }

	c.put(1, 2, true)
	if ok, hit := c.get(1, 2); !hit || !ok {
		t.Fatalf("expected cached admin, got ok=%v hit=%v", ok, hit)
	}
	now = now.Add(2 * time.Minute)
	if _, hit := c.get(1, 2); hit {
		t.Fatalf("expected entry to expire")
	}
	c.put(1, 3, false)
	c.forget(1, 3)
	if _, hit := c.get(1, 3); hit {
		t.Fatalf("expected forgotten entry to miss")
	}
}

func TestSplitTextKeepsMarkdownBalanced(t *testing.T) {
	t.Parallel()

	a := &Adapter{cfg: Config{TextLimit: 20}}
	text := strings.Repeat("word ", 10) + "*bold tail*"
	parts := a.splitText(text, kit.ParseMarkdown)
	if len(parts) < 2 {
		t.Fatalf("expected several parts, got %d", len(parts))
	}
	for _, p := range parts {
		if strings.Count(p, "*")%2 != 0 {
			t.Fatalf("unbalanced part %q", p)
		}
	}
	if got := a.splitText("short", kit.ParseMarkdown); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text split: %q", got)
	}
}

// sendRecorder is a Bot API stub that records sendMessage texts and rejects
// any text over the platform limit, as Telegram does.
type sendRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *sendRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var params map[string]any
	_ = json.NewDecoder(req.Body).Decode(&params)
	text, _ := params["text"].(string)
	if mdsafe.Units(text) > textLimitMax {
		fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: message is too long"}`)
		return
	}
	r.mu.Lock()
	r.texts = append(r.texts, text)
	n := len(r.texts)
	r.mu.Unlock()
	fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":42,"type":"group"}}}`, n)
}

func (r *sendRecorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestSendTextSplitsOversizedFencedBlock(t *testing.T) {
	t.Parallel()

	rec := &sendRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()
	b, err := tele.NewBot(tele.Settings{URL: srv.URL, Token: "test", Offline: true})
	if err != nil {
		t.Fatalf("NewBot: %v", err)
	}
	a := &Adapter{cfg: Config{TextLimit: textLimitMax}, log: logx.Nop(), bot: b}

	text := "```\n" + strings.Repeat("0123456789abcdefghi\n", 250) + "```"
	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 42}, text, &kit.SendOptions{ParseMode: kit.ParseMarkdown})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	sent := rec.sent()
	if len(sent) < 2 {
		t.Fatalf("sent %d messages, want the block split", len(sent))
	}
	if ref.MessageID != len(sent) {
		t.Fatalf("ref = %d, want last message %d", ref.MessageID, len(sent))
	}
	for _, p := range sent {
		if strings.Count(p, "```") != 2 {
			t.Fatalf("part is not one closed block: %q", p[:40])
		}
	}
}

func TestSplitTextCountsUTF16Units(t *testing.T) {
	t.Parallel()

	a := &Adapter{cfg: Config{TextLimit: 100}}
	text := strings.Repeat("😀", 80)
	parts := a.splitText(text, kit.ParseMarkdown)
	if len(parts) < 2 {
		t.Fatalf("80 emoji (160 units) fit in one part of 100")
	}
	for _, p := range parts {
		if u := mdsafe.Units(p); u > 100 {
			t.Fatalf("part has %d units", u)
		}
	}
	if got := a.splitText(text, ""); len(got) < 2 || mdsafe.Units(got[0]) > 100 {
		t.Fatalf("plain split ignores units: %d parts", len(got))
	}
}

func TestMenuCommandsTrimAndHash(t *testing.T) {
	t.Parallel()

	list := menuCommands([]kit.BotCommand{
		{Command: "help"},
		{Command: ""},
		{Command: "news_setup", Description: strings.Repeat("x", 300)},
	})
	if len(list) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(list))
	}
	if list[0].Description != "help" {
		t.Fatalf("empty description should fall back to command, got %q", list[0].Description)
	}
	if n := len([]rune(list[1].Description)); n != menuDescMax {
		t.Fatalf("description length = %d, want %d", n, menuDescMax)
	}
	if menuHash(list) == menuHash(list[:1]) {
		t.Fatalf("hash must change with the list")
	}
}

func TestConvertMessageReplyAndGroup(t *testing.T) {
	t.Parallel()

	m := &tele.Message{
		ID:      10,
		Chat:    &tele.Chat{ID: -100, Type: tele.ChatSuperGroup, Title: "g"},
		Sender:  &tele.User{ID: 7, Username: "alice", FirstName: "Alice"},
		Caption: "photo caption",
		ReplyTo: &tele.Message{ID: 9, Text: "hi", Sender: &tele.User{ID: 42, Username: "bot"}},
	}
	got := convertMessage(m)
	if !got.IsGroup || got.Text != "photo caption" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if got.ReplyToID != 9 || got.ReplyToFromID != 42 || got.ReplyToUsername != "bot" || got.ReplyToText != "hi" {
		t.Fatalf("reply fields not mapped: %+v", got)
	}
	if got.DisplayName() != "@alice" {
		t.Fatalf("DisplayName = %q", got.DisplayName())
	}
}
