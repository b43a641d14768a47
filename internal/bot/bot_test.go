package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chatwarden/internal/assistant"
	"chatwarden/internal/feed"
	"chatwarden/internal/moderation"
	"chatwarden/internal/news"
	"chatwarden/internal/notifier"
	"chatwarden/internal/router"
	"chatwarden/internal/storage"
	kit "chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
)

const (
	botID   = 1000
	groupID = -100
	chanID  = -1005
)

type adminKey struct{ chat, user int64 }

type fakePort struct {
	mu      sync.Mutex
	admins  map[adminKey]bool
	chats   map[string]kit.Chat
	texts   []string
	deleted []int
	banned  []int64
	banErr  error
}

func newFakePort() *fakePort {
	return &fakePort{admins: map[adminKey]bool{}, chats: map[string]kit.Chat{}}
}

func (p *fakePort) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	return kit.MessageRef{MessageID: len(p.texts)}, nil
}

func (p *fakePort) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (p *fakePort) AnswerCallback(context.Context, string, string) error { return nil }

func (p *fakePort) IsAdmin(_ context.Context, chatID, userID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admins[adminKey{chatID, userID}], nil
}

func (p *fakePort) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, ref.MessageID)
	return nil
}

func (p *fakePort) BanMember(_ context.Context, _ int64, userID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.banErr != nil {
		return p.banErr
	}
	p.banned = append(p.banned, userID)
	return nil
}

func (p *fakePort) ResolveChat(_ context.Context, ref string) (kit.Chat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.chats[ref]
	if !ok {
		return kit.Chat{}, errors.New("chat not found")
	}
	return c, nil
}

func (p *fakePort) Me() kit.User { return kit.User{ID: botID, Username: "wardenbot"} }

func (p *fakePort) last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.texts) == 0 {
		return ""
	}
	return p.texts[len(p.texts)-1]
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notifier.Notice
}

func (f *fakeNotifier) Notify(_ context.Context, n notifier.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return nil
}

type echoLLM struct{}

func (echoLLM) Complete(_ context.Context, req assistant.CompletionRequest) (string, error) {
	return "echo: " + req.Messages[len(req.Messages)-1].Content, nil
}

type fixture struct {
	bot   *Bot
	port  *fakePort
	store *storage.Memory
	reg   *news.Registry
	notes *fakeNotifier
	seq   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemory()
	port := newFakePort()
	log := logx.Nop()
	filter, err := moderation.NewWordFilter([]string{`\bspam\b`})
	if err != nil {
		t.Fatal(err)
	}
	settings := assistant.NewSettings(store, assistant.Defaults{SystemPrompt: "be brief", Model: "m1", Mode: assistant.ModeMention}, log)
	f := &fixture{
		port:  port,
		store: store,
		reg:   news.NewRegistry(store, log),
		notes: &fakeNotifier{},
	}
	f.bot = New(Deps{
		Port:      port,
		Registry:  f.reg,
		Topics:    func() feed.Topics { return feed.Topics{"science": {"u1"}, "tech": {"u2"}} },
		Warns:     moderation.NewWarns(store, port, 2, log),
		Stats:     moderation.NewStats(store, log),
		Flood:     moderation.NewAntiFlood(2, time.Minute),
		Filter:    filter,
		Assistant: assistant.NewService(echoLLM{}, assistant.NewContexts(4), settings, assistant.Options{Log: log}),
		Notifier:  f.notes,
		Log:       log,
	}, Settings{GroupLog: kit.ChatTarget{ChatID: -999}, NotifyBans: true})
	f.bot.isOwner = func(id int64) bool { return id == 1 }
	return f
}

func (f *fixture) req(from int64, chat int64, text string) *router.Request {
	f.seq++
	m := &kit.Message{ID: f.seq, ChatID: chat, FromID: from, FromUsername: "member", IsGroup: chat < 0, Text: text}
	return &router.Request{
		Update:  kit.Update{Kind: kit.UpdateMessage, Message: m},
		Message: m,
		Chat:    kit.ChatTarget{ChatID: chat},
		FromID:  from,
		IsGroup: chat < 0,
		Owner:   from == 1,
		Args:    strings.Fields(text),
		ArgText: text,
		Log:     logx.Nop(),
	}
}

func (f *fixture) callback(from, chat int64, payload string) *router.Request {
	return &router.Request{
		Callback: &kit.Callback{ID: "cb", FromID: from, ChatID: chat},
		Chat:     kit.ChatTarget{ChatID: chat},
		FromID:   from,
		Payload:  payload,
		Log:      logx.Nop(),
	}
}

func TestNewsSetupDialog(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	const user = 42
	f.port.chats["@chan"] = kit.Chat{ID: chanID, Username: "chan"}

	_ = f.bot.handleNewsSetup(ctx, f.req(user, user, ""))
	if !strings.Contains(f.port.last(), "News setup") {
		t.Fatalf("prompt = %q", f.port.last())
	}

	steps := []struct {
		input string
		want  string
		setup func()
	}{
		{input: "@missing", want: "Channel not found"},
		{input: "@chan", want: "must be an admin"},
		{input: "@chan", want: "bot is not an admin", setup: func() { f.port.admins[adminKey{chanID, user}] = true }},
		{input: "@chan", want: "Channel confirmed", setup: func() { f.port.admins[adminKey{chanID, botID}] = true }},
		{input: "tech, sports", want: "Unknown topics: sports"},
		{input: "Tech, science", want: "HH:MM"},
		{input: "9:00, 25:00, 7;30, x", want: "• 25:00 → invalid format\n• x → invalid format"},
		{input: "9:00, 18 : 30, 7;30", want: "Times: 07:30, 09:00, 18:30"},
	}
	for i, st := range steps {
		if st.setup != nil {
			st.setup()
		}
		if err := f.bot.HandleMessage(ctx, f.req(user, user, st.input)); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got := f.port.last(); !strings.Contains(got, st.want) {
			t.Fatalf("step %d (%q): reply %q, want %q", i, st.input, got, st.want)
		}
	}

	sub, ok := f.reg.Get(chanID)
	if !ok || strings.Join(sub.Topics, ",") != "tech,science" || sub.CreatedBy != user {
		t.Fatalf("subscription = %+v, %v", sub, ok)
	}
	if f.bot.setup.len() != 0 {
		t.Fatal("session not closed")
	}
}

func TestNewsSetupHourlyAndCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	const user = 43
	f.port.chats["@chan"] = kit.Chat{ID: chanID, Username: "chan"}
	f.port.admins[adminKey{chanID, user}] = true
	f.port.admins[adminKey{chanID, botID}] = true

	_ = f.bot.handleNewsSetup(ctx, f.req(user, groupID, ""))
	sess, _ := f.bot.setup.get(groupID, user)

	// the button is pressed before the schedule step
	_ = f.bot.handleHourly(ctx, f.callback(user, groupID, sess.ID))
	if !strings.Contains(f.port.last(), "expired") {
		t.Fatalf("early hourly reply = %q", f.port.last())
	}

	_ = f.bot.HandleMessage(ctx, f.req(user, groupID, "@chan"))
	_ = f.bot.HandleMessage(ctx, f.req(user, groupID, "science"))
	// another user cannot press this user's button
	_ = f.bot.handleHourly(ctx, f.callback(7, groupID, sess.ID))
	if _, ok := f.reg.Get(chanID); ok {
		t.Fatal("foreign callback completed the dialog")
	}
	_ = f.bot.handleHourly(ctx, f.callback(user, groupID, sess.ID))
	sub, ok := f.reg.Get(chanID)
	if !ok || len(sub.Slots) != 24 || !strings.Contains(f.port.last(), "every hour") {
		t.Fatalf("sub = %+v, reply = %q", sub, f.port.last())
	}

	_ = f.bot.handleNewsSetup(ctx, f.req(user, groupID, ""))
	sess, _ = f.bot.setup.get(groupID, user)
	_ = f.bot.handleCancel(ctx, f.callback(user, groupID, sess.ID))
	if f.bot.setup.len() != 0 || !strings.Contains(f.port.last(), "cancelled") {
		t.Fatalf("cancel reply = %q", f.port.last())
	}
}

func TestSessionsExpire(t *testing.T) {
	t.Parallel()
	s := newSessions(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	sess := s.start(1, 2)
	s.start(3, 4)

	now = now.Add(30 * time.Second)
	if !s.update(1, 2, sess.ID, func(x *setupSession) { x.Step = stepTopics }) {
		t.Fatal("update of live session failed")
	}
	now = now.Add(45 * time.Second)
	if got, ok := s.get(1, 2); !ok || got.Step != stepTopics {
		t.Fatalf("refreshed session lost: %+v %v", got, ok)
	}
	if n := s.prune(); n != 1 || s.len() != 1 {
		t.Fatalf("prune = %d, len = %d", n, s.len())
	}
	if s.update(1, 2, "other-id", func(*setupSession) {}) {
		t.Fatal("update with a stale id must fail")
	}
}

func TestWarnThresholdBansAndNotifies(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	warn := func() string {
		r := f.req(9, groupID, "/warn")
		r.Message.ReplyToID, r.Message.ReplyToFromID, r.Message.ReplyToUsername = 1, 77, "troll"
		_ = f.bot.handleWarn(ctx, r)
		return f.port.last()
	}

	if got := warn(); !strings.Contains(got, "@troll, you have received a warning! (1/2)") {
		t.Fatalf("first warn = %q", got)
	}
	if got := warn(); !strings.Contains(got, "reached 2 warnings and has been banned") {
		t.Fatalf("second warn = %q", got)
	}
	if len(f.port.banned) != 1 || f.port.banned[0] != 77 {
		t.Fatalf("banned = %v", f.port.banned)
	}
	if len(f.notes.notices) != 1 || f.notes.notices[0].Target.ChatID != -999 || !strings.Contains(f.notes.notices[0].Text, "@troll (77)") {
		t.Fatalf("notices = %+v", f.notes.notices)
	}
	if got := warn(); !strings.Contains(got, "(1/2)") {
		t.Fatalf("counter not reset after ban: %q", got)
	}
}

func TestModerationGuards(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_ = f.bot.handleBan(ctx, f.req(9, groupID, "/ban"))
	if !strings.Contains(f.port.last(), "Reply to the user's message") {
		t.Fatalf("no-reply ban = %q", f.port.last())
	}

	r := f.req(9, groupID, "/ban")
	r.Message.ReplyToID, r.Message.ReplyToFromID = 1, botID
	_ = f.bot.handleBan(ctx, r)
	if !strings.Contains(f.port.last(), "myself") {
		t.Fatalf("self ban = %q", f.port.last())
	}

	f.port.admins[adminKey{groupID, 55}] = true
	r = f.req(9, groupID, "/warn")
	r.Message.ReplyToID, r.Message.ReplyToFromID = 1, 55
	_ = f.bot.handleWarn(ctx, r)
	if !strings.Contains(f.port.last(), "Admins cannot") || f.bot.d.Warns.Count(groupID, 55) != 0 {
		t.Fatalf("admin warn = %q", f.port.last())
	}

	f.port.banErr = errors.New("not enough rights")
	r = f.req(9, groupID, "/ban")
	r.Message.ReplyToID, r.Message.ReplyToFromID = 1, 66
	_ = f.bot.handleBan(ctx, r)
	if !strings.Contains(f.port.last(), "Could not ban") || len(f.notes.notices) != 0 {
		t.Fatalf("failed ban = %q, notices = %d", f.port.last(), len(f.notes.notices))
	}

	r = f.req(9, groupID, "/del")
	r.Message.ReplyToID, r.Message.ReplyToFromID = 5, 66
	_ = f.bot.handleDelete(ctx, r)
	if len(f.port.deleted) != 2 || f.port.deleted[0] != 5 || f.port.deleted[1] != r.Message.ID {
		t.Fatalf("deleted = %v", f.port.deleted)
	}
}

func TestMessageFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.bot.now = func() time.Time { return now }

	_ = f.bot.HandleMessage(ctx, f.req(5, groupID, "hello @WardenBot"))
	if got := f.port.last(); got != "echo: hello @WardenBot" {
		t.Fatalf("assistant reply = %q", got)
	}

	_ = f.bot.HandleMessage(ctx, f.req(5, groupID, "just chatting"))
	sent := len(f.port.texts)
	if sent != 1 {
		t.Fatalf("unaddressed message got a reply: %q", f.port.last())
	}

	_ = f.bot.HandleMessage(ctx, f.req(5, groupID, "buy spam now"))
	_ = f.bot.HandleMessage(ctx, f.req(5, groupID, "buy spam now"))
	if len(f.port.deleted) != 0 || len(f.port.texts) != 2 || !strings.Contains(f.port.last(), "Too many messages") {
		t.Fatalf("flood limit: deleted %v, texts %q", f.port.deleted, f.port.texts)
	}

	now = now.Add(time.Minute)
	_ = f.bot.HandleMessage(ctx, f.req(5, groupID, "buy SPAM now"))
	if len(f.port.deleted) != 1 || !strings.Contains(f.port.last(), "removed") {
		t.Fatalf("filter did not delete; last = %q", f.port.last())
	}

	if top := f.bot.d.Stats.Top(groupID); len(top) != 1 || top[0].Count != 5 {
		t.Fatalf("stats = %+v", top)
	}
	audit := f.store.Audit()
	if len(audit) != 1 || audit[0].Action != "filter_delete" {
		t.Fatalf("audit = %+v", audit)
	}
}

func TestNewsStopPermissions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.reg.Add(ctx, chanID, []string{"tech"}, []string{"09:00"}, 42); err != nil {
		t.Fatal(err)
	}

	r := f.req(7, 7, "-1005")
	_ = f.bot.handleNewsStop(ctx, r)
	if _, ok := f.reg.Get(chanID); !ok || !strings.Contains(f.port.last(), "Only the user") {
		t.Fatalf("stranger stop: %q", f.port.last())
	}
	_ = f.bot.handleNewsStop(ctx, f.req(42, 42, "-1005"))
	if _, ok := f.reg.Get(chanID); ok {
		t.Fatal("creator could not stop")
	}
	_ = f.bot.handleNewsStop(ctx, f.req(1, 1, "-1005"))
	if !strings.Contains(f.port.last(), "No subscription") {
		t.Fatalf("missing stop = %q", f.port.last())
	}
}

func TestAssistantSettingsCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	settings := f.bot.d.Assistant.Settings()

	_ = f.bot.handleMode(ctx, f.req(5, groupID, "all"))
	if !strings.Contains(f.port.last(), "admins only") {
		t.Fatalf("member mode change = %q", f.port.last())
	}
	f.port.admins[adminKey{groupID, 9}] = true
	_ = f.bot.handleMode(ctx, f.req(9, groupID, "loud"))
	if !strings.Contains(f.port.last(), assistant.ErrBadMode.Error()) {
		t.Fatalf("bad mode = %q", f.port.last())
	}
	_ = f.bot.handleMode(ctx, f.req(9, groupID, "all"))
	if settings.Get(groupID).Mode != assistant.ModeAll {
		t.Fatal("mode not applied")
	}

	_ = f.bot.handlePrompt(ctx, f.req(5, 5, "Talk like a pirate."))
	if cfg := settings.Get(5); !cfg.CustomPrompt || cfg.SystemPrompt != "Talk like a pirate." {
		t.Fatalf("prompt = %+v", cfg)
	}
	_ = f.bot.handlePrompt(ctx, f.req(5, 5, "reset"))
	if cfg := settings.Get(5); cfg.CustomPrompt || cfg.SystemPrompt != "be brief" {
		t.Fatalf("prompt after reset = %+v", cfg)
	}
	_ = f.bot.handleModel(ctx, f.req(5, 5, "big-model"))
	if settings.Get(5).Model != "big-model" {
		t.Fatal("model not applied")
	}
}
