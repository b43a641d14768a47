package router

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
)

type fakePort struct {
	mu       sync.Mutex
	admins   map[int64]bool
	texts    []string
	answered []string
}

func (p *fakePort) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	return kit.MessageRef{}, nil
}

func (p *fakePort) AnswerCallback(_ context.Context, _ string, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answered = append(p.answered, text)
	return nil
}

func (p *fakePort) IsAdmin(_ context.Context, _ int64, userID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admins[userID], nil
}

func (p *fakePort) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

func startRouter(t *testing.T, port *fakePort, setup func(r *Router)) chan<- kit.Update {
	t.Helper()
	r := New(port, logx.Nop(), Config{Workers: 2})
	r.SetBotUsername("wardenbot")
	r.SetOwners([]int64{1})
	setup(r)
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 16)
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func msg(from int64, group bool, text string) kit.Update {
	chat := from
	if group {
		chat = -100
	}
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 7, ChatID: chat, FromID: from, IsGroup: group, Text: text}}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for handler")
	}
	var zero T
	return zero
}

func TestRoutesSubcommandsAliasesAndArgs(t *testing.T) {
	t.Parallel()
	port := &fakePort{}
	got := make(chan *Request, 4)
	capture := func(_ context.Context, req *Request) error { got <- req; return nil }

	updates := startRouter(t, port, func(r *Router) {
		r.Register([]Command{
			{Route: "news stop", Description: "stop", Handle: capture},
			{Route: "prompt", Aliases: []string{"p"}, Handle: capture},
		}, nil)
	})

	updates <- msg(5, false, "/news stop -1001234 --force")
	req := recv(t, got)
	if !reflect.DeepEqual(req.Path, []string{"news", "stop"}) || !reflect.DeepEqual(req.Args, []string{"-1001234"}) || !req.BoolFlags["force"] {
		t.Fatalf("req = %+v", req)
	}

	updates <- msg(5, false, "/news_stop@WardenBot 42")
	if req := recv(t, got); req.Command != "news stop" || req.Args[0] != "42" {
		t.Fatalf("auto alias req = %+v", req)
	}

	updates <- msg(5, false, `/p   You are "terse".  Be kind.`)
	if req := recv(t, got); req.ArgText != `You are "terse".  Be kind.` {
		t.Fatalf("ArgText = %q", req.ArgText)
	}
}

func TestIgnoresOtherBotsAndUnknownInGroups(t *testing.T) {
	t.Parallel()
	port := &fakePort{}
	got := make(chan *Request, 4)
	updates := startRouter(t, port, func(r *Router) {
		r.Register([]Command{{Route: "stats", Handle: func(_ context.Context, req *Request) error { got <- req; return nil }}}, nil)
	})

	updates <- msg(5, true, "/stats@otherbot")
	updates <- msg(5, true, "/nope")
	updates <- msg(5, false, "/nope")
	updates <- msg(5, true, "/stats")
	recv(t, got)

	deadline := time.Now().Add(3 * time.Second)
	for len(port.sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s := port.sent(); len(s) != 1 || !strings.HasPrefix(s[0], "unknown command") {
		t.Fatalf("sent = %v", s)
	}
	select {
	case req := <-got:
		t.Fatalf("unexpected dispatch %+v", req)
	default:
	}
}

func TestAdminAccess(t *testing.T) {
	t.Parallel()
	port := &fakePort{admins: map[int64]bool{9: true}}
	got := make(chan int64, 4)
	updates := startRouter(t, port, func(r *Router) {
		r.Register([]Command{{Route: "ban", Access: AccessAdmin, Handle: func(_ context.Context, req *Request) error {
			got <- req.FromID
			return nil
		}}}, nil)
	})

	updates <- msg(5, true, "/ban")  // plain member
	updates <- msg(9, true, "/ban")  // chat admin
	updates <- msg(1, true, "/ban")  // owner
	updates <- msg(9, false, "/ban") // private chat

	seen := map[int64]bool{recv(t, got): true, recv(t, got): true}
	if !seen[9] || !seen[1] {
		t.Fatalf("allowed = %v", seen)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(port.sent()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s := strings.Join(port.sent(), "|")
	if !strings.Contains(s, "admins only") || !strings.Contains(s, "groups only") {
		t.Fatalf("refusals = %q", s)
	}
}

func TestCallbacksAndPlainMessages(t *testing.T) {
	t.Parallel()
	port := &fakePort{}
	payloads := make(chan string, 2)
	plain := make(chan string, 2)
	updates := startRouter(t, port, func(r *Router) {
		r.Register(nil, []CallbackRoute{{Scope: "news", Action: "hourly", Handle: func(_ context.Context, req *Request) error {
			payloads <- req.Payload
			return nil
		}}})
		r.OnMessage(func(_ context.Context, req *Request) error {
			plain <- req.Message.Text
			return nil
		})
	})

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "c1", ChatID: -100, FromID: 5, Data: "news:hourly:ab:cd"}}
	if p := recv(t, payloads); p != "ab:cd" {
		t.Fatalf("payload = %q", p)
	}
	updates <- msg(5, true, "hello there")
	if m := recv(t, plain); m != "hello there" {
		t.Fatalf("plain = %q", m)
	}
}

func TestParseFlagsKeepsNegativeNumbers(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"-100", "--k=v", "-x", "y", "-ab", "tail"})
	if !reflect.DeepEqual(pos, []string{"-100", "tail"}) {
		t.Fatalf("pos = %v", pos)
	}
	if flags["k"] != "v" || flags["x"] != "y" || !bools["a"] || !bools["b"] {
		t.Fatalf("flags = %v bools = %v", flags, bools)
	}
}

func TestHelpAndMenu(t *testing.T) {
	t.Parallel()
	r := New(&fakePort{}, logx.Nop(), Config{})
	noop := func(context.Context, *Request) error { return nil }
	r.Register([]Command{
		{Route: "warn", Description: "warn a user", Usage: "/warn (reply)", Access: AccessAdmin, Handle: noop},
		{Route: "debug", Description: "internal", Hidden: true, Handle: noop},
	}, nil)

	if h := r.helpText([]string{"warn"}); !strings.Contains(h, "Usage: `/warn (reply)`") || !strings.Contains(h, "Admins only.") {
		t.Fatalf("help = %q", h)
	}
	var names []string
	for _, c := range r.MenuCommands() {
		names = append(names, c.Command)
	}
	if !reflect.DeepEqual(names, []string{"help", "warn"}) {
		t.Fatalf("menu = %v", names)
	}
}
