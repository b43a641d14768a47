package news

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"chatwarden/internal/feed"
	"chatwarden/internal/storage"
	"chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
	"chatwarden/pkg/mdsafe"
)

type fakeSource struct {
	items map[string][]feed.Item
	err   error
}

func (f *fakeSource) Fetch(ctx context.Context, topic string) ([]feed.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.items[topic]), nil
}

type sent struct {
	chatID  int64
	photo   string
	text    string
	preview bool
}

type fakePublisher struct {
	mu       sync.Mutex
	sent     []sent
	photoErr error
	textErr  error
}

func (p *fakePublisher) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.textErr != nil {
		return transport.MessageRef{}, p.textErr
	}
	p.sent = append(p.sent, sent{chatID: to.ChatID, text: text, preview: !opt.DisablePreview})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(p.sent)}, nil
}

func (p *fakePublisher) SendPhoto(ctx context.Context, to transport.ChatTarget, url, caption string, opt *transport.SendOptions) (transport.MessageRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.photoErr != nil {
		return transport.MessageRef{}, p.photoErr
	}
	p.sent = append(p.sent, sent{chatID: to.ChatID, photo: url, text: caption})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(p.sent)}, nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type countingDeliverer struct {
	mu    sync.Mutex
	calls []string
	err   error
	block chan struct{}
}

func (c *countingDeliverer) DeliverTopic(ctx context.Context, chatID int64, topic string) (Delivery, error) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.calls = append(c.calls, fmt.Sprintf("%d/%s", chatID, topic))
	c.mu.Unlock()
	return Delivery{ChatID: chatID, Topic: topic, ItemID: "x"}, c.err
}

func at(day int, hhmm string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04", fmt.Sprintf("2026-03-%02d %s", day, hhmm), time.UTC)
	if err != nil {
		panic(err)
	}
	return t.Add(17 * time.Second)
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(storage.NewMemory(), logx.Nop())
}

func TestEngineFiresOncePerSlotAndAgainNextDay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newRegistry(t)
	if _, err := reg.Add(ctx, 100, []string{"science"}, []string{"09:00", "18:00"}, 1); err != nil {
		t.Fatal(err)
	}
	del := &countingDeliverer{}
	eng := NewEngine(reg, del, EngineOptions{Location: time.UTC, Log: logx.Nop()})

	if rep := eng.TickAt(ctx, at(1, "08:59")); rep.Fired != 0 {
		t.Fatalf("08:59 fired: %+v", rep)
	}
	if rep := eng.TickAt(ctx, at(1, "09:00")); rep.Fired != 1 {
		t.Fatalf("09:00 did not fire: %+v", rep)
	}
	if rep := eng.TickAt(ctx, at(1, "09:00").Add(30*time.Second)); rep.Fired != 0 {
		t.Fatalf("same minute fired twice: %+v", rep)
	}
	if rep := eng.TickAt(ctx, at(1, "18:00")); rep.Fired != 1 {
		t.Fatalf("18:00 did not fire: %+v", rep)
	}
	if rep := eng.TickAt(ctx, at(2, "09:00")); rep.Fired != 1 {
		t.Fatalf("next day 09:00 did not fire: %+v", rep)
	}
	if len(del.calls) != 3 {
		t.Fatalf("deliveries = %v", del.calls)
	}
	sub, _ := reg.Get(100)
	if sub.LastFiredSlot != "09:00" || sub.LastFiredDate != "2026-03-02" {
		t.Fatalf("fired marker = %s %s", sub.LastFiredSlot, sub.LastFiredDate)
	}
}

func TestEngineEvaluatesSlotsInLocation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newRegistry(t)
	_, _ = reg.Add(ctx, 1, []string{"a"}, []string{"12:00"}, 0)
	del := &countingDeliverer{}
	eng := NewEngine(reg, del, EngineOptions{Location: time.FixedZone("UTC+3", 3*3600)})
	if rep := eng.TickAt(ctx, at(1, "09:00")); rep.Fired != 1 {
		t.Fatalf("09:00 UTC is 12:00 UTC+3, want fire: %+v", rep)
	}
}

func TestEngineKeepsTopicOrderAndRemovesUnreachable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newRegistry(t)
	_, _ = reg.Add(ctx, 7, []string{"b", "a"}, []string{"10:00"}, 0)
	del := &countingDeliverer{}
	var removed []int64
	eng := NewEngine(reg, del, EngineOptions{Location: time.UTC, OnRemoved: func(id int64, err error) { removed = append(removed, id) }})

	eng.TickAt(ctx, at(1, "10:00"))
	if want := []string{"7/b", "7/a"}; !slices.Equal(del.calls, want) {
		t.Fatalf("calls = %v, want %v", del.calls, want)
	}

	del.err = fmt.Errorf("send: %w", transport.ErrDestinationUnreachable)
	rep := eng.TickAt(ctx, at(2, "10:00"))
	if rep.Removed != 1 || reg.Len() != 0 || !slices.Equal(removed, []int64{7}) {
		t.Fatalf("unreachable chat not removed: %+v len=%d", rep, reg.Len())
	}
	if len(del.calls) != 3 {
		t.Fatalf("removal should stop remaining topics, calls = %v", del.calls)
	}
}

func TestEngineTransientFailureStillMarksFired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newRegistry(t)
	_, _ = reg.Add(ctx, 7, []string{"a", "b"}, []string{"10:00"}, 0)
	del := &countingDeliverer{err: errors.New("timeout")}
	eng := NewEngine(reg, del, EngineOptions{Location: time.UTC})

	rep := eng.TickAt(ctx, at(1, "10:00"))
	if rep.Fired != 1 || rep.Delivered != 0 || len(del.calls) != 2 {
		t.Fatalf("report = %+v calls = %v", rep, del.calls)
	}
	if rep := eng.TickAt(ctx, at(1, "10:00")); rep.Fired != 0 {
		t.Fatalf("slot fired twice: %+v", rep)
	}
}

func TestEngineSkipsDestinationStillRunning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newRegistry(t)
	_, _ = reg.Add(ctx, 1, []string{"a"}, []string{"10:00"}, 0)
	block := make(chan struct{})
	del := &countingDeliverer{block: block}
	eng := NewEngine(reg, del, EngineOptions{Location: time.UTC})

	done := make(chan TickReport)
	go func() { done <- eng.TickAt(ctx, at(1, "10:00")) }()
	deadline := time.Now().Add(2 * time.Second)
	for {
		eng.mu.Lock()
		busy := eng.inflight[1]
		eng.mu.Unlock()
		if busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first cycle never started")
		}
		time.Sleep(time.Millisecond)
	}
	if rep := eng.TickAt(ctx, at(1, "10:00")); rep.Busy != 1 || rep.Fired != 0 {
		t.Fatalf("overlapping cycle ran: %+v", rep)
	}
	close(block)
	if rep := <-done; rep.Fired != 1 {
		t.Fatalf("first cycle = %+v", rep)
	}
}

func TestEngineParallelDestinations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newRegistry(t)
	for id := int64(1); id <= 5; id++ {
		_, _ = reg.Add(ctx, id, []string{"a"}, []string{"10:00"}, 0)
	}
	del := &countingDeliverer{}
	eng := NewEngine(reg, del, EngineOptions{Location: time.UTC, Parallel: true, MaxParallel: 2})
	if rep := eng.TickAt(ctx, at(1, "10:00")); rep.Fired != 5 || rep.Delivered != 5 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestPipelineDeliversNewestUnseenOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	src := &fakeSource{items: map[string][]feed.Item{"science": {
		{ID: "a", Title: "A", Body: "alpha", Link: "https://x/a", Published: t0.Add(time.Hour)},
		{ID: "b", Title: "B", Body: "beta", Link: "https://x/b", Published: t0},
	}}}
	pub := &fakePublisher{}
	dedup := NewDedupStore(storage.NewMemory(), logx.Nop())
	pipe := NewPipeline(src, pub, dedup, PipelineOptions{Log: logx.Nop()})
	reg := newRegistry(t)
	_, _ = reg.Add(ctx, 55, []string{"science"}, []string{"09:00", "18:00"}, 0)
	eng := NewEngine(reg, pipe, EngineOptions{Location: time.UTC})

	if rep := eng.TickAt(ctx, at(1, "09:00")); rep.Delivered != 1 {
		t.Fatalf("first fire = %+v", rep)
	}
	if !dedup.Seen("a") || dedup.Seen("b") {
		t.Fatalf("dedup after first fire = %v", dedup.All())
	}
	if !strings.Contains(pub.sent[0].text, "*A*") {
		t.Fatalf("first item = %q", pub.sent[0].text)
	}

	cands, err := pipe.Candidates(ctx, "science")
	if err != nil || len(cands) != 1 || cands[0].ID != "b" {
		t.Fatalf("candidates = %+v, %v", cands, err)
	}
	if rep := eng.TickAt(ctx, at(1, "18:00")); rep.Delivered != 1 {
		t.Fatalf("second fire = %+v", rep)
	}
	if rep := eng.TickAt(ctx, at(2, "09:00")); rep.Delivered != 0 || rep.Fired != 1 {
		t.Fatalf("third fire = %+v", rep)
	}
	if pub.count() != 2 {
		t.Fatalf("sent %d messages, want 2", pub.count())
	}
}

func TestPipelineFallsBackToTextWithoutPreview(t *testing.T) {
	t.Parallel()
	src := &fakeSource{items: map[string][]feed.Item{"t": {{ID: "i", Title: "T", Body: "b", ImageURL: "https://img/x.png"}}}}
	pub := &fakePublisher{photoErr: errors.New("wrong file identifier")}
	dedup := NewDedupStore(nil, logx.Nop())
	pipe := NewPipeline(src, pub, dedup, PipelineOptions{})

	d, err := pipe.DeliverTopic(context.Background(), 1, "t")
	if err != nil || d.Rich || d.Attempts != 2 {
		t.Fatalf("delivery = %+v, %v", d, err)
	}
	if pub.sent[0].photo != "" || pub.sent[0].preview {
		t.Fatalf("fallback send = %+v", pub.sent[0])
	}
	if !dedup.Seen("i") {
		t.Fatal("delivered item not recorded")
	}
}

func TestPipelineFailedSendIsNotRecorded(t *testing.T) {
	t.Parallel()
	src := &fakeSource{items: map[string][]feed.Item{"t": {{ID: "i", Title: "T"}}}}
	pub := &fakePublisher{textErr: errors.New("flood wait")}
	dedup := NewDedupStore(nil, logx.Nop())
	pipe := NewPipeline(src, pub, dedup, PipelineOptions{})

	if _, err := pipe.DeliverTopic(context.Background(), 1, "t"); err == nil {
		t.Fatal("expected error")
	}
	if dedup.Seen("i") {
		t.Fatal("failed item must stay eligible")
	}
}

func TestPipelineUnreachableSkipsFallback(t *testing.T) {
	t.Parallel()
	src := &fakeSource{items: map[string][]feed.Item{"t": {{ID: "i", Title: "T", ImageURL: "https://img"}}}}
	pub := &fakePublisher{photoErr: transport.ErrDestinationUnreachable}
	pipe := NewPipeline(src, pub, NewDedupStore(nil, logx.Nop()), PipelineOptions{})
	d, err := pipe.DeliverTopic(context.Background(), 1, "t")
	if !errors.Is(err, transport.ErrDestinationUnreachable) || d.Attempts != 1 {
		t.Fatalf("delivery = %+v, %v", d, err)
	}
}

func TestDedupSurvivesRestart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "news.json")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	d := NewDedupStore(st, logx.Nop())
	if err := d.Record(ctx, "guid-1"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = st.Close()

	st, err = storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	reloaded := NewDedupStore(st, logx.Nop())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reloaded.Seen("guid-1") || reloaded.Seen("guid-2") {
		t.Fatalf("reloaded = %v", reloaded.All())
	}
}

func TestRegistryNormalizesAndPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	reg := NewRegistry(st, logx.Nop())
	sub, err := reg.Add(ctx, 9, []string{" Tech", "tech", "science "}, []string{"18:00", "9:05", "09:05"}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(sub.Topics, []string{"tech", "science"}) || !slices.Equal(sub.Slots, []string{"09:05", "18:00"}) {
		t.Fatalf("sub = %+v", sub)
	}
	if _, err := reg.Add(ctx, 9, []string{" "}, []string{"09:00"}, 3); !errors.Is(err, ErrEmptySubscription) {
		t.Fatalf("err = %v", err)
	}

	again := NewRegistry(st, logx.Nop())
	if err := again.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if got, ok := again.Get(9); !ok || !slices.Equal(got.Slots, sub.Slots) {
		t.Fatalf("reloaded = %+v %v", got, ok)
	}
	if !again.Remove(ctx, 9) || again.Remove(ctx, 9) {
		t.Fatal("Remove should report existence once")
	}
}

func TestParseSlots(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in          string
		wantSlots   []string
		wantInvalid []string
	}{
		{"09:00, 18:30", []string{"09:00", "18:30"}, nil},
		{"9;05,7:00", []string{"07:00", "09:05"}, nil},
		{"24:00, 12:60, noon, 23:59", []string{"23:59"}, []string{"24:00", "12:60", "noon"}},
		{"10:00,10:00", []string{"10:00"}, nil},
		{" , ", nil, nil},
	}
	for _, tt := range tests {
		slots, invalid := ParseSlots(tt.in)
		if !slices.Equal(slots, tt.wantSlots) || !slices.Equal(invalid, tt.wantInvalid) {
			t.Errorf("ParseSlots(%q) = %v, %v; want %v, %v", tt.in, slots, invalid, tt.wantSlots, tt.wantInvalid)
		}
	}
}

func TestParseTopics(t *testing.T) {
	t.Parallel()
	known := feed.Topics{"tech": {"u"}, "science": {"u"}}
	valid, unknown := ParseTopics("Tech, cooking, science, tech", known)
	if !slices.Equal(valid, []string{"tech", "science"}) || !slices.Equal(unknown, []string{"cooking"}) {
		t.Fatalf("valid=%v unknown=%v", valid, unknown)
	}
	if h := HourlySlots(); len(h) != 24 || h[0] != "00:00" || h[23] != "23:00" {
		t.Fatalf("HourlySlots = %v", h)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()
	it := feed.Item{
		Title: "Big *news* [today]",
		Body:  "Some snake_case body",
		Link:  "https://example.com/a_b",
		Tags:  []string{"deep space"},
	}
	got := Format(it, 0)
	want := "📰 *Big news (today)*\n\nSome snake\\_case body\n\n[Read more](https://example.com/a_b)\n#deep\\_space"
	if got != want {
		t.Fatalf("Format =\n%q\nwant\n%q", got, want)
	}

	it.Body = strings.Repeat("word ", 400)
	short := Format(it, 200)
	if n := mdsafe.Units(short); n > 200 {
		t.Fatalf("len = %d > 200", n)
	}
	if !strings.Contains(short, "…") || !strings.HasSuffix(short, "#deep\\_space") {
		t.Fatalf("truncated format lost its footer: %q", short)
	}
}

func TestFormatHostileFields(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		it   feed.Item
		want string // substring of the untruncated output
	}{
		{"title ending in backslash", feed.Item{Title: `C:\path\`, Link: "https://example.com"}, "📰 *C:path*"},
		{"link with paren", feed.Item{Title: "t", Link: "https://en.wikipedia.org/wiki/Go_(language)"}, "(https://en.wikipedia.org/wiki/Go_%28language%29)"},
		{"link with markers", feed.Item{Title: "t", Link: "https://example.com/`x`*y*"}, "(https://example.com/%60x%60%2Ay%2A)"},
		{"link with newline", feed.Item{Title: "t", Link: "https://example.com/a\nb c"}, "(https://example.com/ab%20c)"},
		{"empty title", feed.Item{Body: "body"}, "📰\n\nbody"},
	}
	for _, tc := range cases {
		full := Format(tc.it, 0)
		if !strings.Contains(full, tc.want) {
			t.Fatalf("%s: Format = %q, want it to contain %q", tc.name, full, tc.want)
		}
		for _, limit := range []int{0, 60, 150, 1024} {
			tc.it.Body = strings.Repeat("😀 body ", 100)
			got := Format(tc.it, limit)
			if limit > 0 && mdsafe.Units(got) > limit {
				t.Fatalf("%s: %d units over limit %d", tc.name, mdsafe.Units(got), limit)
			}
			if mdsafe.Balance(got) != got {
				t.Fatalf("%s: unbalanced output at limit %d: %q", tc.name, limit, got)
			}
		}
	}
}
