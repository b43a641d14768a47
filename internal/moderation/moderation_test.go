package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatwarden/internal/storage"
	logx "chatwarden/pkg/logx"
)

type fakeBanner struct {
	mu   sync.Mutex
	bans []int64
	err  error
}

func (b *fakeBanner) BanMember(_ context.Context, _ int64, userID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bans = append(b.bans, userID)
	return b.err
}

func TestConcurrentWarnsBanOnce(t *testing.T) {
	t.Parallel()

	const threshold = 10
	banner := &fakeBanner{}
	w := NewWarns(storage.NewMemory(), banner, threshold, logx.Nop())
	ctx := context.Background()
	for range threshold - 1 {
		w.Warn(ctx, 1, 7, "spammer", 99)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	banned := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Warn(ctx, 1, 7, "spammer", 99).Banned {
				mu.Lock()
				banned++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if banned != 1 {
		t.Fatalf("banned results = %d, want 1", banned)
	}
	banner.mu.Lock()
	defer banner.mu.Unlock()
	if len(banner.bans) != 1 {
		t.Fatalf("BanMember calls = %d, want 1", len(banner.bans))
	}
	if got := w.Count(1, 7); got != 7 {
		t.Fatalf("count after ban = %d, want the 7 later warnings", got)
	}
}

func TestWarnThresholdBansAndResets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemory()
	banner := &fakeBanner{}
	w := NewWarns(store, banner, 5, logx.Nop())

	for i := 1; i <= 4; i++ {
		res := w.Warn(ctx, -100, 7, "alice", 1)
		if res.Banned || res.Count != i {
			t.Fatalf("warn %d: %+v", i, res)
		}
	}
	res := w.Warn(ctx, -100, 7, "alice", 1)
	if !res.Banned || res.Count != 0 || res.BanErr != nil {
		t.Fatalf("fifth warn should ban and reset: %+v", res)
	}
	if len(banner.bans) != 1 || banner.bans[0] != 7 {
		t.Fatalf("unexpected bans: %v", banner.bans)
	}
	if w.Count(-100, 7) != 0 {
		t.Fatalf("counter not reset")
	}

	reloaded := NewWarns(store, banner, 5, logx.Nop())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Count(-100, 7) != 0 {
		t.Fatalf("reset not persisted")
	}

	var actions []string
	for _, e := range store.Audit() {
		actions = append(actions, e.Action)
	}
	if len(actions) != 6 || actions[5] != "warn_ban" {
		t.Fatalf("unexpected audit trail: %v", actions)
	}
}

func TestWarnResetsEvenWhenBanFails(t *testing.T) {
	t.Parallel()

	banner := &fakeBanner{err: errors.New("not enough rights")}
	w := NewWarns(nil, banner, 2, logx.Nop())
	ctx := context.Background()
	w.Warn(ctx, 1, 2, "", 0)
	res := w.Warn(ctx, 1, 2, "", 0)
	if !res.Banned || res.BanErr == nil || w.Count(1, 2) != 0 {
		t.Fatalf("unexpected result %+v count=%d", res, w.Count(1, 2))
	}
}

func TestUnwarnNeverNegative(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := NewWarns(storage.NewMemory(), nil, 5, logx.Nop())
	w.Warn(ctx, 1, 2, "bob", 0)
	if n := w.Unwarn(ctx, 1, 2, 0); n != 0 {
		t.Fatalf("Unwarn = %d, want 0", n)
	}
	if n := w.Unwarn(ctx, 1, 2, 0); n != 0 {
		t.Fatalf("Unwarn below zero = %d", n)
	}
}

func TestStatsTopAndFlush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemory()
	s := NewStats(store, logx.Nop())
	for i := 0; i < 3; i++ {
		s.Track(1, 10, "ten")
	}
	s.Track(1, 20, "twenty")
	for i := int64(100); i < 112; i++ {
		s.Track(1, i, "")
	}
	s.Track(2, 10, "ten")

	top := s.Top(1)
	if len(top) != TopN {
		t.Fatalf("Top returned %d entries, want %d", len(top), TopN)
	}
	if top[0].UserID != 10 || top[0].Count != 3 || top[0].Name != "ten" {
		t.Fatalf("unexpected leader: %+v", top[0])
	}

	if s.Pending() == 0 {
		t.Fatalf("expected buffered changes")
	}
	if failed := s.Flush(ctx); failed != 0 || s.Pending() != 0 {
		t.Fatalf("flush failed=%d pending=%d", failed, s.Pending())
	}
	reloaded := NewStats(store, logx.Nop())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := reloaded.Top(1)[0]; got.UserID != 10 || got.Count != 3 {
		t.Fatalf("reloaded leader: %+v", got)
	}
}

func TestAntiFloodLimitsPerUser(t *testing.T) {
	t.Parallel()

	f := NewAntiFlood(5, time.Minute)
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if v := f.Allow(1, 1, now); !v.Allowed {
			t.Fatalf("message %d rejected", i+1)
		}
	}
	if v := f.Allow(1, 1, now); v.Allowed || !v.Notify {
		t.Fatalf("sixth message: %+v", v)
	}
	if v := f.Allow(1, 1, now.Add(time.Second)); v.Allowed || v.Notify {
		t.Fatalf("second rejection must be silent: %+v", v)
	}
	if v := f.Allow(1, 2, now); !v.Allowed {
		t.Fatalf("other user must not be limited")
	}
	if v := f.Allow(1, 1, now.Add(13*time.Second)); !v.Allowed {
		t.Fatalf("bucket should refill one message per 12s")
	}
	if n := f.Prune(now.Add(5 * time.Minute)); n != 2 || f.Len() != 0 {
		t.Fatalf("Prune dropped %d, left %d", n, f.Len())
	}
}

func TestWordFilter(t *testing.T) {
	t.Parallel()

	f, err := NewWordFilter([]string{`\bspam\b`, " ", `t\.me/`})
	if err != nil {
		t.Fatalf("NewWordFilter: %v", err)
	}
	if f.Len() != 2 {
		t.Fatalf("blank patterns must be skipped, got %d", f.Len())
	}
	if got := f.Match("Buy SPAM now"); got != `\bspam\b` {
		t.Fatalf("Match = %q", got)
	}
	if got := f.Match("hello"); got != "" {
		t.Fatalf("unexpected match %q", got)
	}
	if err := f.SetPatterns([]string{"("}); err == nil {
		t.Fatalf("expected compile error")
	}
	if f.Len() != 2 {
		t.Fatalf("failed SetPatterns must keep the old list")
	}
}
