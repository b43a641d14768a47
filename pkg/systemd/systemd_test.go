package systemd

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	logx "chatwarden/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func TestStates(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := New(logx.Nop())
	n.notify = rec.notify

	n.Ready("serving")
	n.Status("2 subscriptions")
	n.Stopping("sigterm")

	got := rec.snapshot()
	want := []string{"READY=1\nSTATUS=serving", "STATUS=2 subscriptions", "STOPPING=1\nSTATUS=sigterm"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("states = %q, want %q", got, want)
	}
}

func TestWatchdogLoopPings(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := New(logx.Nop())
	n.notify = rec.notify

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.watchdogLoop(ctx, 5*time.Millisecond)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("watchdog never pinged")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	for _, s := range rec.snapshot() {
		if s != "WATCHDOG=1" {
			t.Fatalf("unexpected state %q", s)
		}
	}
}
