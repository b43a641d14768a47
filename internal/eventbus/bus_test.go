package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"}) // a is full, dropped for a only

	if e := <-a; e.Type != "one" || e.Time.IsZero() {
		t.Fatalf("a got %+v", e)
	}
	select {
	case e := <-a:
		t.Fatalf("a should have dropped, got %+v", e)
	default:
	}
	if (<-c).Type != "one" || (<-c).Type != "two" {
		t.Fatal("c missed events")
	}

	unsubA()
	unsubA()
	b.Publish(Event{Type: "after"}) // must not panic on the closed channel
	if _, ok := <-a; ok {
		t.Fatal("a should be closed")
	}
}

func TestRecorderKeepsTail(t *testing.T) {
	t.Parallel()
	b := New()
	r := NewRecorder(2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, b)
		close(done)
	}()

	// wait for the subscription to exist
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.Publish(Event{Type: "probe"})
		if r.Counts()["probe"] > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("recorder never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	for _, typ := range []string{"a", "b", "c"} {
		r.Record(Event{Type: typ})
	}

	got := r.Recent()
	if len(got) != 2 || got[0].Type != "b" || got[1].Type != "c" {
		t.Fatalf("recent = %+v", got)
	}
}
