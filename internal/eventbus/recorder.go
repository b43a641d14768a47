package eventbus

import (
	"context"
	"sync"
)

// Recorder keeps the last N events and per-type counts for status output.
type Recorder struct {
	mu     sync.Mutex
	max    int
	recent []Event
	counts map[string]uint64
}

func NewRecorder(max int) *Recorder {
	if max <= 0 {
		max = 50
	}
	return &Recorder{max: max, counts: map[string]uint64{}}
}

// Run consumes bus events until ctx ends.
func (r *Recorder) Run(ctx context.Context, bus Bus) {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			r.Record(e)
		}
	}
}

func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[e.Type]++
	r.recent = append(r.recent, e)
	if len(r.recent) > r.max {
		r.recent = r.recent[len(r.recent)-r.max:]
	}
}

// Recent returns the retained events, oldest first.
func (r *Recorder) Recent() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.recent...)
}

func (r *Recorder) Counts() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}
