package moderation

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultFloodLimit  = 5
	DefaultFloodWindow = time.Minute
)

// Verdict is the AntiFlood decision for one message.
type Verdict struct {
	Allowed bool
	// Notify is set on the first rejected message of a window.
	Notify bool
}

type floodKey struct {
	chatID, userID int64
}

type floodState struct {
	lim      *rate.Limiter
	warned   time.Time
	lastSeen time.Time
}

// AntiFlood allows Limit messages per Window for each (chat, user). The
// bucket refills gradually, one message every Window/Limit.
type AntiFlood struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	users  map[floodKey]*floodState
}

func NewAntiFlood(limit int, window time.Duration) *AntiFlood {
	f := &AntiFlood{users: map[floodKey]*floodState{}}
	f.SetLimits(limit, window)
	return f
}

// SetLimits applies new limits; existing buckets are rebuilt lazily.
func (f *AntiFlood) SetLimits(limit int, window time.Duration) {
	if limit <= 0 {
		limit = DefaultFloodLimit
	}
	if window <= 0 {
		window = DefaultFloodWindow
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit == f.limit && window == f.window {
		return
	}
	f.limit, f.window = limit, window
	clear(f.users)
}

func (f *AntiFlood) Allow(chatID, userID int64, now time.Time) Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := floodKey{chatID, userID}
	st, ok := f.users[k]
	if !ok {
		every := f.window / time.Duration(f.limit)
		st = &floodState{lim: rate.NewLimiter(rate.Every(every), f.limit)}
		f.users[k] = st
	}
	st.lastSeen = now
	if st.lim.AllowN(now, 1) {
		return Verdict{Allowed: true}
	}
	if now.Sub(st.warned) >= f.window {
		st.warned = now
		return Verdict{Notify: true}
	}
	return Verdict{}
}

// Prune forgets users idle for longer than a window and returns how many
// were dropped. An idle bucket is full again, so forgetting it is lossless.
func (f *AntiFlood) Prune(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k, st := range f.users {
		if now.Sub(st.lastSeen) > f.window {
			delete(f.users, k)
			n++
		}
	}
	return n
}

func (f *AntiFlood) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}
