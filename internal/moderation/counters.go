package moderation

import (
	"context"
	"sort"
	"sync"

	"chatwarden/internal/storage"
	logx "chatwarden/pkg/logx"
)

type counterKey struct {
	chatID, userID int64
}

type counterVal struct {
	n    int
	name string
}

// Counters is one kind of per-(chat, user) integer. With writeThrough every
// change is persisted at once; otherwise changes are buffered until Flush.
type Counters struct {
	kind         string
	store        storage.Store
	log          logx.Logger
	writeThrough bool

	mu    sync.Mutex
	vals  map[counterKey]counterVal
	dirty map[counterKey]struct{}

	// writeMu serializes storage writes.
	writeMu sync.Mutex
}

func NewCounters(kind string, store storage.Store, writeThrough bool, log logx.Logger) *Counters {
	return &Counters{
		kind:         kind,
		store:        store,
		log:          log,
		writeThrough: writeThrough,
		vals:         map[counterKey]counterVal{},
		dirty:        map[counterKey]struct{}{},
	}
}

func (c *Counters) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	list, err := c.store.LoadCounters(ctx, c.kind)
	if err != nil {
		return err
	}
	c.mu.Lock()
	for _, r := range list {
		c.vals[counterKey{r.ChatID, r.UserID}] = counterVal{n: r.Value, name: r.Name}
	}
	c.mu.Unlock()
	return nil
}

func (c *Counters) Get(chatID, userID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vals[counterKey{chatID, userID}].n
}

// Add changes the counter by delta, never below zero, and returns the new
// value. A non-empty name replaces the stored display name.
func (c *Counters) Add(ctx context.Context, chatID, userID int64, delta int, name string) int {
	return c.update(ctx, chatID, userID, name, func(n int) int { return n + delta })
}

// AddCapped adds delta like Add, but when the new value reaches limit the
// counter is reset to zero in the same step. reached reports that reset, so
// of several concurrent callers crossing limit exactly one sees it.
func (c *Counters) AddCapped(ctx context.Context, chatID, userID int64, delta, limit int, name string) (n int, reached bool) {
	n = c.update(ctx, chatID, userID, name, func(n int) int {
		if n+delta >= limit {
			reached = true
			return 0
		}
		return n + delta
	})
	return n, reached
}

// Set stores an absolute value; zero removes the counter.
func (c *Counters) Set(ctx context.Context, chatID, userID int64, n int) {
	c.update(ctx, chatID, userID, "", func(int) int { return n })
}

func (c *Counters) update(ctx context.Context, chatID, userID int64, name string, fn func(int) int) int {
	k := counterKey{chatID, userID}
	c.mu.Lock()
	v := c.vals[k]
	v.n = max(fn(v.n), 0)
	if name != "" {
		v.name = name
	}
	if v.n == 0 {
		delete(c.vals, k)
	} else {
		c.vals[k] = v
	}
	c.dirty[k] = struct{}{}
	c.mu.Unlock()

	if c.writeThrough {
		c.Flush(ctx)
	}
	return v.n
}

// Entry is one counter row.
type Entry struct {
	UserID int64
	Name   string
	Count  int
}

// Top returns the n highest counters of chatID, ties by user id.
func (c *Counters) Top(chatID int64, n int) []Entry {
	c.mu.Lock()
	var out []Entry
	for k, v := range c.vals {
		if k.chatID == chatID {
			out = append(out, Entry{UserID: k.userID, Name: v.name, Count: v.n})
		}
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].UserID < out[j].UserID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Pending returns the number of unflushed changes.
func (c *Counters) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirty)
}

// Flush writes buffered changes. Rows that fail stay dirty for the next
// flush; the count of failures is returned.
func (c *Counters) Flush(ctx context.Context) (failed int) {
	if c.store == nil {
		c.mu.Lock()
		clear(c.dirty)
		c.mu.Unlock()
		return 0
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	rows := make([]storage.Counter, 0, len(c.dirty))
	for k := range c.dirty {
		v := c.vals[k]
		rows = append(rows, storage.Counter{Kind: c.kind, ChatID: k.chatID, UserID: k.userID, Value: v.n, Name: v.name})
	}
	clear(c.dirty)
	c.mu.Unlock()

	for _, r := range rows {
		if err := c.store.PutCounter(ctx, r); err != nil {
			failed++
			c.mu.Lock()
			c.dirty[counterKey{r.ChatID, r.UserID}] = struct{}{}
			c.mu.Unlock()
			c.log.Warn("counter persist failed",
				logx.String("kind", c.kind), logx.Int64("chat_id", r.ChatID), logx.Int64("user_id", r.UserID), logx.Err(err))
		}
	}
	return failed
}
