package storage

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// state is the in-memory model shared by the memory and file drivers.
type state struct {
	seen     map[string]time.Time
	subs     map[int64]Subscription
	settings map[int64]ChatSettings
	counters map[counterKey]Counter
}

func newState() *state {
	return &state{
		seen:     map[string]time.Time{},
		subs:     map[int64]Subscription{},
		settings: map[int64]ChatSettings{},
		counters: map[counterKey]Counter{},
	}
}

func (st *state) putSeen(guid string, at time.Time) bool {
	if _, ok := st.seen[guid]; ok {
		return false
	}
	st.seen[guid] = at
	return true
}

func (st *state) putSubscription(sub Subscription) {
	sub.Topics = slices.Clone(sub.Topics)
	sub.Slots = slices.Clone(sub.Slots)
	st.subs[sub.ChatID] = sub
}

func (st *state) putCounter(c Counter) {
	if c.Value == 0 {
		delete(st.counters, c.key())
		return
	}
	st.counters[c.key()] = c
}

func (st *state) seenList() []SeenRecord {
	out := make([]SeenRecord, 0, len(st.seen))
	for g, at := range st.seen {
		out = append(out, SeenRecord{GUID: g, At: at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

func (st *state) subList() []Subscription {
	out := make([]Subscription, 0, len(st.subs))
	for _, s := range st.subs {
		s.Topics = slices.Clone(s.Topics)
		s.Slots = slices.Clone(s.Slots)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

func (st *state) settingsList() []ChatSettings {
	out := make([]ChatSettings, 0, len(st.settings))
	for _, cs := range st.settings {
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

func (st *state) counterList(kind string) []Counter {
	out := make([]Counter, 0)
	for k, c := range st.counters {
		if kind == "" || k.kind == kind {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ChatID != b.ChatID {
			return a.ChatID < b.ChatID
		}
		return a.UserID < b.UserID
	})
	return out
}

// Memory is a process-local Store. It is also handy in tests.
type Memory struct {
	mu     sync.Mutex
	st     *state
	audit  []AuditEntry
	closed bool
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory { return &Memory{st: newState()} }

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.audit = append(m.audit, e)
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.audit)
}

func (m *Memory) PutSeen(ctx context.Context, guid string, at time.Time) error {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st.putSeen(guid, at)
	return nil
}

func (m *Memory) LoadSeen(ctx context.Context) ([]SeenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.seenList(), nil
}

func (m *Memory) PutSubscription(ctx context.Context, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st.putSubscription(sub)
	return nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.st.subs, chatID)
	return nil
}

func (m *Memory) LoadSubscriptions(ctx context.Context) ([]Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.subList(), nil
}

func (m *Memory) PutChatSettings(ctx context.Context, cs ChatSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st.settings[cs.ChatID] = cs
	return nil
}

func (m *Memory) LoadChatSettings(ctx context.Context) ([]ChatSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.settingsList(), nil
}

func (m *Memory) PutCounter(ctx context.Context, c Counter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st.putCounter(c)
	return nil
}

func (m *Memory) LoadCounters(ctx context.Context, kind string) ([]Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.counterList(kind), nil
}
