package news

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"chatwarden/internal/storage"
	logx "chatwarden/pkg/logx"
)

var ErrEmptySubscription = errors.New("news: subscription needs at least one topic and one slot")

// Subscription is a chat's digest schedule. LastFiredSlot and LastFiredDate
// together identify the last slot occurrence that fired.
type Subscription struct {
	ChatID        int64
	Topics        []string
	Slots         []string
	LastFiredSlot string
	LastFiredDate string
	CreatedBy     int64
	UpdatedAt     time.Time
}

func (s Subscription) clone() Subscription {
	s.Topics = slices.Clone(s.Topics)
	s.Slots = slices.Clone(s.Slots)
	return s
}

// HasSlot reports whether slot is part of the schedule.
func (s Subscription) HasSlot(slot string) bool { return slices.Contains(s.Slots, slot) }

// Registry owns the subscriptions. Memory is authoritative; every mutation
// is written through to storage and failures are only logged.
type Registry struct {
	mu   sync.RWMutex
	subs map[int64]Subscription

	writeMu sync.Mutex
	store   storage.Store
	log     logx.Logger
	now     func() time.Time
}

func NewRegistry(store storage.Store, log logx.Logger) *Registry {
	return &Registry{subs: map[int64]Subscription{}, store: store, log: log, now: time.Now}
}

func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	recs, err := r.store.LoadSubscriptions(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		r.subs[rec.ChatID] = Subscription{
			ChatID:        rec.ChatID,
			Topics:        rec.Topics,
			Slots:         rec.Slots,
			LastFiredSlot: rec.LastFiredSlot,
			LastFiredDate: rec.LastFiredDate,
			CreatedBy:     rec.CreatedBy,
			UpdatedAt:     rec.UpdatedAt,
		}
	}
	return nil
}

// Add creates or replaces the subscription of chatID. Topics are lowercased
// and deduplicated in input order; slots are normalized and sorted.
// Re-setup clears the fired marker.
func (r *Registry) Add(ctx context.Context, chatID int64, topics, slots []string, createdBy int64) (Subscription, error) {
	sub := Subscription{
		ChatID:    chatID,
		Topics:    normalizeTopics(topics),
		CreatedBy: createdBy,
		UpdatedAt: r.now(),
	}
	sub.Slots, _ = normalizeSlots(slots)
	if len(sub.Topics) == 0 || len(sub.Slots) == 0 {
		return Subscription{}, ErrEmptySubscription
	}
	r.mu.Lock()
	r.subs[chatID] = sub
	r.mu.Unlock()
	r.persist(ctx, sub)
	return sub.clone(), nil
}

// Remove deletes the subscription; it reports whether one existed.
func (r *Registry) Remove(ctx context.Context, chatID int64) bool {
	r.mu.Lock()
	_, ok := r.subs[chatID]
	delete(r.subs, chatID)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if r.store != nil {
		r.writeMu.Lock()
		err := r.store.DeleteSubscription(ctx, chatID)
		r.writeMu.Unlock()
		if err != nil {
			r.log.Warn("subscription delete failed", logx.Int64("chat_id", chatID), logx.Err(err))
		}
	}
	return true
}

func (r *Registry) Get(chatID int64) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[chatID]
	return s.clone(), ok
}

// List returns all subscriptions ordered by chat id.
func (r *Registry) List() []Subscription {
	r.mu.RLock()
	out := make([]Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		out = append(out, s.clone())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Subscription) int {
		switch {
		case a.ChatID < b.ChatID:
			return -1
		case a.ChatID > b.ChatID:
			return 1
		}
		return 0
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// MarkFired records that slot fired on date. It is a no-op when the
// subscription was removed meanwhile.
func (r *Registry) MarkFired(ctx context.Context, chatID int64, slot, date string) {
	r.mu.Lock()
	sub, ok := r.subs[chatID]
	if ok {
		sub.LastFiredSlot = slot
		sub.LastFiredDate = date
		r.subs[chatID] = sub
	}
	r.mu.Unlock()
	if ok {
		r.persist(ctx, sub)
	}
}

func (r *Registry) persist(ctx context.Context, sub Subscription) {
	if r.store == nil {
		return
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	err := r.store.PutSubscription(ctx, storage.Subscription{
		ChatID:        sub.ChatID,
		Topics:        sub.Topics,
		Slots:         sub.Slots,
		LastFiredSlot: sub.LastFiredSlot,
		LastFiredDate: sub.LastFiredDate,
		CreatedBy:     sub.CreatedBy,
		UpdatedAt:     sub.UpdatedAt,
	})
	if err != nil {
		r.log.Warn("subscription persist failed", logx.Int64("chat_id", sub.ChatID), logx.Err(err))
	}
}

func normalizeTopics(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
