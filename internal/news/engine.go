package news

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"

	"golang.org/x/sync/errgroup"
)

const (
	slotLayout = "15:04"
	dateLayout = "2006-01-02"
)

// Deliverer sends one topic to one chat.
type Deliverer interface {
	DeliverTopic(ctx context.Context, chatID int64, topic string) (Delivery, error)
}

type EngineOptions struct {
	// Location is the wall clock slots are evaluated in (default: Local).
	Location *time.Location
	// Parallel fans due chats out concurrently, at most MaxParallel at once.
	Parallel    bool
	MaxParallel int
	Log         logx.Logger
	// OnRemoved runs when a chat is dropped as unreachable.
	OnRemoved func(chatID int64, err error)
}

// TickReport summarizes one Tick.
type TickReport struct {
	Slot      string
	Due       int
	Fired     int
	Delivered int
	Removed   int
	Busy      int // due chats skipped because their previous cycle still runs
}

// Engine fires subscriptions whose slot matches the current minute. Each
// (slot, date) pair fires at most once per chat; slots missed while the
// process was down are not replayed.
type Engine struct {
	reg  *Registry
	del  Deliverer
	opts EngineOptions
	log  logx.Logger
	now  func() time.Time

	mu       sync.Mutex
	inflight map[int64]bool
}

func NewEngine(reg *Registry, del Deliverer, opts EngineOptions) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	return &Engine{
		reg:      reg,
		del:      del,
		opts:     opts,
		log:      opts.Log,
		now:      time.Now,
		inflight: map[int64]bool{},
	}
}

// SetLocation switches the slot time zone.
func (e *Engine) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	e.mu.Lock()
	e.opts.Location = loc
	e.mu.Unlock()
}

// SlotAt returns the "HH:MM" slot and calendar date of t in the engine zone.
func (e *Engine) SlotAt(t time.Time) (slot, date string) {
	e.mu.Lock()
	loc := e.opts.Location
	e.mu.Unlock()
	lt := t.In(loc)
	return lt.Format(slotLayout), lt.Format(dateLayout)
}

// Due lists the subscriptions that should fire at t.
func (e *Engine) Due(t time.Time) []Subscription {
	slot, date := e.SlotAt(t)
	var out []Subscription
	for _, s := range e.reg.List() {
		if isDue(s, slot, date) {
			out = append(out, s)
		}
	}
	return out
}

func isDue(s Subscription, slot, date string) bool {
	if !s.HasSlot(slot) {
		return false
	}
	return s.LastFiredSlot != slot || s.LastFiredDate != date
}

// Tick runs one due-check at the current time.
func (e *Engine) Tick(ctx context.Context) TickReport {
	return e.TickAt(ctx, e.now())
}

// TickAt runs one due-check as if the clock read t.
func (e *Engine) TickAt(ctx context.Context, t time.Time) TickReport {
	slot, date := e.SlotAt(t)
	due := e.Due(t)
	rep := TickReport{Slot: slot, Due: len(due)}
	if len(due) == 0 {
		return rep
	}

	var mu sync.Mutex
	run := func(s Subscription) {
		if !e.acquire(s.ChatID) {
			mu.Lock()
			rep.Busy++
			mu.Unlock()
			return
		}
		defer e.release(s.ChatID)
		delivered, removed := e.fire(ctx, s, slot, date)
		mu.Lock()
		rep.Fired++
		rep.Delivered += delivered
		if removed {
			rep.Removed++
		}
		mu.Unlock()
	}

	if !e.opts.Parallel || len(due) == 1 {
		for _, s := range due {
			run(s)
		}
		return rep
	}
	var g errgroup.Group
	g.SetLimit(e.opts.MaxParallel)
	for _, s := range due {
		g.Go(func() error {
			run(s)
			return nil
		})
	}
	_ = g.Wait()
	return rep
}

// fire delivers every topic in order. One topic failing does not stop the
// others; an unreachable chat removes the subscription and stops.
func (e *Engine) fire(ctx context.Context, s Subscription, slot, date string) (delivered int, removed bool) {
	log := e.log.With(logx.Int64("chat_id", s.ChatID), logx.String("slot", slot))
	log.Info("news slot due", logx.Strings("topics", s.Topics))
	for _, topic := range s.Topics {
		d, err := e.del.DeliverTopic(ctx, s.ChatID, topic)
		if errors.Is(err, transport.ErrDestinationUnreachable) {
			log.Warn("news destination unreachable; removing subscription", logx.Err(err))
			e.reg.Remove(ctx, s.ChatID)
			if e.opts.OnRemoved != nil {
				e.opts.OnRemoved(s.ChatID, err)
			}
			return delivered, true
		}
		if err != nil {
			log.Warn("news topic failed", logx.String("topic", topic), logx.Err(err))
			continue
		}
		if d.Skipped {
			log.Debug("news topic has no fresh items", logx.String("topic", topic))
			continue
		}
		delivered++
	}
	e.reg.MarkFired(ctx, s.ChatID, slot, date)
	return delivered, false
}

func (e *Engine) acquire(chatID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[chatID] {
		return false
	}
	e.inflight[chatID] = true
	return true
}

func (e *Engine) release(chatID int64) {
	e.mu.Lock()
	delete(e.inflight, chatID)
	e.mu.Unlock()
}
