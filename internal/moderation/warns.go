package moderation

import (
	"context"
	"sync/atomic"
	"time"

	"chatwarden/internal/storage"
	logx "chatwarden/pkg/logx"
)

// DefaultWarnThreshold is the warning count that triggers a ban.
const DefaultWarnThreshold = 5

// Banner removes a user from a chat.
type Banner interface {
	BanMember(ctx context.Context, chatID, userID int64) error
}

// WarnResult describes one Warn call.
type WarnResult struct {
	Count     int // value after the call; 0 after a ban
	Threshold int
	Banned    bool
	BanErr    error
}

// Warns counts warnings per (chat, user). Reaching the threshold bans the
// user and resets the counter, whether or not the ban succeeded.
type Warns struct {
	counters  *Counters
	banner    Banner
	audit     storage.Store
	log       logx.Logger
	threshold atomic.Int64
	now       func() time.Time
}

func NewWarns(store storage.Store, banner Banner, threshold int, log logx.Logger) *Warns {
	if threshold <= 0 {
		threshold = DefaultWarnThreshold
	}
	w := &Warns{
		counters: NewCounters(storage.CounterWarns, store, true, log),
		banner:   banner,
		audit:    store,
		log:      log,
		now:      time.Now,
	}
	w.threshold.Store(int64(threshold))
	return w
}

func (w *Warns) Load(ctx context.Context) error { return w.counters.Load(ctx) }

// SetThreshold applies a reloaded threshold to future warnings.
func (w *Warns) SetThreshold(n int) {
	if n > 0 {
		w.threshold.Store(int64(n))
	}
}

func (w *Warns) Threshold() int { return int(w.threshold.Load()) }

func (w *Warns) Count(chatID, userID int64) int { return w.counters.Get(chatID, userID) }

// Warn adds one warning issued by actorID.
func (w *Warns) Warn(ctx context.Context, chatID, userID int64, name string, actorID int64) WarnResult {
	res := WarnResult{Threshold: w.Threshold()}
	var reached bool
	res.Count, reached = w.counters.AddCapped(ctx, chatID, userID, 1, res.Threshold, name)
	w.Audit(ctx, chatID, actorID, "warn", userID, nil)
	if !reached {
		return res
	}

	res.Banned = true
	if w.banner != nil {
		res.BanErr = w.banner.BanMember(ctx, chatID, userID)
	}
	w.Audit(ctx, chatID, actorID, "warn_ban", userID, res.BanErr)
	if res.BanErr != nil {
		w.log.Warn("threshold ban failed", logx.Int64("chat_id", chatID), logx.Int64("user_id", userID), logx.Err(res.BanErr))
	}
	return res
}

// Unwarn removes one warning and returns the remaining count.
func (w *Warns) Unwarn(ctx context.Context, chatID, userID int64, actorID int64) int {
	n := w.counters.Add(ctx, chatID, userID, -1, "")
	w.Audit(ctx, chatID, actorID, "unwarn", userID, nil)
	return n
}

// Ban bans directly and audits the action.
func (w *Warns) Ban(ctx context.Context, chatID, userID int64, actorID int64) error {
	var err error
	if w.banner != nil {
		err = w.banner.BanMember(ctx, chatID, userID)
	}
	if err == nil {
		w.counters.Set(ctx, chatID, userID, 0)
	}
	w.Audit(ctx, chatID, actorID, "ban", userID, err)
	return err
}

// Audit appends an admin action to the audit log.
func (w *Warns) Audit(ctx context.Context, chatID, actorID int64, action string, target int64, actErr error) {
	if w.audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:      w.now(),
		ActorID: actorID,
		ChatID:  chatID,
		Action:  action,
		Target:  formatID(target),
		OK:      actErr == nil,
	}
	if actErr != nil {
		e.Error = actErr.Error()
	}
	if err := w.audit.AppendAudit(ctx, e); err != nil {
		w.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}
