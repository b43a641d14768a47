package moderation

import (
	"context"
	"strconv"

	"chatwarden/internal/storage"
	logx "chatwarden/pkg/logx"
)

// TopN is the size of the /stats leaderboard.
const TopN = 10

// Stats counts group messages per user. Counts are buffered in memory and
// written by Flush.
type Stats struct {
	counters *Counters
}

func NewStats(store storage.Store, log logx.Logger) *Stats {
	return &Stats{counters: NewCounters(storage.CounterMessages, store, false, log)}
}

func (s *Stats) Load(ctx context.Context) error { return s.counters.Load(ctx) }

// Track counts one message.
func (s *Stats) Track(chatID, userID int64, name string) {
	s.counters.Add(context.Background(), chatID, userID, 1, name)
}

func (s *Stats) Top(chatID int64) []Entry { return s.counters.Top(chatID, TopN) }

func (s *Stats) Flush(ctx context.Context) int { return s.counters.Flush(ctx) }

func (s *Stats) Pending() int { return s.counters.Pending() }

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
