package news

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chatwarden/internal/storage"
	logx "chatwarden/pkg/logx"
)

// DedupStore remembers delivered item identifiers. The in-memory set is
// authoritative; every Record is written through to storage immediately.
type DedupStore struct {
	mu  sync.RWMutex
	ids map[string]struct{}

	// writeMu serializes storage writes.
	writeMu sync.Mutex
	store   storage.Store
	log     logx.Logger
	now     func() time.Time
}

func NewDedupStore(store storage.Store, log logx.Logger) *DedupStore {
	return &DedupStore{ids: map[string]struct{}{}, store: store, log: log, now: time.Now}
}

// Load merges the persisted identifiers into memory.
func (d *DedupStore) Load(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	recs, err := d.store.LoadSeen(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	for _, r := range recs {
		d.ids[r.GUID] = struct{}{}
	}
	d.mu.Unlock()
	return nil
}

func (d *DedupStore) Seen(id string) bool {
	d.mu.RLock()
	_, ok := d.ids[strings.TrimSpace(id)]
	d.mu.RUnlock()
	return ok
}

// Record marks id as delivered. A persistence failure is returned but the
// id stays recorded in memory.
func (d *DedupStore) Record(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	d.mu.Lock()
	_, dup := d.ids[id]
	d.ids[id] = struct{}{}
	d.mu.Unlock()
	if dup || d.store == nil {
		return nil
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.store.PutSeen(ctx, id, d.now()); err != nil {
		d.log.Warn("dedup persist failed", logx.String("id", id), logx.Err(err))
		return err
	}
	return nil
}

// All returns the recorded identifiers sorted.
func (d *DedupStore) All() []string {
	d.mu.RLock()
	out := make([]string, 0, len(d.ids))
	for id := range d.ids {
		out = append(out, id)
	}
	d.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (d *DedupStore) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ids)
}
