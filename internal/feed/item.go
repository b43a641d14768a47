package feed

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrMalformedItem marks an entry without a usable identifier or content.
// Such entries are skipped; they never fail the whole batch.
var ErrMalformedItem = errors.New("feed: malformed item")

// Item is one normalized feed entry.
type Item struct {
	ID        string
	Title     string
	Body      string
	ImageURL  string
	Link      string
	Tags      []string
	Published time.Time
	Source    string
}

// Hashtags renders tags as "#tag" with inner spaces replaced by "_".
func (it Item) Hashtags() []string {
	out := make([]string, 0, len(it.Tags))
	for _, t := range it.Tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		out = append(out, "#"+strings.Join(strings.Fields(t), "_"))
	}
	return out
}

// SortNewestFirst orders items by Published descending. Items without a
// timestamp keep their relative input order after the dated ones.
func SortNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Published, items[j].Published
		if a.IsZero() || b.IsZero() {
			return !a.IsZero() && b.IsZero()
		}
		return a.After(b)
	})
}

// Topics maps a lowercase topic key to its feed URLs.
type Topics map[string][]string

func (t Topics) Has(topic string) bool {
	_, ok := t[strings.ToLower(strings.TrimSpace(topic))]
	return ok
}

func (t Topics) URLs(topic string) []string {
	return t[strings.ToLower(strings.TrimSpace(topic))]
}

// Keys returns the topic keys sorted.
func (t Topics) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
