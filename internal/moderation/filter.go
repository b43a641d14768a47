package moderation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// WordFilter matches messages against case-insensitive patterns.
type WordFilter struct {
	mu   sync.RWMutex
	pats []*regexp.Regexp
}

func NewWordFilter(patterns []string) (*WordFilter, error) {
	f := &WordFilter{}
	if err := f.SetPatterns(patterns); err != nil {
		return nil, err
	}
	return f, nil
}

// SetPatterns replaces the pattern list. On error the old list stays.
func (f *WordFilter) SetPatterns(patterns []string) error {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return fmt.Errorf("bad word pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	f.mu.Lock()
	f.pats = out
	f.mu.Unlock()
	return nil
}

// Match returns the first matching pattern, or "".
func (f *WordFilter) Match(text string) string {
	if text == "" {
		return ""
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, re := range f.pats {
		if re.MatchString(text) {
			return strings.TrimPrefix(re.String(), "(?i)")
		}
	}
	return ""
}

func (f *WordFilter) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.pats)
}
