package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "chatwarden/pkg/logx"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultParallelism = 4
	defaultUserAgent   = "chatwarden/1.0 (+rss)"

	// maxItemsIn caps entries taken from one source per fetch.
	maxItemsIn = 20
)

// Options configures a Fetcher.
type Options struct {
	// Timeout bounds each source fetch.
	Timeout     time.Duration
	UserAgent   string
	Parallelism int
	Client      *http.Client
	Log         logx.Logger
}

// Fetcher loads topic items from the configured sources.
type Fetcher struct {
	mu     sync.RWMutex
	topics Topics

	timeout     time.Duration
	userAgent   string
	parallelism int
	client      *http.Client
	log         logx.Logger
}

func NewFetcher(topics Topics, opts Options) *Fetcher {
	f := &Fetcher{
		topics:      topics,
		timeout:     opts.Timeout,
		userAgent:   strings.TrimSpace(opts.UserAgent),
		parallelism: opts.Parallelism,
		client:      opts.Client,
		log:         opts.Log,
	}
	if f.timeout <= 0 {
		f.timeout = defaultTimeout
	}
	if f.userAgent == "" {
		f.userAgent = defaultUserAgent
	}
	if f.parallelism <= 0 {
		f.parallelism = defaultParallelism
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	return f
}

// SetTopics swaps the topic map after a config reload.
func (f *Fetcher) SetTopics(t Topics) {
	f.mu.Lock()
	f.topics = t
	f.mu.Unlock()
}

func (f *Fetcher) Topics() Topics {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.topics
}

// Fetch returns the items of every source mapped to topic, newest first.
// A failing source is logged and skipped; the error is returned only when
// every source failed.
func (f *Fetcher) Fetch(ctx context.Context, topic string) ([]Item, error) {
	urls := f.Topics().URLs(topic)
	if len(urls) == 0 {
		return nil, fmt.Errorf("feed: unknown topic %q", topic)
	}

	results := make([][]Item, len(urls))
	errs := make([]error, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.parallelism)
	for i, u := range urls {
		if strings.TrimSpace(u) == "" {
			errs[i] = errors.New("empty source url")
			continue
		}
		g.Go(func() error {
			items, err := f.FetchURL(gctx, u)
			if err != nil {
				f.log.Warn("feed source failed", logx.String("topic", topic), logx.String("url", u), logx.Err(err))
				errs[i] = err
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	var (
		out    []Item
		failed int
	)
	for i := range urls {
		if errs[i] != nil {
			failed++
			continue
		}
		out = append(out, results[i]...)
	}
	if failed == len(urls) {
		return nil, fmt.Errorf("feed: all sources failed for %q: %w", topic, errors.Join(errs...))
	}
	SortNewestFirst(out)
	return out, nil
}

// FetchURL loads and normalizes one source within the per-source timeout.
func (f *Fetcher) FetchURL(ctx context.Context, url string) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// gofeed parsers keep per-parse state; use one per call.
	p := gofeed.NewParser()
	p.UserAgent = f.userAgent
	p.Client = f.client
	parsed, err := p.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}
	return f.convert(url, parsed), nil
}

// ParseString normalizes an already downloaded document.
func (f *Fetcher) ParseString(source, body string) ([]Item, error) {
	parsed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", source, err)
	}
	return f.convert(source, parsed), nil
}

func (f *Fetcher) convert(source string, parsed *gofeed.Feed) []Item {
	out := make([]Item, 0, min(len(parsed.Items), maxItemsIn))
	for _, it := range parsed.Items {
		if len(out) == maxItemsIn {
			break
		}
		item, err := fromGofeed(source, it)
		if err != nil {
			f.log.Debug("feed item skipped", logx.String("url", source), logx.Err(err))
			continue
		}
		out = append(out, item)
	}
	return out
}
