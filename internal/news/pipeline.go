package news

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatwarden/internal/feed"
	"chatwarden/internal/transport"
	logx "chatwarden/pkg/logx"
)

const (
	DefaultCaptionLimit = 1024
	DefaultTextLimit    = 4096
	defaultSendTimeout  = 20 * time.Second
)

// Source supplies topic items, newest first.
type Source interface {
	Fetch(ctx context.Context, topic string) ([]feed.Item, error)
}

// Publisher is the part of the transport the pipeline sends through.
type Publisher interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	SendPhoto(ctx context.Context, to transport.ChatTarget, photoURL, caption string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Delivery describes one DeliverTopic outcome.
type Delivery struct {
	ChatID   int64
	Topic    string
	ItemID   string
	Title    string
	Rich     bool // sent as photo with caption
	Skipped  bool // no fresh item
	Attempts int
}

type PipelineOptions struct {
	CaptionLimit int
	TextLimit    int
	SendTimeout  time.Duration
	Log          logx.Logger
	// OnDelivered runs after a successful send.
	OnDelivered func(Delivery)
}

// Pipeline turns a due (chat, topic) pair into at most one sent item.
type Pipeline struct {
	src   Source
	pub   Publisher
	dedup *DedupStore
	opts  PipelineOptions
	log   logx.Logger
}

func NewPipeline(src Source, pub Publisher, dedup *DedupStore, opts PipelineOptions) *Pipeline {
	if opts.CaptionLimit <= 0 {
		opts.CaptionLimit = DefaultCaptionLimit
	}
	if opts.TextLimit <= 0 {
		opts.TextLimit = DefaultTextLimit
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	return &Pipeline{src: src, pub: pub, dedup: dedup, opts: opts, log: opts.Log}
}

// Candidates returns the fetched items not yet delivered, newest first.
func (p *Pipeline) Candidates(ctx context.Context, topic string) ([]feed.Item, error) {
	items, err := p.src.Fetch(ctx, topic)
	if err != nil {
		return nil, err
	}
	out := items[:0:0]
	for _, it := range items {
		if !p.dedup.Seen(it.ID) {
			out = append(out, it)
		}
	}
	return out, nil
}

// DeliverTopic sends the freshest unseen item of topic to chatID. Having no
// fresh item is not an error. The returned error wraps
// transport.ErrDestinationUnreachable when the chat is gone.
func (p *Pipeline) DeliverTopic(ctx context.Context, chatID int64, topic string) (Delivery, error) {
	d := Delivery{ChatID: chatID, Topic: topic}
	cands, err := p.Candidates(ctx, topic)
	if err != nil {
		return d, fmt.Errorf("fetch %q: %w", topic, err)
	}
	if len(cands) == 0 {
		d.Skipped = true
		return d, nil
	}
	it := cands[0]
	d.ItemID, d.Title = it.ID, it.Title
	to := transport.ChatTarget{ChatID: chatID}

	if it.ImageURL != "" {
		d.Attempts++
		err := p.send(ctx, func(ctx context.Context) error {
			_, err := p.pub.SendPhoto(ctx, to, it.ImageURL, Format(it, p.opts.CaptionLimit),
				&transport.SendOptions{ParseMode: transport.ParseMarkdown})
			return err
		})
		if err == nil {
			d.Rich = true
			p.delivered(ctx, d)
			return d, nil
		}
		if errors.Is(err, transport.ErrDestinationUnreachable) {
			return d, err
		}
		p.log.Warn("news photo send failed; falling back to text",
			logx.Int64("chat_id", chatID), logx.String("item", it.ID), logx.Err(err))
	}

	d.Attempts++
	err = p.send(ctx, func(ctx context.Context) error {
		_, err := p.pub.SendText(ctx, to, Format(it, p.opts.TextLimit),
			&transport.SendOptions{ParseMode: transport.ParseMarkdown, DisablePreview: true})
		return err
	})
	if err != nil {
		// not recorded: the item stays eligible for the next slot
		return d, fmt.Errorf("deliver %q: %w", it.ID, err)
	}
	p.delivered(ctx, d)
	return d, nil
}

func (p *Pipeline) send(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.SendTimeout)
	defer cancel()
	return fn(ctx)
}

// delivered records the item. A persistence failure is logged only: the
// message is already out and memory keeps the id.
func (p *Pipeline) delivered(ctx context.Context, d Delivery) {
	_ = p.dedup.Record(ctx, d.ItemID)
	p.log.Info("news delivered",
		logx.Int64("chat_id", d.ChatID), logx.String("topic", d.Topic),
		logx.String("item", d.ItemID), logx.Bool("rich", d.Rich))
	if p.opts.OnDelivered != nil {
		p.opts.OnDelivered(d)
	}
}
