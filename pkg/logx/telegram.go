package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	tgQueueSize   = 256
	tgSendTimeout = 10 * time.Second
	tgMaxRunes    = 3500
	tgMaxValue    = 600
	tgMaxStack    = 900
)

type tgLine struct {
	chatID   int64
	threadID int
	text     string
}

// telegramSink is a zerolog.LevelWriter that queues lines for a background
// sender. Writes never block the caller.
type telegramSink struct {
	sender Sender
	queue  chan tgLine

	mu       sync.Mutex
	chatID   int64
	threadID int
	minLevel Level
	limiter  *rate.Limiter
	warned   bool

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	dropped atomic.Uint64
}

func newTelegramSink(sender Sender) *telegramSink {
	return &telegramSink{
		sender:   sender,
		queue:    make(chan tgLine, tgQueueSize),
		minLevel: LevelWarn,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (t *telegramSink) setTarget(chatID int64, threadID int) {
	t.mu.Lock()
	t.chatID = chatID
	if threadID != 0 {
		t.threadID = threadID
	}
	t.mu.Unlock()
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	t.minLevel = parseLevel(cfg.MinLevel, LevelWarn)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		t.threadID = cfg.ThreadID
	}
	noTarget := cfg.Enabled && t.chatID == 0 && !t.warned
	t.warned = t.warned || noTarget
	t.mu.Unlock()

	if noTarget {
		fmt.Fprintln(os.Stderr, "logx: telegram logging enabled but no target chat is set")
	}
	if cfg.Enabled {
		t.startOnce.Do(t.start)
	}
}

func (t *telegramSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ln := <-t.queue:
				if t.sender == nil {
					continue
				}
				sctx, done := context.WithTimeout(ctx, tgSendTimeout)
				_ = t.sender.SendLog(sctx, ln.chatID, ln.threadID, ln.text)
				done()
			}
		}
	}()
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		t.wg.Wait()
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(LevelInfo, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	chatID, threadID, minLevel, lim := t.chatID, t.threadID, t.minLevel, t.limiter
	t.mu.Unlock()

	if chatID == 0 || t.sender == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	text := formatTelegramLine(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- tgLine{chatID: chatID, threadID: threadID, text: text}:
	default:
		t.dropped.Add(1)
	}
	return len(p), nil
}

// formatTelegramLine renders a JSON log line as "[LEVEL] msg" followed by
// one "- key=value" line per field, keys sorted.
func formatTelegramLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(strings.TrimSpace(string(p)), tgMaxRunes)
	}
	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "time" && k != "level" && k != "message" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		limit := tgMaxValue
		if k == "stack" {
			limit = tgMaxStack
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), limit))
	}
	return clip(b.String(), tgMaxRunes)
}

// clip shortens s to at most n runes, ending in "...".
func clip(s string, n int) string {
	if n <= 3 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
