package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestFormatTelegramLine(t *testing.T) {
	t.Parallel()
	got := formatTelegramLine([]byte(`{"level":"warn","message":"send failed","time":"x","chat_id":42,"comp":"news"}`))
	want := "[WARN] send failed\n- chat_id=42\n- comp=news"
	if got != want {
		t.Fatalf("formatTelegramLine = %q, want %q", got, want)
	}
	if got := formatTelegramLine([]byte("not json \n")); got != "not json" {
		t.Fatalf("raw line = %q", got)
	}
}

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int64("chat_id", 7), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["comp"] != "test" || m["message"] != "hello" || m["chat_id"].(float64) != 7 {
		t.Fatalf("unexpected fields: %v", m)
	}
	if _, ok := m["err"]; ok {
		t.Fatal("nil error should not be logged")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("ignored")
}

type captureSender struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureSender) SendLog(_ context.Context, _ int64, _ int, text string) error {
	c.mu.Lock()
	c.lines = append(c.lines, text)
	c.mu.Unlock()
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	sender := &captureSender{}
	svc, log := New(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10}}, sender)
	defer svc.Close()
	svc.SetTelegramTarget(-100, 0)

	log.Info("quiet")
	log.Warn("loud")

	deadline := time.Now().Add(2 * time.Second)
	for sender.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.lines) != 1 || !strings.Contains(sender.lines[0], "loud") {
		t.Fatalf("telegram lines = %q", sender.lines)
	}
}

func TestClipKeepsRunesIntact(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefgh", 6, "abc..."},
		{"ääääääää", 5, "ää..."},
		{"x", 2, "x"},
	}
	for _, tt := range tests {
		if got := clip(tt.in, tt.n); got != tt.want {
			t.Fatalf("clip(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestFileSinkReopensOnlyOnPathChange(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "nested", "a.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}}, nil)
	defer svc.Close()

	log.Info("one")
	f := svc.file
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	if svc.file != f {
		t.Fatal("same path must keep the open file")
	}
	log.Info("two")

	second := filepath.Join(dir, "b.log")
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: second}})
	log.Info("three")

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if !strings.Contains(string(a), `"one"`) || !strings.Contains(string(a), `"two"`) || strings.Contains(string(a), `"three"`) {
		t.Fatalf("first log = %s", a)
	}
	b, err := os.ReadFile(second)
	if err != nil || !strings.Contains(string(b), `"three"`) {
		t.Fatalf("second log = %s, %v", b, err)
	}
}

func TestTelegramSinkCountsDrops(t *testing.T) {
	t.Parallel()
	sink := newTelegramSink(&captureSender{})
	sink.configure(TelegramConfig{RatePerSec: 1000})
	sink.setTarget(-1, 0)
	// not started, so the queue fills up
	line := []byte(`{"level":"error","message":"x"}`)
	for range tgQueueSize + 5 {
		_, _ = sink.WriteLevel(LevelError, line)
	}
	if got := sink.dropped.Load(); got != 5 {
		t.Fatalf("dropped = %d, want 5", got)
	}
}
