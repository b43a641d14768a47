package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const rssDoc = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
<item><title>First story</title><link>https://example.org/1</link><guid>g1</guid>
<pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate><description>Hello world</description></item>
</channel></rss>`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigCheck(t *testing.T) {
	t.Parallel()
	good := writeConfig(t, `
telegram:
  token: "123:abc"
  owner_user_ids: [1, 2]
news:
  enabled: true
  topics:
    science: ["https://example.org/rss"]
`)
	out, err := execute(t, "config", "check", "--config", good)
	if err != nil {
		t.Fatalf("config check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "topics=[science]") || !strings.Contains(out, "owners:     2") {
		t.Fatalf("summary = %s", out)
	}

	bad := writeConfig(t, "telegram:\n  token: \"\"\n")
	if _, err := execute(t, "config", "check", "--config", bad); err == nil {
		t.Fatal("expected error for missing token")
	}
	unknown := writeConfig(t, "telegram:\n  token: x\nbogus: 1\n")
	if _, err := execute(t, "config", "check", "--config", unknown); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestFeedProbe(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssDoc)
	}))
	defer srv.Close()

	out, err := execute(t, "feed", "probe", srv.URL)
	if err != nil {
		t.Fatalf("probe: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 items") || !strings.Contains(out, "First story") {
		t.Fatalf("output = %s", out)
	}

	cfg := writeConfig(t, fmt.Sprintf("telegram:\n  token: x\nnews:\n  topics:\n    tech: [%q]\n", srv.URL))
	out, err = execute(t, "feed", "probe", "--config", cfg, "--topic", "tech", "--preview")
	if err != nil || !strings.Contains(out, "📰 *First story*") {
		t.Fatalf("topic preview: %v\n%s", err, out)
	}

	if _, err := execute(t, "feed", "probe"); err == nil {
		t.Fatal("expected error without url or topic")
	}
	if _, err := execute(t, "feed", "probe", "--config", cfg, "--topic", "sports"); err == nil {
		t.Fatal("expected error for unknown topic")
	}
}
