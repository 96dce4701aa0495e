package logger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	coreconfig "github.com/m3rciful/swapbot/core/config"
)

// capture logs one event through a fresh handler and returns the line.
func capture(t *testing.T, format logFormat, ctx context.Context, component, event string, attrs ...slog.Attr) string {
	t.Helper()
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	h := newStructuredHandler(handlerConfig{level: slog.LevelDebug, writer: aw, format: format})
	LogEvent(ctx, slog.New(h).With("component", component), slog.LevelInfo, event, attrs...)
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	return line
}

func assertOrdered(t *testing.T, line string, parts ...string) {
	t.Helper()
	pos := -1
	for _, p := range parts {
		idx := strings.Index(line, p)
		if idx == -1 || idx < pos {
			t.Fatalf("%q not found in order within %s", p, line)
		}
		pos = idx
	}
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	ctx := WithUpdateMeta(WithRID(context.Background(), "rid-123"), 42, 7, 9)
	line := capture(t, formatKV, ctx, "app", "test.event",
		slog.String("status", "OK"),
		slog.String("cause", "unit"),
	)
	if !strings.HasPrefix(line, "ts=") {
		t.Fatalf("line should start with ts: %s", line)
	}
	assertOrdered(t, line, "level=INFO", "component=app", "event=test.event", "status=ok", "rid=rid-123", "update_id=42", "user_id=7", "chat_id=9", "cause=unit")
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	ctx := WithUpdateMeta(WithRID(context.Background(), "rid-json"), 11, 22, 33)
	line := capture(t, formatJSON, ctx, CompQuote, "quote.failed",
		slog.String("status", "fail"),
		slog.String("err", "boom"),
	)
	if !strings.HasPrefix(line, `{"ts":`) || !strings.HasSuffix(line, "}") {
		t.Fatalf("expected JSON object, got %s", line)
	}
	assertOrdered(t, line, `"level":"INFO"`, `"component":"exchange.quote"`, `"event":"quote.failed"`, `"status":"fail"`, `"rid":"rid-json"`, `"err":"boom"`)
}

func TestStructuredHandlerCompactRID(t *testing.T) {
	ctx := WithRID(context.Background(), "123:456:789")

	kv := capture(t, formatKV, ctx, "app", "rid.test")
	if !strings.Contains(kv, "rid=3f.co.lx") {
		t.Fatalf("expected compact rid, got %s", kv)
	}
	if strings.Contains(kv, "rid_full=") {
		t.Fatalf("rid_full should be omitted in kv output, got %s", kv)
	}

	js := capture(t, formatJSON, ctx, "app", "rid.test")
	if !strings.Contains(js, `"rid":"3f.co.lx"`) || !strings.Contains(js, `"rid_full":"123:456:789"`) {
		t.Fatalf("expected compact and full rid in JSON, got %s", js)
	}
	if !strings.Contains(js, `"ts_unix_nano"`) {
		t.Fatalf("expected ts_unix_nano in JSON output, got %s", js)
	}
}

func TestStructuredHandlerSessionOrderAndDuration(t *testing.T) {
	ctx := WithOrder(WithSession(context.Background(), "s-42"), "abc")
	line := capture(t, formatKV, ctx, CompOrder, "order.poll",
		slog.String("status", "stale"),
		slog.Duration("duration", 1500*time.Millisecond),
		slog.Duration("backoff", 250*time.Millisecond),
		slog.Group("quote", slog.String("pivot", "give")),
		slog.String("empty", ""),
	)
	assertOrdered(t, line, "component=exchange.order", "event=order.poll", "status=stale", "session_id=s-42", "order_hash=abc", "duration_ms=1500")
	for _, want := range []string{"backoff_ms=250", "quote.pivot=give"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %s", want, line)
		}
	}
	if strings.Contains(line, "empty=") {
		t.Fatalf("empty attribute kept: %s", line)
	}
}

func TestStructuredHandlerAttrOverridesContext(t *testing.T) {
	ctx := WithOrder(context.Background(), "from-ctx")
	line := capture(t, formatKV, ctx, CompOrder, "order.status", slog.String("order_hash", "explicit"))
	if !strings.Contains(line, "order_hash=explicit") || strings.Contains(line, "from-ctx") {
		t.Fatalf("explicit attribute should win: %s", line)
	}
}

func TestKVQuoting(t *testing.T) {
	line := capture(t, formatKV, context.Background(), "", "", slog.String("err", `bad "value" here`))
	if !strings.Contains(line, `err="bad \"value\" here"`) {
		t.Fatalf("value not quoted: %s", line)
	}
	if !strings.Contains(line, "component=app") || !strings.Contains(line, "event=unknown") {
		t.Fatalf("defaults missing: %s", line)
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(2, 5)
	var got []bool
	for i := 0; i < 10; i++ {
		got = append(got, s.Allow())
	}
	want := []bool{true, true, false, false, false, true, true, false, false, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Allow sequence = %v, want %v", got, want)
		}
	}
	s.Set(0, 0)
	if !s.Allow() {
		t.Fatal("zero ratio should allow everything")
	}
}

func TestParseRatioSpec(t *testing.T) {
	cases := map[string][2]int{
		"1/10": {1, 10},
		"20":   {1, 20},
		"0":    {0, 0},
		"x/y":  {0, 0},
		"":     {0, 0},
	}
	for in, want := range cases {
		num, den := parseRatioSpec(in)
		if num != want[0] || den != want[1] {
			t.Errorf("parseRatioSpec(%q) = %d/%d, want %d/%d", in, num, den, want[0], want[1])
		}
	}
}

func TestResolveOptions(t *testing.T) {
	opts := resolveOptions(&coreconfig.Config{Logging: coreconfig.LoggingConfig{
		Profile:     "Dev",
		Level:       "warning",
		KeysOrder:   "event, ts",
		DebugSample: "0",
		Dir:         "logs",
		BotFile:     "bot.log",
	}})
	if opts.format != formatKV {
		t.Fatalf("dev profile should default to kv, got %s", opts.format)
	}
	if opts.level != slog.LevelWarn {
		t.Fatalf("level = %v", opts.level)
	}
	if len(opts.keyOrder) != 2 || opts.keyOrder[0] != "event" {
		t.Fatalf("keyOrder = %v", opts.keyOrder)
	}
	if opts.sample != [2]int{0, 0} {
		t.Fatalf("sample = %v", opts.sample)
	}
	if opts.file == "" || !strings.HasSuffix(opts.file, "bot.log") {
		t.Fatalf("file = %q", opts.file)
	}
	if def := resolveOptions(nil); def.format != formatJSON || def.profile != "prod" {
		t.Fatalf("nil config defaults = %+v", def)
	}
}

func TestSanitizeLimit(t *testing.T) {
	if got := SanitizeLimit("a\x00b\u200bc\tд", 4); got != "abc\t" {
		t.Fatalf("SanitizeLimit = %q", got)
	}
	if got := SanitizeLimit("abc", 0); got != "" {
		t.Fatalf("zero limit = %q", got)
	}
}

func TestStatus(t *testing.T) {
	if got := Status(nil); got != "ok" {
		t.Fatalf("Status(nil) = %q", got)
	}
	if got := Status(errors.New("x")); got != "fail" {
		t.Fatalf("Status(err) = %q", got)
	}
}
