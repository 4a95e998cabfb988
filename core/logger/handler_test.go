package logger

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestHandler(buf *bytes.Buffer, format logFormat) (*structuredHandler, *asyncWriter) {
	aw := newAsyncWriter([]io.Writer{buf}, 1024)
	return newStructuredHandler(handlerConfig{
		level:    slog.LevelInfo,
		writer:   aw,
		format:   format,
		keyOrder: append([]string(nil), defaultKeyOrder...),
	}), aw
}

func flushAndClose(t *testing.T, aw *asyncWriter) {
	t.Helper()
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestStructuredHandlerKVOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)
	ctx := WithRID(Background(), "rid-123")
	ctx = WithSession(ctx, "sess-1")
	ctx = WithUpdateMeta(ctx, 42, 7, 9)

	log := slog.New(handler).With("component", "engine")
	LogEvent(ctx, log, slog.LevelInfo, "event.handled",
		slog.String("status", "ok"),
		slog.String("kind", "photo"),
	)
	flushAndClose(t, aw)

	line := strings.TrimSpace(buf.String())
	tokens := strings.Split(line, " ")
	expected := []string{"ts=", "level=INFO", "component=engine", "event=event.handled", "status=ok", "rid=rid-123", "sid=sess-1", "update_id=42", "user_id=7", "chat_id=9", "kind=photo"}
	if len(tokens) < len(expected) {
		t.Fatalf("unexpected token count: %d (%s)", len(tokens), line)
	}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
}

func TestStructuredHandlerJSONOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatJSON)
	ctx := WithRID(Background(), "rid-json")
	ctx = WithUpdateMeta(ctx, 11, 22, 33)

	log := slog.New(handler).With("component", "classifier")
	LogEvent(ctx, log, slog.LevelError, "classify.fail",
		slog.String("status", "fail"),
		slog.String("err", "boom"),
		slog.String("err_code", "TIMEOUT"),
	)
	flushAndClose(t, aw)

	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, "{") {
		t.Fatalf("expected JSON, got %s", line)
	}
	prefixes := []string{`{"ts":`, `"level":"ERROR"`, `"component":"classifier"`, `"event":"classify.fail"`, `"status":"fail"`, `"rid":"rid-json"`, `"err":"boom"`}
	pos := -1
	for _, pref := range prefixes {
		idx := strings.Index(line, pref)
		if idx == -1 || idx < pos {
			t.Fatalf("prefix %s not found in order within %s", pref, line)
		}
		pos = idx
	}
}

func TestStructuredHandlerDurationNormalized(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatKV)
	log := slog.New(handler)
	log.Info("classify.done",
		slog.Duration("duration", 1500*time.Millisecond),
		slog.Duration("queue_duration", 20*time.Millisecond),
	)
	flushAndClose(t, aw)

	line := buf.String()
	if !strings.Contains(line, "duration_ms=1500") {
		t.Fatalf("expected duration_ms, got %s", line)
	}
	if !strings.Contains(line, "queue_duration_ms=20") {
		t.Fatalf("expected queue_duration_ms, got %s", line)
	}
	if !strings.Contains(line, "component=app") {
		t.Fatalf("expected default component, got %s", line)
	}
}

func TestStructuredHandlerCompactRIDJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	handler, aw := newTestHandler(buf, formatJSON)
	rawRID := "12:34:56"
	ctx := WithRID(Background(), rawRID)
	LogEvent(ctx, slog.New(handler), slog.LevelInfo, "rid.test", slog.String("status", "ok"))
	flushAndClose(t, aw)

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, `"rid":"`+CompactRID(rawRID)+`"`) {
		t.Fatalf("expected compact rid in JSON, got %s", line)
	}
	if !strings.Contains(line, `"rid_full":"`+rawRID+`"`) {
		t.Fatalf("expected rid_full in JSON output, got %s", line)
	}
}

func TestSamplerKeepsHeadOfWindow(t *testing.T) {
	s := newSampler(2, 5)
	var got []bool
	for i := 0; i < 10; i++ {
		got = append(got, s.Allow())
	}
	want := []bool{true, true, false, false, false, true, true, false, false, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Allow #%d = %v, want %v", i, got[i], want[i])
		}
	}

	s.Set(0, 0)
	if !s.Allow() {
		t.Fatal("disabled sampler must allow everything")
	}
	s.Set(9, 3)
	for i := 0; i < 4; i++ {
		if !s.Allow() {
			t.Fatal("keep above window must allow everything")
		}
	}
}

func TestParseSampleRate(t *testing.T) {
	cases := []struct {
		in           string
		keep, window int
	}{
		{"1/10", 1, 10},
		{" 3 / 4 ", 3, 4},
		{"20", 1, 20},
		{"5%", 1, 20},
		{"250%", 1, 1},
		{"0", 0, 0},
		{"-1/4", 0, 0},
		{"junk", 0, 0},
	}
	for _, tc := range cases {
		keep, window := parseSampleRate(tc.in)
		if keep != tc.keep || window != tc.window {
			t.Fatalf("parseSampleRate(%q) = %d/%d, want %d/%d", tc.in, keep, window, tc.keep, tc.window)
		}
	}
}

func TestAsyncWriterRejectsAfterClose(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 16)
	for i := 0; i < 3; i++ {
		if err := aw.Write([]byte("line\n")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buf.String() != "line\nline\nline\n" {
		t.Fatalf("sink = %q", buf.String())
	}
	if err := aw.Write([]byte("late\n")); err != errWriterClosed {
		t.Fatalf("Write after close = %v", err)
	}
	if err := aw.Flush(); err != nil {
		t.Fatalf("Flush after close = %v", err)
	}
}
