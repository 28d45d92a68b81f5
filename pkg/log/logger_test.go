package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormatterFieldsSorted(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(
		WithLevel(DebugLevel),
		WithFormatter(&TextFormatter{DisableTimestamp: true}),
		WithOutput(NewWriterOutput(&buf)),
	)
	l.Info("hello", Str("b", "2"), Str("a", "1"))
	out := buf.String()
	if !strings.Contains(out, "hello") {
		t.Fatalf("missing message: %q", out)
	}
	if strings.Index(out, "a=1") > strings.Index(out, "b=2") {
		t.Fatalf("fields not sorted: %q", out)
	}
}

func TestLevelGate(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(
		WithLevel(WarnLevel),
		WithFormatter(&TextFormatter{DisableTimestamp: true}),
		WithOutput(NewWriterOutput(&buf)),
	)
	l.Info("dropped")
	l.Warn("kept")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info should have been gated: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn missing: %q", out)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(
		WithLevel(InfoLevel),
		WithFormatter(&JSONFormatter{}),
		WithOutput(NewWriterOutput(&buf)),
	)
	l.With(Component("bus")).Info("published", Uint64("channel_id", 7))
	var obj map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatalf("not json: %v (%q)", err, buf.String())
	}
	if obj["msg"] != "published" {
		t.Fatalf("msg: %v", obj["msg"])
	}
	if obj["component"] != "bus" {
		t.Fatalf("component: %v", obj["component"])
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("debug"); err != nil || lvl != DebugLevel {
		t.Fatalf("debug: %v %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
