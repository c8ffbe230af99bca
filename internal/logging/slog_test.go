package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewTextLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "warn", "text")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	ctx := context.Background()

	log.Info(ctx, "hidden")
	log.Warn(ctx, "stale entry", "id", "abc")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level:\n%s", out)
	}
	for _, want := range []string{"level=WARN", `msg="stale entry"`, "id=abc"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestNewJSONLoggerWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log.With("user", "42").Debug(context.Background(), "persisted", "bytes", 120)

	out := buf.String()
	for _, want := range []string{`"level":"DEBUG"`, `"user":"42"`, `"bytes":120`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in output:\n%s", want, out)
		}
	}
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := New(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestNopDoesNotPanic(t *testing.T) {
	log := Nop()
	ctx := context.TODO()
	log.Info(ctx, "ok")
	log.Error(ctx, "ok")
	log.With("a", 1).Warn(ctx, "ok")
}
