package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{" warn ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"banana", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	t.Parallel()
	log := Nop()
	log.Info("dropped", String("k", "v"))
	log.With(Int("n", 1)).Error("also dropped")
}

func TestRenderChatLine(t *testing.T) {
	t.Parallel()

	got := renderChatLine([]byte(`{"level":"warn","message":"send failed","chat":42,"time":"2026-08-30T10:00:00Z"}`))
	if !strings.HasPrefix(got, "[WARN] send failed") {
		t.Fatalf("line = %q", got)
	}
	if !strings.Contains(got, "chat=42") {
		t.Fatalf("line misses the field: %q", got)
	}
	if strings.Contains(got, "time=") {
		t.Fatalf("line leaks the timestamp: %q", got)
	}

	// Non-JSON input passes through trimmed.
	if got := renderChatLine([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("passthrough = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	if got := truncate("short", 100); got != "short" {
		t.Fatalf("truncate(short) = %q", got)
	}
	long := strings.Repeat("x", 50)
	got := truncate(long, 20)
	if len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q (len %d)", got, len(got))
	}
}
