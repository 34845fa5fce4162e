package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLevel_Fallbacks(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	if got := Level("debug"); got != zerolog.DebugLevel {
		t.Fatalf("explicit level ignored: %v", got)
	}
	if got := Level(""); got != zerolog.WarnLevel {
		t.Fatalf("LOG_LEVEL ignored: %v", got)
	}
	t.Setenv("LOG_LEVEL", "")
	if got := Level(""); got != zerolog.InfoLevel {
		t.Fatalf("default: %v", got)
	}
	if got := Level("loud"); got != zerolog.InfoLevel {
		t.Fatalf("bad level should fall back to info: %v", got)
	}
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")
	log.Info().Msg("hidden")
	log.Warn().Str("op", "add").Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"op":"add"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}
