package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" warn ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNamed_AddsComponent(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: "debug", Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	l := Named("connector")
	l.Debug().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"component":"connector"`) {
		t.Errorf("Expected component field, got %s", out)
	}
	if !strings.Contains(out, `"message":"hello"`) {
		t.Errorf("Expected message, got %s", out)
	}
}

func TestOr(t *testing.T) {
	var buf bytes.Buffer
	custom := zerolog.New(&buf)

	l := Or(&custom, "dao")
	l.Info().Msg("x")
	if buf.Len() == 0 {
		t.Error("Expected custom logger to be used")
	}
}
