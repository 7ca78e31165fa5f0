package observability_test

import (
	"MangoCache/internal/observability"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetDefaultLevel_AppliesToComponentLoggers(t *testing.T) {
	prev := observability.DefaultLevel()
	defer observability.SetDefaultLevel(prev)

	observability.SetDefaultLevel(observability.ParseLogLevel("warn"))

	for _, component := range []string{"core", "persistence", "server"} {
		if got := observability.NewLogger(component).GetLevel(); got != zerolog.WarnLevel {
			t.Errorf("%s logger level = %s, want warn", component, got)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := observability.ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
