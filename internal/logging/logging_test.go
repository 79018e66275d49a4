package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"text":     FormatText,
		"TINT":     FormatText,
		"human":    FormatText,
		"json":     FormatJSON,
		"auto":     FormatAuto,
		"":         FormatAuto,
		"whatever": FormatAuto,
	} {
		require.Equal(t, want, ParseFormat(in), in)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":  slog.LevelDebug,
		"INFO":   slog.LevelInfo,
		"warn":   slog.LevelWarn,
		"error":  slog.LevelError,
		"bogus":  slog.LevelInfo,
		"":       slog.LevelInfo,
		"warn+2": slog.LevelWarn + 2,
	} {
		require.Equal(t, want, ParseLevel(in), in)
	}
}

func TestDefaultLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, DefaultLevel("", true), "empty on a TTY is debug")
	require.Equal(t, slog.LevelInfo, DefaultLevel("", false), "empty off a TTY is info")
	require.Equal(t, slog.LevelWarn, DefaultLevel("warn", true), "explicit value wins")
	require.Equal(t, slog.LevelError, DefaultLevel("error", false))
}
