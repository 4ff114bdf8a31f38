package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf, ServiceName: "roster-ingest"})

	logger.WithRun("run-1").WithDocument("ccfi.pdf").WithOperation("align").
		Warn().
		Int("rows", 5).
		Ints("skipped", []int{3}).
		Err(errors.New("boom")).
		Msg("image count and row count diverge")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "roster-ingest", entry["service"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "ccfi.pdf", entry["document"])
	assert.Equal(t, "align", entry["operation"])
	assert.Equal(t, float64(5), entry["rows"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Info().Msg("hidden")
	logger.Debug().Str("k", "v").Msg("hidden")
	assert.Empty(t, buf.String())

	logger.With().Str("batch", "B1").Logger().Error().Msg("shown")
	assert.Contains(t, buf.String(), `"batch":"B1"`)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}
