package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New("info", &buf)

	logger.Info().Str("queue", "analyze").Int("attempt", 2).Msg("job failed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job failed", entry["message"])
	assert.Equal(t, "analyze", entry["queue"])
	assert.EqualValues(t, 2, entry["attempt"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New("warn", &buf)

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestParseLevel_Default(t *testing.T) {
	var buf bytes.Buffer
	logger := New("verbose", &buf)
	logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
}
