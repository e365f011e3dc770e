package config

import (
	"testing"

	"github.com/keshon/companion/internal/affect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
agents:
  - id: "1001"
    name: Erii
    prompt: A shy girl who loves games.
    baseline_emotion: RELAXATION
    interests: [games, cats]
    admins: ["42"]
  - id: "1002"
    baseline: {p: 1, a: 0.5, d: -0.5}
    channels: ["c1"]
`

func TestParsePersonas(t *testing.T) {
	ps, err := ParsePersonas([]byte(sample))
	require.NoError(t, err)
	require.Len(t, ps.All(), 2)

	erii, ok := ps.Get("1001")
	require.True(t, ok)
	assert.Equal(t, affect.Relaxation.Vector(), erii.Baseline)
	assert.Equal(t, "games, cats", erii.InterestText())
	assert.True(t, erii.AllowsChannel("anything"))

	other, _ := ps.Get("1002")
	assert.Equal(t, "1002", other.Name)
	assert.Equal(t, affect.PAD{P: 1, A: 0.5, D: -0.5}, ps.Baseline("1002"))
	assert.False(t, other.AllowsChannel("c2"))
	assert.Equal(t, affect.PAD{}, ps.Baseline("missing"))
}

func TestParsePersonas_Errors(t *testing.T) {
	_, err := ParsePersonas([]byte("agents:\n  - name: x\n"))
	assert.Error(t, err)
	_, err = ParsePersonas([]byte("agents:\n  - id: a\n  - id: a\n"))
	assert.Error(t, err)
	_, err = ParsePersonas([]byte("agents:\n  - id: a\n    baseline_emotion: NOPE\n"))
	assert.Error(t, err)
}

func TestLoad_DefaultsAndValidation(t *testing.T) {
	t.Setenv("STATE_BACKEND", "file")
	t.Setenv("TYPING_CPM", "200")
	var cfg Config
	require.NoError(t, Parse(&cfg))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 64, cfg.BusCapacity)
	assert.Equal(t, 200.0, cfg.Dispatch.TypingCPM)
	assert.Equal(t, 80.0, cfg.Mind.SpeakThreshold)
	assert.Equal(t, "gemini", cfg.AI.Provider)

	cfg.StateBackend = "mongo"
	assert.Error(t, cfg.Validate())
}
