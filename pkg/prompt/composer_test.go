package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/engine"
	"github.com/rallyhouse/rally/pkg/models"
)

func TestComposeSystemPrompt(t *testing.T) {
	in := Input{
		Incoming: models.InboundMessage{Text: "what is the raid target?"},
		Classification: models.Classification{
			Category: models.CategoryCommunityChat, Confidence: 0.8,
		},
		Personality: Personality{
			Name:        "degen-dan",
			Description: "A loud memecoin enjoyer.",
			StyleRules:  []string{"Always lowercase."},
			Lore:        []string{"Survived three bear markets."},
		},
		Identity: &models.IdentityBinding{
			Platform: "telegram", PlatformID: "4242", Verified: true,
		},
		Semantic: []models.ScoredMemory{
			{Item: models.MemoryItem{Body: models.MemoryBody{Text: "dan prefers short answers"}}, Similarity: 0.91},
		},
		Session: &models.Session{
			Raid: &models.RaidState{
				Status:    models.RaidActive,
				TargetRef: "https://x.com/rally/status/42",
			},
		},
	}

	req := Compose(in)
	assert.Contains(t, req.SystemPrompt, "You are degen-dan.")
	assert.Contains(t, req.SystemPrompt, "Always lowercase.")
	assert.Contains(t, req.SystemPrompt, "Survived three bear markets.")
	assert.Contains(t, req.SystemPrompt, "4242 on telegram, verified")
	assert.Contains(t, req.SystemPrompt, "dan prefers short answers")
	assert.Contains(t, req.SystemPrompt, "https://x.com/rally/status/42")
	assert.Equal(t, "what is the raid target?", req.UserInput)
	assert.Equal(t, models.CategoryCommunityChat, req.Hints.Classification.Category)
	assert.Equal(t, defaultParams, req.Params)
}

func TestComposePersonalityParamsOverride(t *testing.T) {
	custom := engine.Params{Temperature: 0.2, TopP: 0.5}
	req := Compose(Input{Personality: Personality{Name: "calm", Params: &custom}})
	assert.Equal(t, custom, req.Params)
}

func TestHistoryOrderingAndCap(t *testing.T) {
	// Newest-first input, as GetRecent returns it.
	recent := []models.MemoryItem{
		{Kind: models.MemoryKindMessage, Body: models.MemoryBody{
			Text: "newest", Fields: map[string]any{"role": models.RoleAgent}}},
		{Kind: models.MemoryKindFact, Body: models.MemoryBody{Text: "not a turn"}},
		{Kind: models.MemoryKindMessage, Body: models.MemoryBody{
			Text: "oldest", Fields: map[string]any{"role": models.RoleUser}}},
	}
	turns := history(recent)
	require.Len(t, turns, 2)
	assert.Equal(t, engine.Turn{Role: models.RoleUser, Text: "oldest"}, turns[0])
	assert.Equal(t, engine.Turn{Role: models.RoleAgent, Text: "newest"}, turns[1])

	long := make([]models.MemoryItem, maxHistoryTurns+10)
	for i := range long {
		long[i] = models.MemoryItem{Kind: models.MemoryKindMessage,
			Body: models.MemoryBody{Text: "turn"}}
	}
	assert.Len(t, history(long), maxHistoryTurns)
}

func TestLoadLibrary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "personalities.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
personalities:
  - name: degen-dan
    description: A loud memecoin enjoyer.
    style_rules:
      - Always lowercase.
    params:
      temperature: 1.1
      top_p: 0.9
  - name: support-sam
    description: Patient and precise.
`), 0o644))

	lib, err := LoadLibrary(config.PromptConfig{
		PersonalitiesFile:  path,
		DefaultPersonality: "degen-dan",
	})
	require.NoError(t, err)

	assert.Equal(t, "degen-dan", lib.Default().Name)
	require.NotNil(t, lib.Default().Params)
	assert.InDelta(t, 1.1, lib.Default().Params.Temperature, 1e-9)
	assert.Equal(t, "support-sam", lib.Get("support-sam").Name)

	// Unknown names fall back to the default.
	assert.Equal(t, "degen-dan", lib.Get("nobody").Name)
}

func TestLoadLibraryWithoutFile(t *testing.T) {
	lib, err := LoadLibrary(config.PromptConfig{})
	require.NoError(t, err)
	assert.Equal(t, "rally", lib.Default().Name)
}

func TestLoadLibraryUnknownDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte("personalities: []\n"), 0o644))

	_, err := LoadLibrary(config.PromptConfig{
		PersonalitiesFile:  path,
		DefaultPersonality: "ghost",
	})
	assert.ErrorContains(t, err, "not defined")
}
