package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coverletter-agent/backend/pkg/config"
)

func TestCostTrackerPricesPerMillionTokens(t *testing.T) {
	tracker := NewCostTracker(map[string]config.PriceConfig{
		"gpt-4o": {Input: 2.5, Output: 10},
	})

	draft := tracker.Record("draft", "gpt-4o", Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000})
	assert.InDelta(t, 7.5, draft.Cost, 1e-9)

	unknown := tracker.Record("critique", "some-local-model", Usage{PromptTokens: 1000, CompletionTokens: 1000})
	assert.Zero(t, unknown.Cost)

	assert.InDelta(t, 7.5, tracker.Total(), 1e-9)
	stages := tracker.Stages()
	assert.Len(t, stages, 2)
	assert.Equal(t, "draft", stages[0].Stage)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))
	assert.Equal(t, 1, EstimateTokens("héé"))

	u := EstimateUsage([]Message{System("abcd"), User("abcd")}, "abcdefgh")
	assert.Equal(t, Usage{PromptTokens: 2, CompletionTokens: 2, TotalTokens: 4}, u)
}
