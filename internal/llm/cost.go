package llm

import (
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/metrics"
	"github.com/coverletter-agent/backend/pkg/config"
	"github.com/coverletter-agent/backend/pkg/logger"
)

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// EstimateUsage is used for streamed calls, whose responses carry no usage.
func EstimateUsage(messages []Message, completion string) Usage {
	prompt := 0
	for _, m := range messages {
		prompt += EstimateTokens(m.Content)
	}
	out := EstimateTokens(completion)
	return Usage{PromptTokens: prompt, CompletionTokens: out, TotalTokens: prompt + out}
}

type StageCost struct {
	Stage        string  `json:"stage"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost_usd"`
}

// CostTracker accumulates per-stage spend using a per-million-token price
// table. Models missing from the table cost nothing.
type CostTracker struct {
	mu     sync.Mutex
	prices map[string]config.PriceConfig
	stages []StageCost
}

func NewCostTracker(prices map[string]config.PriceConfig) *CostTracker {
	return &CostTracker{prices: prices}
}

func (t *CostTracker) Price(model string, usage Usage) float64 {
	p, ok := t.prices[model]
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1e6*p.Input + float64(usage.CompletionTokens)/1e6*p.Output
}

func (t *CostTracker) Record(stage, model string, usage Usage) StageCost {
	sc := StageCost{
		Stage:        stage,
		Model:        model,
		InputTokens:  usage.PromptTokens,
		OutputTokens: usage.CompletionTokens,
		Cost:         t.Price(model, usage),
	}

	t.mu.Lock()
	t.stages = append(t.stages, sc)
	t.mu.Unlock()

	metrics.LLMCost.WithLabelValues(model).Add(sc.Cost)
	logger.Debug("LLM cost recorded",
		zap.String("stage", stage),
		zap.String("model", model),
		zap.Float64("cost_usd", sc.Cost),
	)
	return sc
}

func (t *CostTracker) Stages() []StageCost {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StageCost, len(t.stages))
	copy(out, t.stages)
	return out
}

func (t *CostTracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0.0
	for _, s := range t.stages {
		total += s.Cost
	}
	return total
}
