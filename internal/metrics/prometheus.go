package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverletter_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	StageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverletter_stage_total",
			Help: "Pipeline stage runs by outcome",
		},
		[]string{"stage", "status"},
	)

	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverletter_fallbacks_total",
			Help: "Degraded-path executions (neutral analysis, empty context, ...)",
		},
		[]string{"kind"},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coverletter_retrieved_chunks",
			Help:    "Distinct chunks retrieved per request after merging",
			Buckets: []float64{0, 1, 5, 10, 20, 40, 80, 160},
		},
	)

	ContextChars = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coverletter_context_chars",
			Help:    "Size of the assembled context in characters",
			Buckets: []float64{0, 1000, 2500, 5000, 10000, 15000, 20000},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverletter_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	LLMCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverletter_llm_cost_usd",
			Help: "Estimated LLM API cost in USD",
		},
		[]string{"model"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverletter_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverletter_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverletter_documents_processed_total",
			Help: "Total source documents ingested",
		},
		[]string{"type"},
	)

	FeedbackRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverletter_feedback_recorded_total",
			Help: "Feedback entries recorded by category",
		},
		[]string{"category"},
	)

	PromptImprovements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverletter_prompt_improvements_total",
			Help: "System prompt improvements by outcome",
		},
		[]string{"category", "status"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coverletter_active_sessions",
			Help: "Sessions currently held by the API registry",
		},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			StageDuration,
			StageTotal,
			FallbacksTotal,
			RetrievedChunks,
			ContextChars,
			LLMTokensUsed,
			LLMCost,
			CacheHits,
			CacheMisses,
			DocumentsProcessed,
			FeedbackRecorded,
			PromptImprovements,
			ActiveSessions,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveStage records the outcome and duration of one pipeline stage.
func ObserveStage(stage string, seconds float64, err error) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
	StageTotal.WithLabelValues(stage, status(err)).Inc()
}

func Fallback(kind string) {
	FallbacksTotal.WithLabelValues(kind).Inc()
}

func Tokens(model string, prompt, completion int) {
	LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(prompt))
	LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(completion))
}

func Improvement(category string, err error) {
	PromptImprovements.WithLabelValues(category, status(err)).Inc()
}
