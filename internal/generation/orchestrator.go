// Package generation drives one cover letter from job posting to saved file:
// preparation, a streamed draft with an optional critique pass, feedback
// revisions and the final save.
package generation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/analysis"
	"github.com/coverletter-agent/backend/internal/assembly"
	"github.com/coverletter-agent/backend/internal/feedback"
	"github.com/coverletter-agent/backend/internal/llm"
	"github.com/coverletter-agent/backend/internal/metrics"
	"github.com/coverletter-agent/backend/internal/posting"
	"github.com/coverletter-agent/backend/internal/retrieval"
	"github.com/coverletter-agent/backend/internal/scoring"
	"github.com/coverletter-agent/backend/internal/storage/models"
	"github.com/coverletter-agent/backend/pkg/config"
	"github.com/coverletter-agent/backend/pkg/logger"
)

type JobAnalyzer interface {
	Analyze(ctx context.Context, jobText, jobTitle string) (analysis.JobAnalysis, error)
}

type ContextRetriever interface {
	Retrieve(ctx context.Context, a analysis.JobAnalysis, jobText string) ([]scoring.ScoredChunk, error)
	RetrieveQueries(ctx context.Context, queries []retrieval.Query, a analysis.JobAnalysis) ([]scoring.ScoredChunk, error)
}

type ApplicationStore interface {
	SaveApplication(ctx context.Context, app *models.Application) error
}

type FeedbackRecorder interface {
	RecordAll(entries []feedback.Entry) error
}

type LLM interface {
	llm.Completer
	llm.Streamer
}

type Deps struct {
	Analyzer       JobAnalyzer
	Retriever      ContextRetriever
	LLM            LLM
	Applications   ApplicationStore
	Feedback       FeedbackRecorder
	SystemPrompt   PromptSource
	CritiquePrompt PromptSource
}

type Options struct {
	Assembly      assembly.Config
	Generation    config.GenerationConfig
	Roles         config.LLMConfig
	CandidateName string
}

// OptionsFromConfig maps the loaded configuration onto orchestrator options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Assembly: assembly.Config{
			CharBudget:   cfg.Retrieval.MaxContextChars,
			MaxPerSource: cfg.Retrieval.MaxPerSource,
			MinScore:     cfg.Retrieval.MinScore,
		},
		Generation:    cfg.Generation,
		Roles:         cfg.LLM,
		CandidateName: cfg.Candidate.Name,
	}
}

type Orchestrator struct {
	deps       Deps
	opts       Options
	classifier feedback.Classifier
	now        func() time.Time
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if deps.SystemPrompt == nil {
		deps.SystemPrompt = StaticPrompt(DefaultSystemPrompt)
	}
	if deps.CritiquePrompt == nil {
		deps.CritiquePrompt = StaticPrompt(DefaultCritiquePrompt)
	}
	if opts.Generation.OutputDir == "" {
		opts.Generation.OutputDir = "./output"
	}
	return &Orchestrator{deps: deps, opts: opts, now: time.Now}
}

// Request describes one application. CustomContext is free-form candidate
// guidance; Instructions are appended to it as additional instructions.
type Request struct {
	JobDescription string `json:"job_description"`
	CompanyName    string `json:"company_name"`
	JobTitle       string `json:"job_title"`
	CustomContext  string `json:"custom_context,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
}

func (r Request) customContext() string {
	if r.Instructions == "" {
		return r.CustomContext
	}
	extra := "ADDITIONAL INSTRUCTIONS:\n" + r.Instructions
	if r.CustomContext == "" {
		return extra
	}
	return r.CustomContext + "\n\n" + extra
}

// NewSession starts a session. A pasted HTML posting is reduced to text and
// its title fills in a missing job title.
func (o *Orchestrator) NewSession(req Request) *Session {
	if posting.LooksLikeHTML(req.JobDescription) && strings.TrimSpace(req.JobTitle) == "" {
		req.JobTitle = posting.Title(req.JobDescription)
	}
	req.JobDescription = posting.Normalize(req.JobDescription)

	s := &Session{
		ID:        uuid.NewString(),
		req:       req,
		o:         o,
		state:     StateInit,
		costs:     llm.NewCostTracker(o.opts.Roles.Pricing),
		createdAt: o.now(),
	}
	s.touched = s.createdAt
	logger.Info("Generation session created",
		zap.String("session_id", s.ID),
		zap.String("company", req.CompanyName),
		zap.String("job_title", req.JobTitle),
	)
	return s
}

// systemTemplate reads the current system prompt, falling back to the
// built-in one when the source is unavailable.
func (o *Orchestrator) systemTemplate() string {
	tmpl, err := o.deps.SystemPrompt.Read()
	if err != nil || tmpl == "" {
		logger.Warn("System prompt unavailable, using built-in default", zap.Error(err))
		metrics.Fallback("default_system_prompt")
		return DefaultSystemPrompt
	}
	return tmpl
}

func (o *Orchestrator) critiqueTemplate() string {
	tmpl, err := o.deps.CritiquePrompt.Read()
	if err != nil || tmpl == "" {
		logger.Warn("Critique prompt unavailable, using built-in default", zap.Error(err))
		return DefaultCritiquePrompt
	}
	return tmpl
}
