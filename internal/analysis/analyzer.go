package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/llm"
	"github.com/coverletter-agent/backend/internal/metrics"
	"github.com/coverletter-agent/backend/pkg/apperrors"
	"github.com/coverletter-agent/backend/pkg/config"
	"github.com/coverletter-agent/backend/pkg/logger"
)

const maxPostingChars = 4000

const systemPrompt = "You are a precise job posting analyzer. Extract requirements exactly as requested."

const promptTemplate = `Analyze this job posting and extract key information.

Job Title: %s

Job Description:
%s

Extract:
1. Job Level (IC_SENIOR, MANAGER, SENIOR_MANAGER, DIRECTOR_VP)
2. Job Type (STARTUP, ENTERPRISE, PRODUCT, INFRASTRUCTURE)
3. Top 5-7 key requirements categorized as:
   - leadership (team management, mentorship, cross-functional work)
   - technical (specific technologies, architectures, systems)
   - domain (industry knowledge, specific domains like healthcare, fintech)
   - cultural (values, work style, team culture)
4. Specific technologies mentioned (programming languages, tools, platforms)
5. Whether team size is mentioned

Respond in this EXACT format:

LEVEL: [one of: IC_SENIOR, MANAGER, SENIOR_MANAGER, DIRECTOR_VP]
TYPE: [one of: STARTUP, ENTERPRISE, PRODUCT, INFRASTRUCTURE]
REQUIREMENTS:
1. [category]: [description] (priority: [1-3])
2. [category]: [description] (priority: [1-3])
...
TECHNOLOGIES: [comma-separated list, or "none" if none mentioned]
TEAM_SIZE_MENTIONED: [yes/no]

Example:
LEVEL: MANAGER
TYPE: PRODUCT
REQUIREMENTS:
1. leadership: Lead team of 8-12 engineers (priority: 1)
2. technical: Experience with React and Java microservices (priority: 1)
3. leadership: Drive process improvements and best practices (priority: 2)
4. cultural: Build psychologically safe team environments (priority: 2)
5. domain: Experience in healthcare or regulated industries (priority: 3)
TECHNOLOGIES: React, Java, Docker, Kubernetes, AWS
TEAM_SIZE_MENTIONED: yes
`

type Analyzer struct {
	llm  llm.Completer
	role config.RoleConfig
}

// NewAnalyzer forces a single attempt regardless of the role config: a failed
// analysis degrades to the neutral result instead of being retried.
func NewAnalyzer(client llm.Completer, role config.RoleConfig) *Analyzer {
	role.MaxAttempts = 1
	if role.TimeoutSec <= 0 {
		role.TimeoutSec = 30
	}
	return &Analyzer{llm: client, role: role}
}

// Analyze always returns a usable analysis. The error is non-nil only when the
// model call itself failed, in which case the analysis is Neutral().
func (a *Analyzer) Analyze(ctx context.Context, jobText, jobTitle string) (JobAnalysis, error) {
	if strings.TrimSpace(jobText) == "" {
		logger.Info("Empty job posting, using neutral analysis")
		metrics.Fallback("neutral_analysis")
		return Neutral(), nil
	}

	title := strings.TrimSpace(jobTitle)
	if title == "" {
		title = "Not specified"
	}

	start := time.Now()
	req := llm.NewRequest(a.role,
		llm.System(systemPrompt),
		llm.User(fmt.Sprintf(promptTemplate, title, truncate(jobText, maxPostingChars))),
	)
	resp, err := a.llm.Complete(ctx, req)
	metrics.ObserveStage("analysis", time.Since(start).Seconds(), err)
	if err != nil {
		logger.Warn("Job analysis failed, using neutral analysis", zap.Error(err))
		metrics.Fallback("neutral_analysis")
		return Neutral(), apperrors.Analysis("analyze job posting", err)
	}

	result := Parse(resp.Content)
	logger.Info("Job posting analyzed",
		zap.String("level", string(result.Level)),
		zap.String("type", string(result.JobType)),
		zap.Int("requirements", len(result.Requirements)),
		zap.Strings("technologies", result.KeyTechnologies),
	)
	return result, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
