package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverletter-agent/backend/internal/llm"
	"github.com/coverletter-agent/backend/pkg/apperrors"
	"github.com/coverletter-agent/backend/pkg/config"
)

type fakeCompleter struct {
	reply string
	err   error
	calls int
	last  llm.ChatRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.reply}, nil
}

const wellFormed = `LEVEL: SENIOR_MANAGER
TYPE: INFRASTRUCTURE
REQUIREMENTS:
1. leadership: Lead a team of 8-12 engineers (priority: 1)
2. technical: Kubernetes and Go microservices (priority: 1)
3. cultural: Blameless postmortem culture (priority: 2)
TECHNOLOGIES: Kubernetes, Go, AWS, go
TEAM_SIZE_MENTIONED: yes
`

func role() config.RoleConfig {
	return config.RoleConfig{Model: "gpt-4o-mini", Temperature: 0.1, MaxTokens: 1000, TimeoutSec: 30, MaxAttempts: 3}
}

func TestAnalyzeParsesWellFormedResponse(t *testing.T) {
	fc := &fakeCompleter{reply: wellFormed}
	a := NewAnalyzer(fc, role())

	got, err := a.Analyze(context.Background(), "We need an SRE leader", "Senior Manager, SRE")
	require.NoError(t, err)

	assert.Equal(t, LevelSeniorManager, got.Level)
	assert.Equal(t, JobTypeInfrastructure, got.JobType)
	require.Len(t, got.Requirements, 3)
	assert.Equal(t, Requirement{Category: "leadership", Text: "Lead a team of 8-12 engineers", Priority: 1}, got.Requirements[0])
	assert.Equal(t, []string{"Kubernetes", "Go", "AWS"}, got.KeyTechnologies)
	assert.True(t, got.TeamSizeMentioned)

	assert.Equal(t, 1, fc.calls)
	assert.Equal(t, 1, fc.last.MaxAttempts)
	assert.InDelta(t, 0.1, fc.last.Temperature, 1e-6)
	assert.Contains(t, fc.last.Messages[1].Content, "Job Title: Senior Manager, SRE")
}

func TestAnalyzeBlankInputSkipsModel(t *testing.T) {
	fc := &fakeCompleter{reply: wellFormed}
	a := NewAnalyzer(fc, role())

	got, err := a.Analyze(context.Background(), "   \n\t", "")
	require.NoError(t, err)
	assert.Equal(t, Neutral(), got)
	assert.Zero(t, fc.calls)
}

func TestAnalyzeUpstreamFailureDegradesToNeutral(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("401 unauthorized")}
	a := NewAnalyzer(fc, role())

	got, err := a.Analyze(context.Background(), "Engineering Manager posting", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAnalysis)
	assert.Equal(t, Neutral(), got)
	assert.Equal(t, 1, fc.calls)
	assert.Contains(t, fc.last.Messages[1].Content, "Job Title: Not specified")
}

func TestAnalyzeTruncatesLongPostings(t *testing.T) {
	fc := &fakeCompleter{reply: wellFormed}
	a := NewAnalyzer(fc, role())

	posting := strings.Repeat("x", maxPostingChars) + "TAIL_MARKER"
	_, err := a.Analyze(context.Background(), posting, "")
	require.NoError(t, err)
	assert.NotContains(t, fc.last.Messages[1].Content, "TAIL_MARKER")
}

func TestAnalyzeGarbageIsDeterministicNeutral(t *testing.T) {
	fc := &fakeCompleter{reply: "I cannot help with that."}
	a := NewAnalyzer(fc, role())

	first, err := a.Analyze(context.Background(), "posting", "")
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), "posting", "")
	require.NoError(t, err)

	assert.Equal(t, Neutral(), first)
	assert.Equal(t, first, second)
}
