package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseUnknownValuesFallBackPerField(t *testing.T) {
	got := Parse("LEVEL: WIZARD\nTYPE: product\nTECHNOLOGIES: none\nTEAM_SIZE_MENTIONED: no")

	assert.Equal(t, LevelManager, got.Level)
	assert.Equal(t, JobTypeProduct, got.JobType)
	assert.Empty(t, got.KeyTechnologies)
	assert.Empty(t, got.Requirements)
	assert.False(t, got.TeamSizeMentioned)
}

func TestParseClampsPriority(t *testing.T) {
	got := Parse("REQUIREMENTS:\n1. domain: Fintech background (priority: 7)\n2. technical: Rust (priority: 0)\nTECHNOLOGIES: Rust")

	assert.Len(t, got.Requirements, 2)
	assert.Equal(t, 3, got.Requirements[0].Priority)
	assert.Equal(t, 1, got.Requirements[1].Priority)
	assert.Equal(t, []string{"Rust"}, got.KeyTechnologies)
}

func TestParseIgnoresTypeInsideOtherWords(t *testing.T) {
	got := Parse("JOB_TYPE: STARTUP\nLEVEL: IC_SENIOR")
	assert.Equal(t, JobTypeEnterprise, got.JobType)
	assert.Equal(t, LevelICSenior, got.Level)
}

func TestLevelManagerOrAbove(t *testing.T) {
	assert.False(t, LevelICSenior.ManagerOrAbove())
	assert.True(t, LevelManager.ManagerOrAbove())
	assert.True(t, LevelDirectorVP.ManagerOrAbove())
}

func TestSummaryMentionsRequirements(t *testing.T) {
	a := Neutral()
	a.Requirements = []Requirement{{Category: "technical", Text: "Go", Priority: 1}}
	a.KeyTechnologies = []string{"Go"}

	s := a.Summary()
	assert.Contains(t, s, "Level: MANAGER")
	assert.Contains(t, s, "[technical, priority 1] Go")
	assert.Contains(t, s, "Technologies: Go")
}
