// Package analysis turns an unstructured job posting into the structured
// signals used for retrieval and scoring.
package analysis

import (
	"fmt"
	"strings"
)

type Level string

const (
	LevelICSenior      Level = "IC_SENIOR"
	LevelManager       Level = "MANAGER"
	LevelSeniorManager Level = "SENIOR_MANAGER"
	LevelDirectorVP    Level = "DIRECTOR_VP"
)

// ManagerOrAbove reports whether the level is a people-management level.
func (l Level) ManagerOrAbove() bool {
	return l == LevelManager || l == LevelSeniorManager || l == LevelDirectorVP
}

func parseLevel(s string) (Level, bool) {
	switch l := Level(strings.ToUpper(s)); l {
	case LevelICSenior, LevelManager, LevelSeniorManager, LevelDirectorVP:
		return l, true
	}
	return "", false
}

type JobType string

const (
	JobTypeStartup        JobType = "STARTUP"
	JobTypeEnterprise     JobType = "ENTERPRISE"
	JobTypeProduct        JobType = "PRODUCT"
	JobTypeInfrastructure JobType = "INFRASTRUCTURE"
)

func parseJobType(s string) (JobType, bool) {
	switch t := JobType(strings.ToUpper(s)); t {
	case JobTypeStartup, JobTypeEnterprise, JobTypeProduct, JobTypeInfrastructure:
		return t, true
	}
	return "", false
}

// Requirement categories.
const (
	CategoryLeadership = "leadership"
	CategoryTechnical  = "technical"
	CategoryDomain     = "domain"
	CategoryCultural   = "cultural"
)

type Requirement struct {
	Category string `json:"category"`
	Text     string `json:"text"`
	// Priority 1 is highest, 3 lowest.
	Priority int `json:"priority"`
}

type JobAnalysis struct {
	Level             Level         `json:"level"`
	JobType           JobType       `json:"job_type"`
	Requirements      []Requirement `json:"requirements"`
	KeyTechnologies   []string      `json:"key_technologies"`
	TeamSizeMentioned bool          `json:"team_size_mentioned"`
}

// Neutral is the analysis used when a posting carries no usable signal.
func Neutral() JobAnalysis {
	return JobAnalysis{
		Level:           LevelManager,
		JobType:         JobTypeEnterprise,
		Requirements:    []Requirement{},
		KeyTechnologies: []string{},
	}
}

// Summary renders the analysis for inclusion in a generation prompt.
func (a JobAnalysis) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Level: %s\n", a.Level)
	fmt.Fprintf(&b, "Type: %s\n", a.JobType)
	if len(a.Requirements) > 0 {
		b.WriteString("Key requirements:\n")
		for _, r := range a.Requirements {
			fmt.Fprintf(&b, "- [%s, priority %d] %s\n", r.Category, r.Priority, r.Text)
		}
	}
	if len(a.KeyTechnologies) > 0 {
		fmt.Fprintf(&b, "Technologies: %s\n", strings.Join(a.KeyTechnologies, ", "))
	}
	if a.TeamSizeMentioned {
		b.WriteString("Team size is mentioned in the posting.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
