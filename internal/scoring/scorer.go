// Package scoring re-ranks vector hits with a fixed set of named, additive
// relevance rules.
package scoring

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/coverletter-agent/backend/internal/analysis"
	"github.com/coverletter-agent/backend/internal/vector"
	"github.com/coverletter-agent/backend/pkg/config"
)

// Rule names, in evaluation order.
const (
	RuleBase               = "base"
	RuleSourceType         = "source_type"
	RuleRecency            = "recency"
	RulePercentage         = "metric_percentage"
	RuleTeamSize           = "metric_team_size"
	RuleLeadership         = "role_leadership"
	RuleManagement         = "role_management"
	RuleTechnical          = "role_technical"
	RuleTechnologyMatch    = "technology_match"
	RuleProcessImprovement = "process_improvement"
)

type Weights struct {
	DistanceCeiling    float64
	DistanceScale      float64
	Achievement        float64
	Resume             float64
	Recommendation     float64
	Recent             float64
	Previous           float64
	RecentYears        int
	PreviousYears      int
	Percentage         float64
	TeamSize           float64
	Leadership         float64
	Management         float64
	Technical          float64
	TechnologyMatch    float64
	ProcessImprovement float64
}

func DefaultWeights() Weights {
	return Weights{
		DistanceCeiling:    2.0,
		DistanceScale:      10,
		Achievement:        15,
		Resume:             10,
		Recommendation:     8,
		Recent:             12,
		Previous:           8,
		RecentYears:        2,
		PreviousYears:      5,
		Percentage:         10,
		TeamSize:           8,
		Leadership:         8,
		Management:         12,
		Technical:          5,
		TechnologyMatch:    7,
		ProcessImprovement: 6,
	}
}

func WeightsFromConfig(c config.ScoringConfig) Weights {
	return Weights{
		DistanceCeiling:    c.DistanceCeiling,
		DistanceScale:      c.DistanceScale,
		Achievement:        c.Achievement,
		Resume:             c.Resume,
		Recommendation:     c.Recommendation,
		Recent:             c.Recent,
		Previous:           c.Previous,
		RecentYears:        c.RecentYears,
		PreviousYears:      c.PreviousYears,
		Percentage:         c.Percentage,
		TeamSize:           c.TeamSize,
		Leadership:         c.Leadership,
		Management:         c.Management,
		Technical:          c.Technical,
		TechnologyMatch:    c.TechnologyMatch,
		ProcessImprovement: c.ProcessImprovement,
	}
}

type SubScore struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type ScoredChunk struct {
	Chunk     vector.Chunk `json:"chunk"`
	Distance  float64      `json:"distance"`
	Score     float64      `json:"score"`
	Breakdown []SubScore   `json:"breakdown"`
}

// SubScore returns the named contribution, 0 when the rule did not fire.
func (s ScoredChunk) SubScore(name string) float64 {
	for _, sub := range s.Breakdown {
		if sub.Name == name {
			return sub.Value
		}
	}
	return 0
}

var (
	percentageRe = regexp.MustCompile(`\d+%`)
	teamSizeRe   = regexp.MustCompile(`\d+\s+(?:person|people|engineer|member)`)
	cvRe         = regexp.MustCompile(`\bcv\b`)

	leadershipTerms = []string{
		"led team", "managed", "mentored", "coordinated",
		"cross-functional", "leadership", "guided", "coached",
	}
	managementTerms = []string{
		"hiring", "recruiting", "performance review", "roadmap", "stakeholder",
		"budget", "career growth", "1:1", "one-on-one", "promotion",
		"conflict resolution", "strategy", "okr", "kpi", "headcount",
		"direct report", "mentoring", "coaching",
	}
	technicalTerms = []string{
		"architected", "designed", "implemented", "built",
		"migrated", "optimized", "developed",
	}
	processTerms = []string{"reduced", "improved", "increased", "optimized", "streamlined"}
)

// input is the per-call view shared by all rules.
type input struct {
	chunk    vector.Chunk
	text     string
	lower    string
	source   string
	analysis analysis.JobAnalysis
}

type rule struct {
	name string
	eval func(s *Scorer, in input) float64
}

var rules = []rule{
	{RuleSourceType, (*Scorer).sourceType},
	{RuleRecency, (*Scorer).recency},
	{RulePercentage, (*Scorer).percentage},
	{RuleTeamSize, (*Scorer).teamSize},
	{RuleLeadership, (*Scorer).leadership},
	{RuleManagement, (*Scorer).management},
	{RuleTechnical, (*Scorer).technical},
	{RuleTechnologyMatch, (*Scorer).technologyMatch},
	{RuleProcessImprovement, (*Scorer).processImprovement},
}

// RuleNames lists every rule in evaluation order, base first.
func RuleNames() []string {
	names := []string{RuleBase}
	for _, r := range rules {
		names = append(names, r.name)
	}
	return names
}

// Scorer is stateless apart from its weights and the reference year used for
// recency, both fixed at construction.
type Scorer struct {
	w           Weights
	currentYear int
}

func NewScorer(w Weights, currentYear int) *Scorer {
	return &Scorer{w: w, currentYear: currentYear}
}

// Score is pure: equal inputs give equal scores and breakdowns. Rules that do
// not fire are left out of the breakdown.
func (s *Scorer) Score(chunk vector.Chunk, distance float64, a analysis.JobAnalysis) ScoredChunk {
	in := input{
		chunk:    chunk,
		text:     chunk.Text,
		lower:    strings.ToLower(chunk.Text),
		source:   strings.ToLower(chunk.Metadata.Source),
		analysis: a,
	}

	base := math.Max(0, s.w.DistanceCeiling-distance) * s.w.DistanceScale
	out := ScoredChunk{
		Chunk:     chunk,
		Distance:  distance,
		Score:     base,
		Breakdown: []SubScore{{Name: RuleBase, Value: base}},
	}

	for _, r := range rules {
		v := r.eval(s, in)
		if v == 0 {
			continue
		}
		out.Score += v
		out.Breakdown = append(out.Breakdown, SubScore{Name: r.name, Value: v})
	}
	return out
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// sourceType awards the single strongest matching document category.
func (s *Scorer) sourceType(in input) float64 {
	typ := in.chunk.Metadata.Type
	switch {
	case typ == vector.TypeAchievements || strings.Contains(in.source, "achievement"):
		return s.w.Achievement
	case typ == vector.TypeResume || strings.Contains(in.source, "resume") || cvRe.MatchString(in.source):
		return s.w.Resume
	case typ == vector.TypeRecommendation || strings.Contains(in.source, "recommendation"):
		return s.w.Recommendation
	}
	return 0
}

func (s *Scorer) recency(in input) float64 {
	year := in.chunk.Metadata.Year
	if year <= 0 {
		return 0
	}
	age := s.currentYear - year
	switch {
	case age <= s.w.RecentYears:
		return s.w.Recent
	case age <= s.w.PreviousYears:
		return s.w.Previous
	}
	return 0
}

func (s *Scorer) percentage(in input) float64 {
	if percentageRe.MatchString(in.text) {
		return s.w.Percentage
	}
	return 0
}

func (s *Scorer) teamSize(in input) float64 {
	if teamSizeRe.MatchString(in.lower) {
		return s.w.TeamSize
	}
	return 0
}

func (s *Scorer) leadership(in input) float64 {
	if in.analysis.Level.ManagerOrAbove() && containsAny(in.lower, leadershipTerms) {
		return s.w.Leadership
	}
	return 0
}

func (s *Scorer) management(in input) float64 {
	if in.analysis.Level.ManagerOrAbove() && containsAny(in.lower, managementTerms) {
		return s.w.Management
	}
	return 0
}

func (s *Scorer) technical(in input) float64 {
	if in.analysis.Level == analysis.LevelICSenior && containsAny(in.lower, technicalTerms) {
		return s.w.Technical
	}
	return 0
}

func (s *Scorer) technologyMatch(in input) float64 {
	total := 0.0
	for _, tech := range in.analysis.KeyTechnologies {
		if mentionsTechnology(in.lower, strings.ToLower(tech)) {
			total += s.w.TechnologyMatch
		}
	}
	return total
}

func (s *Scorer) processImprovement(in input) float64 {
	if containsAny(in.lower, processTerms) {
		return s.w.ProcessImprovement
	}
	return 0
}

// mentionsTechnology matches tech as a whole word where its ends are word
// characters, so "go" does not match "good" but "c++" still matches.
func mentionsTechnology(lower, tech string) bool {
	if tech == "" {
		return false
	}
	from := 0
	for {
		i := strings.Index(lower[from:], tech)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(tech)
		if boundaryOK(lower, start-1, tech[0]) && boundaryOK(lower, end, tech[len(tech)-1]) {
			return true
		}
		from = start + 1
	}
}

func boundaryOK(s string, at int, edge byte) bool {
	if !isWordByte(edge) || at < 0 || at >= len(s) {
		return true
	}
	return !isWordByte(s[at])
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// Sort orders by score descending, then earlier chunk position, then ID.
func Sort(chunks []ScoredChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.Metadata.ChunkIndex != b.Chunk.Metadata.ChunkIndex {
			return a.Chunk.Metadata.ChunkIndex < b.Chunk.Metadata.ChunkIndex
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}
