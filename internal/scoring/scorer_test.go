package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverletter-agent/backend/internal/analysis"
	"github.com/coverletter-agent/backend/internal/vector"
)

func newScorer() *Scorer {
	return NewScorer(DefaultWeights(), 2025)
}

func chunk(text, typ, source string, year int) vector.Chunk {
	return vector.Chunk{
		ID:       source + "#0",
		Text:     text,
		Metadata: vector.Metadata{Source: source, Type: typ, Year: year},
	}
}

func manager() analysis.JobAnalysis {
	a := analysis.Neutral()
	a.Level = analysis.LevelManager
	return a
}

func TestAchievementOutranksOldResume(t *testing.T) {
	s := newScorer()
	a := manager()

	strong := s.Score(chunk("led team of 8 engineers, 95% test coverage", vector.TypeAchievements, "achievements.md", 2024), 0.8, a)
	weak := s.Score(chunk("software engineer", vector.TypeResume, "resume.pdf", 2015), 0.8, a)

	assert.Greater(t, strong.Score, weak.Score)
	assert.Equal(t, 15.0, strong.SubScore(RuleSourceType))
	assert.Equal(t, 12.0, strong.SubScore(RuleRecency))
	assert.Equal(t, 10.0, strong.SubScore(RulePercentage))
	assert.Equal(t, 8.0, strong.SubScore(RuleTeamSize))
	assert.Equal(t, 8.0, strong.SubScore(RuleLeadership))
	assert.Zero(t, weak.SubScore(RuleRecency))
}

func TestScoreIsPure(t *testing.T) {
	s := newScorer()
	a := manager()
	a.KeyTechnologies = []string{"Go", "Kubernetes"}
	c := chunk("Built Go services on Kubernetes, reduced latency 40%", vector.TypeResume, "resume.pdf", 2023)

	first := s.Score(c, 0.5, a)
	second := s.Score(c, 0.5, a)
	assert.Equal(t, first, second)
}

func TestBaseScoreFromDistance(t *testing.T) {
	s := newScorer()
	a := analysis.Neutral()
	c := chunk("plain", vector.TypeDocument, "notes.txt", 0)

	assert.InDelta(t, 20.0, s.Score(c, 0, a).Score, 1e-9)
	assert.InDelta(t, 5.0, s.Score(c, 1.5, a).Score, 1e-9)
	assert.InDelta(t, 0.0, s.Score(c, 2.7, a).Score, 1e-9)

	near := s.Score(c, 0.2, a)
	far := s.Score(c, 1.2, a)
	assert.Greater(t, near.Score, far.Score)
}

func TestSourceTypeIsExclusive(t *testing.T) {
	s := newScorer()
	a := analysis.Neutral()

	both := s.Score(chunk("x", vector.TypeAchievements, "resume_achievements.txt", 0), 2, a)
	assert.Equal(t, 15.0, both.SubScore(RuleSourceType))

	cv := s.Score(chunk("x", vector.TypeDocument, "my cv 2024.pdf", 0), 2, a)
	assert.Equal(t, 10.0, cv.SubScore(RuleSourceType))

	notCV := s.Score(chunk("x", vector.TypeDocument, "cvs_receipts.txt", 0), 2, a)
	assert.Zero(t, notCV.SubScore(RuleSourceType))

	rec := s.Score(chunk("x", vector.TypeRecommendation, "Recommendations.csv", 0), 2, a)
	assert.Equal(t, 8.0, rec.SubScore(RuleSourceType))
}

func TestRecencyWindows(t *testing.T) {
	s := newScorer()
	a := analysis.Neutral()

	cases := map[int]float64{2025: 12, 2023: 12, 2022: 8, 2020: 8, 2019: 0, 0: 0}
	for year, want := range cases {
		got := s.Score(chunk("x", vector.TypeDocument, "doc.txt", year), 2, a)
		assert.Equal(t, want, got.SubScore(RuleRecency), "year %d", year)
	}
}

func TestRoleRulesFollowLevel(t *testing.T) {
	s := newScorer()
	text := "Managed hiring and roadmap; architected the billing platform"

	mgr := s.Score(chunk(text, vector.TypeDocument, "d.txt", 0), 2, manager())
	assert.Equal(t, 8.0, mgr.SubScore(RuleLeadership))
	assert.Equal(t, 12.0, mgr.SubScore(RuleManagement))
	assert.Zero(t, mgr.SubScore(RuleTechnical))

	ic := analysis.Neutral()
	ic.Level = analysis.LevelICSenior
	eng := s.Score(chunk(text, vector.TypeDocument, "d.txt", 0), 2, ic)
	assert.Zero(t, eng.SubScore(RuleLeadership))
	assert.Zero(t, eng.SubScore(RuleManagement))
	assert.Equal(t, 5.0, eng.SubScore(RuleTechnical))
}

func TestTechnologyMatchPerTechnologyWithWordBoundaries(t *testing.T) {
	s := newScorer()
	a := analysis.Neutral()
	a.KeyTechnologies = []string{"Go", "C++", "AWS", "Rust"}

	got := s.Score(chunk("Good engineer. Wrote Go and C++ on AWS.", vector.TypeDocument, "d.txt", 0), 2, a)
	assert.Equal(t, 21.0, got.SubScore(RuleTechnologyMatch))

	none := s.Score(chunk("A good algorithm", vector.TypeDocument, "d.txt", 0), 2, a)
	assert.Zero(t, none.SubScore(RuleTechnologyMatch))
}

func TestProcessImprovementOnce(t *testing.T) {
	s := newScorer()
	got := s.Score(chunk("reduced cost, improved uptime, streamlined deploys", vector.TypeDocument, "d.txt", 0), 2, analysis.Neutral())
	assert.Equal(t, 6.0, got.SubScore(RuleProcessImprovement))
}

func TestBreakdownSumsToScore(t *testing.T) {
	s := newScorer()
	a := manager()
	a.KeyTechnologies = []string{"Kafka"}
	got := s.Score(chunk("Led team of 5 people, cut Kafka lag 30%, budget owner", vector.TypeAchievements, "achievements.md", 2024), 0.4, a)

	sum := 0.0
	for _, sub := range got.Breakdown {
		sum += sub.Value
	}
	assert.InDelta(t, got.Score, sum, 1e-9)
	require.NotEmpty(t, got.Breakdown)
	assert.Equal(t, RuleBase, got.Breakdown[0].Name)
}

func TestCustomWeights(t *testing.T) {
	w := DefaultWeights()
	w.Achievement = 100
	s := NewScorer(w, 2025)
	got := s.Score(chunk("x", vector.TypeAchievements, "a.md", 0), 2, analysis.Neutral())
	assert.Equal(t, 100.0, got.Score)
}

func TestSortTieBreaks(t *testing.T) {
	mk := func(id string, score float64, idx int) ScoredChunk {
		return ScoredChunk{Chunk: vector.Chunk{ID: id, Metadata: vector.Metadata{ChunkIndex: idx}}, Score: score}
	}
	list := []ScoredChunk{mk("b", 10, 2), mk("a", 10, 2), mk("c", 10, 0), mk("d", 30, 5)}
	Sort(list)

	var ids []string
	for _, c := range list {
		ids = append(ids, c.Chunk.ID)
	}
	assert.Equal(t, []string{"d", "c", "a", "b"}, ids)
}

func TestRuleNamesEnumerable(t *testing.T) {
	names := RuleNames()
	assert.Equal(t, RuleBase, names[0])
	assert.Len(t, names, 10)
}
