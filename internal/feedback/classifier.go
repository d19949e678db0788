package feedback

import (
	"strings"

	"github.com/jdkato/prose/v2"
)

var keywords = map[Category][]string{
	Leadership: {
		"leadership", "lead", "leading", "led", "leader", "manage", "managing",
		"management", "manager", "team", "teams", "mentor", "mentoring",
		"mentorship", "coaching", "hiring", "people", "stakeholders",
	},
	TechnicalDepth: {
		"technical", "technology", "technologies", "tech", "architecture",
		"architect", "code", "coding", "systems", "system", "stack",
		"engineering", "implementation", "infrastructure", "scalability", "depth",
	},
	Tone: {
		"tone", "formal", "informal", "casual", "professional", "friendly",
		"warm", "warmer", "enthusiastic", "enthusiasm", "confident", "humble",
		"voice", "stiff", "robotic", "conversational", "passionate",
	},
	Length: {
		"long", "longer", "short", "shorter", "shorten", "concise", "length",
		"wordy", "verbose", "brief", "trim", "words", "lengthy", "condense",
	},
	Specificity: {
		"specific", "specifics", "example", "examples", "metric", "metrics",
		"numbers", "detail", "details", "detailed", "concrete", "quantify",
		"quantified", "data", "results", "generic", "vague",
	},
}

var phrases = map[Category][]string{
	Leadership:  {"cross-functional", "one-on-one", "direct reports"},
	Length:      {"too long", "too short", "one page", "cut down"},
	Specificity: {"more detail", "real numbers", "call out"},
}

// Classifier maps free-text feedback to a category by keyword counts. It is
// deterministic and never fails.
type Classifier struct{}

func tokenize(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return strings.Fields(strings.ToLower(text))
	}
	toks := doc.Tokens()
	out := make([]string, 0, len(toks))
	for _, tok := range toks {
		out = append(out, strings.ToLower(tok.Text))
	}
	return out
}

// Scores returns the match count per category.
func (Classifier) Scores(text string) map[Category]int {
	scores := make(map[Category]int)
	for _, tok := range tokenize(text) {
		for cat, words := range keywords {
			for _, w := range words {
				if tok == w {
					scores[cat]++
				}
			}
		}
	}
	lower := strings.ToLower(text)
	for cat, ps := range phrases {
		for _, p := range ps {
			scores[cat] += strings.Count(lower, p)
		}
	}
	return scores
}

func (c Classifier) Classify(text string) Category {
	scores := c.Scores(text)
	best, bestScore := Other, 0
	for _, cat := range Categories() {
		if scores[cat] > bestScore {
			best, bestScore = cat, scores[cat]
		}
	}
	return best
}
