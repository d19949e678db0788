package generation

import (
	"strings"

	"github.com/jdkato/prose/v2"
)

var nounTags = map[string]bool{"NN": true, "NNS": true, "NNP": true, "NNPS": true}

// Nouns that show up in revision requests without naming any experience.
var feedbackNouns = map[string]bool{
	"letter": true, "cover": true, "paragraph": true, "paragraphs": true,
	"tone": true, "version": true, "sentence": true, "sentences": true,
	"word": true, "words": true, "example": true, "examples": true,
	"more": true, "less": true, "bit": true, "lot": true, "thing": true, "things": true,
	"experience": true, "detail": true, "details": true, "focus": true,
	"opening": true, "closing": true, "intro": true, "introduction": true, "conclusion": true,
}

// missingConcepts lists nouns from the feedback that the current context
// never mentions, in first-seen order. A tagging failure yields nothing.
func missingConcepts(feedbackText, context string) []string {
	if strings.TrimSpace(feedbackText) == "" {
		return nil
	}

	doc, err := prose.NewDocument(feedbackText,
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil
	}

	lowerContext := strings.ToLower(context)
	seen := make(map[string]bool)
	var out []string
	for _, tok := range doc.Tokens() {
		if !nounTags[tok.Tag] {
			continue
		}
		word := strings.ToLower(strings.Trim(tok.Text, ".,;:!?\"'()"))
		if len(word) < 3 || feedbackNouns[word] || seen[word] {
			continue
		}
		seen[word] = true
		if !strings.Contains(lowerContext, word) {
			out = append(out, word)
		}
	}
	return out
}
