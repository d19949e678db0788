// Package assembly builds the budget-limited, source-diverse context block
// handed to the generator.
package assembly

import (
	"fmt"
	"unicode/utf8"

	"github.com/coverletter-agent/backend/internal/scoring"
)

const Separator = "\n\n---\n\n"

type Config struct {
	// CharBudget bounds the rendered output, headers and separators included.
	CharBudget int
	// MaxPerSource caps accepted chunks per source; <= 0 disables the cap.
	MaxPerSource int
	// MinScore is the relevance floor; chunks below it are never used.
	MinScore float64
}

type Result struct {
	Text string
	// Used lists accepted chunks in output order.
	Used []scoring.ScoredChunk
	// Skipped counts chunks above the floor that were rejected for budget or
	// diversity.
	Skipped int
}

func (r Result) Empty() bool { return len(r.Used) == 0 }

// Sources lists distinct sources in first-use order.
func (r Result) Sources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range r.Used {
		src := c.Chunk.Metadata.Source
		if !seen[src] {
			seen[src] = true
			out = append(out, src)
		}
	}
	return out
}

func render(c scoring.ScoredChunk) string {
	source := c.Chunk.Metadata.Source
	if source == "" {
		source = "Unknown"
	}
	return fmt.Sprintf("[Source: %s]\n%s", source, c.Chunk.Text)
}

// Assemble greedily accepts chunks in score order (scoring.Sort). A chunk
// that would push the output over budget is skipped and later, smaller
// chunks may still fit. The input slice is not modified.
func Assemble(scored []scoring.ScoredChunk, cfg Config) Result {
	var res Result
	if len(scored) == 0 || cfg.CharBudget <= 0 {
		return res
	}

	sorted := append([]scoring.ScoredChunk(nil), scored...)
	scoring.Sort(sorted)

	perSource := make(map[string]int)
	var text []byte
	used := 0

	for _, c := range sorted {
		if c.Score < cfg.MinScore {
			continue
		}
		src := c.Chunk.Metadata.Source
		if cfg.MaxPerSource > 0 && perSource[src] >= cfg.MaxPerSource {
			res.Skipped++
			continue
		}

		entry := render(c)
		cost := utf8.RuneCountInString(entry)
		if used > 0 {
			cost += utf8.RuneCountInString(Separator)
		}
		if used+cost > cfg.CharBudget {
			res.Skipped++
			continue
		}

		if used > 0 {
			text = append(text, Separator...)
		}
		text = append(text, entry...)
		used += cost
		perSource[src]++
		res.Used = append(res.Used, c)
	}

	res.Text = string(text)
	return res
}
