// Package retrieval plans facet queries for a job posting and merges their
// vector hits into one scored candidate list.
package retrieval

import (
	"strings"

	"github.com/coverletter-agent/backend/internal/analysis"
	"github.com/coverletter-agent/backend/internal/posting"
)

const (
	FacetGeneral      = "general"
	FacetHighPriority = "high_priority"
	FacetTechnologies = "technologies"
	facetCategory     = "category:"
)

const maxQueryChars = 4000

type Query struct {
	Facet string `json:"facet"`
	Text  string `json:"text"`
}

// Planner is a pure function of its inputs.
type Planner struct{}

// Plan always yields the general, high-priority and technology facets (the
// latter two falling back to the general text), followed by one query per
// requirement category in first-seen order.
func (Planner) Plan(a analysis.JobAnalysis, jobText string) []Query {
	var all, high []string
	byCategory := make(map[string][]string)
	var categories []string

	for _, r := range a.Requirements {
		all = append(all, r.Text)
		if r.Priority == 1 {
			high = append(high, r.Text)
		}
		if _, ok := byCategory[r.Category]; !ok {
			categories = append(categories, r.Category)
		}
		byCategory[r.Category] = append(byCategory[r.Category], r.Text)
	}

	general := strings.Join(all, ". ")
	if general == "" {
		general = jobText
	}
	general = clip(posting.QueryText(general))

	queries := []Query{{Facet: FacetGeneral, Text: general}}

	if len(high) > 0 {
		queries = append(queries, Query{Facet: FacetHighPriority, Text: clip(posting.QueryText(strings.Join(high, ". ")))})
	} else {
		queries = append(queries, Query{Facet: FacetHighPriority, Text: general})
	}

	if len(a.KeyTechnologies) > 0 {
		queries = append(queries, Query{Facet: FacetTechnologies, Text: posting.QueryText(strings.Join(a.KeyTechnologies, ", "))})
	} else {
		queries = append(queries, Query{Facet: FacetTechnologies, Text: general})
	}

	for _, cat := range categories {
		queries = append(queries, Query{
			Facet: facetCategory + cat,
			Text:  clip(posting.QueryText(strings.Join(byCategory[cat], ". "))),
		})
	}
	return queries
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxQueryChars {
		return s
	}
	return string(r[:maxQueryChars])
}

// Distinct drops blank and repeated query texts, keeping the first facet.
func Distinct(queries []Query) []Query {
	seen := make(map[string]bool)
	var out []Query
	for _, q := range queries {
		if strings.TrimSpace(q.Text) == "" || seen[q.Text] {
			continue
		}
		seen[q.Text] = true
		out = append(out, q)
	}
	return out
}
