// Package feedback classifies revision feedback and keeps a durable,
// per-category history of it across sessions.
package feedback

import (
	"strings"
	"time"
)

type Category string

const (
	Leadership     Category = "leadership"
	TechnicalDepth Category = "technical_depth"
	Tone           Category = "tone"
	Length         Category = "length"
	Specificity    Category = "specificity"
	Other          Category = "other"
)

// Categories is the closed category set in canonical order. Classifier ties
// resolve to the earlier entry.
func Categories() []Category {
	return []Category{Leadership, TechnicalDepth, Tone, Length, Specificity, Other}
}

// ParseCategory maps s onto the closed set; anything unknown is Other.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c
		}
	}
	return Other
}

func (c Category) Valid() bool {
	return ParseCategory(string(c)) == c
}

type Entry struct {
	Category     Category  `json:"category"`
	RawText      string    `json:"raw_text"`
	EnhancedText string    `json:"enhanced_text,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Company      string    `json:"company,omitempty"`
	JobTitle     string    `json:"job_title,omitempty"`
}

// Text prefers the enhanced instruction over the raw feedback.
func (e Entry) Text() string {
	if e.EnhancedText != "" {
		return e.EnhancedText
	}
	return e.RawText
}

// History maps each category to its entries in insertion order.
type History map[Category][]Entry

func (h History) clone() History {
	out := make(History, len(h))
	for k, v := range h {
		out[k] = append([]Entry(nil), v...)
	}
	return out
}

type Option func(*Entry)

func WithEnhanced(text string) Option {
	return func(e *Entry) { e.EnhancedText = text }
}

func WithJob(company, jobTitle string) Option {
	return func(e *Entry) {
		e.Company = company
		e.JobTitle = jobTitle
	}
}

func WithTimestamp(t time.Time) Option {
	return func(e *Entry) { e.Timestamp = t }
}
