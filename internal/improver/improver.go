// Package improver turns recurring feedback into permanent, additive system
// prompt edits.
package improver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/feedback"
	"github.com/coverletter-agent/backend/internal/llm"
	"github.com/coverletter-agent/backend/internal/metrics"
	"github.com/coverletter-agent/backend/pkg/apperrors"
	"github.com/coverletter-agent/backend/pkg/config"
	"github.com/coverletter-agent/backend/pkg/logger"
)

const BlockMarker = "# AUTO-GENERATED IMPROVEMENT (based on user feedback patterns)"

const (
	defaultThreshold = 3
	maxExamples      = 5
	promptExcerpt    = 2000
)

var ErrEmptySuggestion = errors.New("model returned no suggestion")

type FeedbackSource interface {
	Count(category feedback.Category) int
	Entries(category feedback.Category) []feedback.Entry
	Clear(category feedback.Category) error
}

// ProposedEdit is a suggested prompt change. It is never applied on its own.
type ProposedEdit struct {
	Category    feedback.Category `json:"category"`
	Count       int               `json:"count"`
	Suggestion  string            `json:"suggestion"`
	Placement   string            `json:"placement,omitempty"`
	Explanation string            `json:"explanation,omitempty"`
	DataNote    string            `json:"data_note,omitempty"`
	Block       string            `json:"block"`
	Original    string            `json:"-"`
	Improved    string            `json:"-"`
	Diff        string            `json:"diff"`
}

type Improver struct {
	llm       llm.Completer
	role      config.RoleConfig
	feedback  FeedbackSource
	prompts   PromptStore
	threshold int
}

func New(client llm.Completer, role config.RoleConfig, fb FeedbackSource, prompts PromptStore, threshold int) *Improver {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Improver{llm: client, role: role, feedback: fb, prompts: prompts, threshold: threshold}
}

func (i *Improver) Threshold() int { return i.threshold }

// Ready lists the categories whose feedback count has reached the threshold,
// in canonical order.
func (i *Improver) Ready() []feedback.Category {
	var out []feedback.Category
	for _, cat := range feedback.Categories() {
		if cat != feedback.Other && i.feedback.Count(cat) >= i.threshold {
			out = append(out, cat)
		}
	}
	return out
}

// MaybeSuggest returns nil without calling the model until the category has
// reached the threshold. Once it has, any failure to produce a suggestion is
// an error.
func (i *Improver) MaybeSuggest(ctx context.Context, category feedback.Category) (*ProposedEdit, error) {
	count := i.feedback.Count(category)
	if category == feedback.Other || count < i.threshold {
		return nil, nil
	}

	current, err := i.prompts.Read()
	if err != nil {
		return nil, apperrors.Persistence("read system prompt", err)
	}

	entries := i.feedback.Entries(category)
	if len(entries) > maxExamples {
		entries = entries[len(entries)-maxExamples:]
	}

	start := time.Now()
	resp, err := i.llm.Complete(ctx, llm.NewRequest(i.role,
		llm.System("You are an AI system improvement assistant."),
		llm.User(buildPrompt(category, count, entries, current)),
	))
	metrics.ObserveStage("improvement_suggest", time.Since(start).Seconds(), err)
	if err != nil {
		logger.Warn("Improvement suggestion failed", zap.String("category", string(category)), zap.Error(err))
		return nil, apperrors.Generation("suggest prompt improvement", err)
	}

	edit := parseSuggestion(resp.Content)
	if edit.Suggestion == "" {
		return nil, apperrors.Generation("suggest prompt improvement", ErrEmptySuggestion)
	}

	edit.Category = category
	edit.Count = count
	edit.Block = block(edit.Suggestion)
	edit.Original = current
	edit.Improved = appendBlock(current, edit.Block)
	edit.Diff = unifiedDiff(edit.Original, edit.Improved)

	logger.Info("Prompt improvement suggested",
		zap.String("category", string(category)),
		zap.Int("count", count),
		zap.String("placement", edit.Placement),
	)
	return edit, nil
}

// Apply backs up the prompt, writes it with the edit's block appended, and
// only after both succeed clears the category's feedback. The block is
// appended to the prompt as it is now, so edits applied in sequence compose.
// Applying the same edit again only retries the clear.
func (i *Improver) Apply(ctx context.Context, edit *ProposedEdit) (err error) {
	if edit == nil || edit.Block == "" {
		return errors.New("nothing to apply")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() { metrics.Improvement(string(edit.Category), err) }()

	current, err := i.prompts.Read()
	if err != nil {
		return apperrors.Persistence("read system prompt", err)
	}

	// A retry after a failed Clear finds the block already written.
	if hasBlock(current, edit.Block) {
		logger.Warn("System prompt already carries this edit; clearing feedback only",
			zap.String("category", string(edit.Category)),
		)
		return i.feedback.Clear(edit.Category)
	}

	backup, err := i.prompts.Backup(current)
	if err != nil {
		logger.Error("System prompt backup failed", zap.Error(err))
		return apperrors.Persistence("back up system prompt", err)
	}

	if err := i.prompts.Write(appendBlock(current, edit.Block)); err != nil {
		logger.Error("System prompt write failed", zap.Error(err))
		return apperrors.Persistence("write system prompt", err)
	}

	if err := i.feedback.Clear(edit.Category); err != nil {
		return err
	}

	logger.Info("System prompt improved",
		zap.String("category", string(edit.Category)),
		zap.String("backup", backup),
	)
	return nil
}

func hasBlock(prompt, block string) bool {
	const ws = " \t\r\n"
	return strings.HasSuffix(strings.TrimRight(prompt, ws), strings.TrimRight(block, ws))
}

func block(suggestion string) string {
	return fmt.Sprintf("\n\n%s\n%s\n", BlockMarker, strings.TrimSpace(suggestion))
}

func appendBlock(prompt, block string) string {
	return strings.TrimRight(prompt, " \t\r\n") + block
}

func unifiedDiff(a, b string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "current_system_prompt.txt",
		ToFile:   "improved_system_prompt.txt",
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}

func buildPrompt(category feedback.Category, count int, entries []feedback.Entry, current string) string {
	var examples strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&examples, "- %q\n", e.Text())
	}

	excerpt := current
	if r := []rune(excerpt); len(r) > promptExcerpt {
		excerpt = string(r[:promptExcerpt]) + "..."
	}

	return fmt.Sprintf(`You are helping improve a cover letter generation system based on recurring user feedback patterns.
RECURRING ISSUE DETECTED:
Category: %s
Occurrences: %d times
Example user revision requests:
%s
CURRENT SYSTEM PROMPT (excerpt):
%s

The user keeps having to manually request these changes. Your task: Suggest a modification
to the system prompt that would make the generator automatically address this issue
in future cover letters, so the user never has to ask for this again.

You should analyze:
1. WHY does the user keep asking for this?
2. What's missing from the current system prompt?
3. What specific instruction would prevent this recurring feedback?
4. Could this also indicate missing data in the user's knowledge base?

Provide your suggestion in this format:
SUGGESTION: [Your suggested text to add/modify in the system prompt]
PLACEMENT: [Where to add it: "After introduction" / "In requirements section" / "At end"]
EXPLANATION: [Brief explanation: why this recurring feedback happens and how this change fixes it]
DATA_NOTE: [Optional: If this suggests missing data, note what data the user should add]

Requirements:
1. Be specific and actionable
2. Make the instruction clear enough that it prevents future occurrences
3. Keep tone consistent with existing prompt
4. Focus on ONE clear improvement
`, category, count, examples.String(), excerpt)
}

var fieldRe = regexp.MustCompile(`(?im)^[ \t]*(SUGGESTION|PLACEMENT|EXPLANATION|DATA_NOTE):[ \t]*`)

// parseSuggestion splits the labelled response. Each field runs until the next
// label at the start of a line.
func parseSuggestion(text string) *ProposedEdit {
	edit := &ProposedEdit{}
	locs := fieldRe.FindAllStringSubmatchIndex(text, -1)
	for n, loc := range locs {
		end := len(text)
		if n+1 < len(locs) {
			end = locs[n+1][0]
		}
		value := strings.TrimSpace(text[loc[1]:end])
		switch strings.ToUpper(text[loc[2]:loc[3]]) {
		case "SUGGESTION":
			if edit.Suggestion == "" {
				edit.Suggestion = value
			}
		case "PLACEMENT":
			if edit.Placement == "" {
				edit.Placement = firstLine(value)
			}
		case "EXPLANATION":
			if edit.Explanation == "" {
				edit.Explanation = value
			}
		case "DATA_NOTE":
			if edit.DataNote == "" {
				edit.DataNote = value
			}
		}
	}
	return edit
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
