package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/coverletter-agent/backend/internal/feedback"
	"github.com/coverletter-agent/backend/internal/improver"
)

type Improvements interface {
	Threshold() int
	Ready() []feedback.Category
	MaybeSuggest(ctx context.Context, category feedback.Category) (*improver.ProposedEdit, error)
	Apply(ctx context.Context, edit *improver.ProposedEdit) error
}

// NewImproveCmd creates the 'improve' command: show feedback counts and
// offer a system prompt edit for every category past the threshold.
func NewImproveCmd(opts *Options) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "improve",
		Short: "Review feedback patterns and improve the system prompt",
		Long: `Once the same kind of feedback has been given often enough, summarize it
into a proposed addition to the system prompt. Each proposal is shown as a
diff and applied only after confirmation. The previous prompt is backed up.`,
		Example: `  coverletter improve
  coverletter improve --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close()

			p := newPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			printCounts(p, app.Feedback.Counts(), app.Improver.Threshold())
			return offerImprovements(cmd.Context(), app.Improver, p, yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Apply every proposal without asking")

	return cmd
}

func printCounts(p *prompter, counts map[feedback.Category]int, threshold int) {
	cats := make([]feedback.Category, 0, len(counts))
	for c := range counts {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })

	fmt.Fprintf(p.out, "Feedback recorded (threshold %d):\n", threshold)
	if len(cats) == 0 {
		fmt.Fprintln(p.out, "  none yet")
	}
	for _, c := range cats {
		fmt.Fprintf(p.out, "  %-16s %d\n", c, counts[c])
	}
}

// offerImprovements proposes one edit per ready category. The first error
// stops the run; edits already applied stay applied.
func offerImprovements(ctx context.Context, imp Improvements, p *prompter, yes bool) error {
	ready := imp.Ready()
	if len(ready) == 0 {
		return nil
	}

	for _, category := range ready {
		edit, err := imp.MaybeSuggest(ctx, category)
		if err != nil {
			return err
		}
		if edit == nil {
			continue
		}

		fmt.Fprintf(p.out, "\nYou gave %d pieces of %s feedback. Proposed system prompt addition:\n\n%s\n", edit.Count, category, edit.Suggestion)
		if edit.Explanation != "" {
			fmt.Fprintf(p.out, "\nWhy: %s\n", edit.Explanation)
		}
		if edit.Diff != "" {
			fmt.Fprintf(p.out, "\n%s\n", edit.Diff)
		}

		if !yes && !p.confirm("Apply this change?") {
			fmt.Fprintln(p.out, "Skipped.")
			continue
		}
		if err := imp.Apply(ctx, edit); err != nil {
			return err
		}
		fmt.Fprintf(p.out, "Applied. %s feedback has been reset.\n", category)
	}
	return nil
}
