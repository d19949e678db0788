package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coverletter-agent/backend/internal/generation"
	"github.com/coverletter-agent/backend/pkg/apperrors"
)

// NewGenerateCmd creates the 'generate' command: draft a letter for one job
// posting, then revise it interactively until it is saved or abandoned.
func NewGenerateCmd(opts *Options) *cobra.Command {
	var (
		jobFile       string
		req           generation.Request
		contextFile   string
		noInteractive bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a tailored cover letter for a job posting",
		Long: `Analyze a job posting, retrieve the most relevant parts of your documents
and stream a cover letter draft. Type feedback to revise the draft, 'save'
to write it to the output directory, or 'quit' to discard it.`,
		Example: `  coverletter generate --job posting.txt --company Acme --title "Engineering Manager"
  pbpaste | coverletter generate --job - --company Acme
  coverletter generate --job posting.html --instructions "Mention the relocation" --no-interactive`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd.InOrStdin(), jobFile)
			if err != nil {
				return err
			}
			req.JobDescription = text
			if jobFile == "-" {
				noInteractive = true
			}
			if contextFile != "" {
				extra, err := readInput(cmd.InOrStdin(), contextFile)
				if err != nil {
					return err
				}
				req.CustomContext = strings.TrimSpace(req.CustomContext + "\n\n" + extra)
			}

			app, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close()

			s := app.Orchestrator.NewSession(req)
			return runSession(cmd.Context(), s, app.Improver, newPrompter(cmd.InOrStdin(), cmd.OutOrStdout()), !noInteractive)
		},
	}

	cmd.Flags().StringVarP(&jobFile, "job", "j", "", "Job posting file (text or HTML), '-' for stdin (implies --no-interactive)")
	cmd.Flags().StringVarP(&req.CompanyName, "company", "c", "", "Company name")
	cmd.Flags().StringVarP(&req.JobTitle, "title", "t", "", "Job title")
	cmd.Flags().StringVar(&req.CustomContext, "context", "", "Extra context about you for this application")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "File with extra context")
	cmd.Flags().StringVarP(&req.Instructions, "instructions", "i", "", "Additional instructions for the writer")
	cmd.Flags().BoolVar(&noInteractive, "no-interactive", false, "Save the first draft without a revision loop")
	_ = cmd.MarkFlagRequired("job")

	return cmd
}

func readInput(stdin io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("%s is empty", path)
	}
	return text, nil
}

// runSession drafts, then loops over user input. An unanswered prompt (end
// of input) abandons the session.
func runSession(ctx context.Context, s *generation.Session, imp Improvements, p *prompter, interactive bool) error {
	fmt.Fprintln(p.out, "Analyzing the posting and drafting your letter...")
	for {
		err := stream(p.out, func() (<-chan generation.Event, error) { return s.Draft(ctx) })
		if err == nil {
			break
		}
		fmt.Fprintf(p.out, "\nDraft failed: %v\n", err)
		if !interactive || !apperrors.IsRetryable(err) || !p.confirm("Retry?") {
			s.Abandon()
			return err
		}
	}

	if !interactive {
		return save(ctx, s, imp, p, false)
	}

	for {
		input, ok := p.ask("\nFeedback, 'save', or 'quit': ")
		if !ok {
			s.Abandon()
			fmt.Fprintln(p.out, "Input closed, letter discarded.")
			return nil
		}

		switch strings.ToLower(input) {
		case "":
			continue
		case "save", "s":
			if err := save(ctx, s, imp, p, true); err != nil {
				if apperrors.IsRetryable(err) {
					continue
				}
				return err
			}
			return nil
		case "quit", "q", "exit":
			s.Abandon()
			fmt.Fprintln(p.out, "Letter discarded.")
			return nil
		case "show":
			fmt.Fprintf(p.out, "\n%s\n", s.Current())
			continue
		}

		err := stream(p.out, func() (<-chan generation.Event, error) { return s.Revise(ctx, input) })
		if err != nil {
			fmt.Fprintf(p.out, "\nRevision failed, keeping the previous draft: %v\n", err)
		}
	}
}

// stream prints one operation's events and returns its error.
func stream(out io.Writer, start func() (<-chan generation.Event, error)) error {
	events, err := start()
	if err != nil {
		return err
	}

	var streamed strings.Builder
	var result error
	for ev := range events {
		switch ev.Type {
		case generation.EventStage:
			switch ev.Stage {
			case "critique":
				fmt.Fprintln(out, "\n\nRefining the draft...")
			case "retrieve":
				fmt.Fprintf(out, "Looking for more on: %s\n", ev.Content)
			case "draft", "revise":
				fmt.Fprintln(out)
				streamed.Reset()
			}
		case generation.EventDelta:
			fmt.Fprint(out, ev.Content)
			streamed.WriteString(ev.Content)
		case generation.EventDone:
			if strings.TrimSpace(streamed.String()) != ev.Letter {
				fmt.Fprintf(out, "\n\n%s\n", ev.Letter)
			} else {
				fmt.Fprintln(out)
			}
		case generation.EventError:
			result = ev.Err
		}
	}
	return result
}

func save(ctx context.Context, s *generation.Session, imp Improvements, p *prompter, interactive bool) error {
	saved, err := s.Save(ctx)
	if err != nil {
		fmt.Fprintf(p.out, "Save failed, the draft is still here: %v\n", err)
		return err
	}

	fmt.Fprintf(p.out, "\nSaved to %s\n", saved.Path)
	for _, c := range saved.Costs {
		fmt.Fprintf(p.out, "  %-10s %-24s %6d in %6d out  $%.4f\n", c.Stage, c.Model, c.InputTokens, c.OutputTokens, c.Cost)
	}
	fmt.Fprintf(p.out, "  total cost: $%.4f\n", saved.TotalCost)

	if imp == nil || !interactive {
		return nil
	}
	if err := offerImprovements(ctx, imp, p, false); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(p.out, "Prompt improvement skipped: %v\n", err)
	}
	return nil
}
