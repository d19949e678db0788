package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewHistoryCmd creates the 'history' command for listing saved letters.
func NewHistoryCmd(opts *Options) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"ls"},
		Short:   "List saved cover letters",
		Example: `  coverletter history
  coverletter history --limit 5 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close()

			apps, err := app.DB.ListApplications(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(apps)
			}

			if len(apps) == 0 {
				fmt.Fprintln(out, "No saved cover letters yet.")
				return nil
			}
			for _, a := range apps {
				fmt.Fprintf(out, "%s  %-24s %-32s %d revisions  $%.4f\n    %s\n",
					a.CreatedAt.Format("2006-01-02"), a.Company, a.JobTitle, a.Revisions, a.TotalCost, a.OutputPath)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of letters to list")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	return cmd
}
