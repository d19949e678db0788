package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// NewIngestCmd creates the 'ingest' command for indexing the document
// directory into the vector store.
func NewIngestCmd(opts *Options) *cobra.Command {
	var dir string
	var force bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index your documents for retrieval",
		Long: `Walk the data directory and index resumes, achievements, recommendations,
LinkedIn exports and other documents. Files whose content has not changed
since the last run are skipped unless --force is given.`,
		Example: `  coverletter ingest
  coverletter ingest --dir ~/career-docs --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer app.Close()

			if dir == "" {
				dir = app.Config.Ingestion.DataDir
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingesting %s...\n", dir)

			report, err := app.Processor.ProcessDir(cmd.Context(), dir, force)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, f := range report.Files {
				status := fmt.Sprintf("%d chunks", f.Chunks)
				if f.Unchanged {
					status = "unchanged"
				}
				fmt.Fprintf(out, "  %-48s %-18s %s\n", f.Path, f.Type, status)
			}

			failed := make([]string, 0, len(report.Failed))
			for path := range report.Failed {
				failed = append(failed, path)
			}
			sort.Strings(failed)
			for _, path := range failed {
				fmt.Fprintf(out, "  %-48s failed: %s\n", path, report.Failed[path])
			}

			fmt.Fprintf(out, "\n%d files, %d chunks, %d unchanged, %d skipped, %d failed\n",
				len(report.Files), report.Chunks, report.Unchanged, report.Skipped, len(report.Failed))
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Document directory (default from config)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Re-index files even when unchanged")

	return cmd
}
