/*
Package main is the entry point for the coverletter CLI.

coverletter writes cover letters grounded in your own documents: it indexes
resumes, achievement logs and recommendations, retrieves what matters for a
given posting, drafts a letter and learns from the feedback you give.

Usage:

	coverletter [command]

Available Commands:

	ingest      Index your documents for retrieval
	generate    Generate a tailored cover letter for a job posting
	improve     Review feedback patterns and improve the system prompt
	history     List saved cover letters
	serve       Run the HTTP API server
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coverletter-agent/backend/internal/cli"
	"github.com/coverletter-agent/backend/pkg/logger"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "none"
)

func newRootCmd(opts *cli.Options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coverletter",
		Short: "Tailored cover letters from your own documents",
		Long: `coverletter analyzes a job posting, retrieves the most relevant evidence from
your indexed documents and drafts a cover letter you can revise with plain
feedback. Recurring feedback is turned into improvements to the system prompt.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Config file (default ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Log at the configured level instead of warnings only")

	rootCmd.AddCommand(cli.NewIngestCmd(opts))
	rootCmd.AddCommand(cli.NewGenerateCmd(opts))
	rootCmd.AddCommand(cli.NewImproveCmd(opts))
	rootCmd.AddCommand(cli.NewHistoryCmd(opts))
	rootCmd.AddCommand(cli.NewServeCmd(opts))
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	// After the first signal, a second one kills the process even while a
	// prompt is blocked on stdin.
	go func() {
		<-ctx.Done()
		stop()
	}()

	err := newRootCmd(&cli.Options{}).ExecuteContext(ctx)
	stop()
	logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
