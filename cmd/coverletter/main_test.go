package main

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverletter-agent/backend/internal/cli"
)

func TestRootCmdRegistersCommands(t *testing.T) {
	root := newRootCmd(&cli.Options{})

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"ingest", "generate", "improve", "history", "serve"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmdPassesContextToSubcommands(t *testing.T) {
	opts := &cli.Options{}
	root := newRootCmd(opts)

	var seen context.Context
	root.AddCommand(&cobra.Command{
		Use: "ctxcheck",
		RunE: func(cmd *cobra.Command, _ []string) error {
			seen = cmd.Context()
			return nil
		},
	})
	root.SetArgs([]string{"ctxcheck", "--verbose"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, root.ExecuteContext(ctx))

	require.NotNil(t, seen)
	assert.ErrorIs(t, seen.Err(), context.Canceled)
	assert.True(t, opts.Verbose)
}
