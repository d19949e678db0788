package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coverletter-agent/backend/internal/api"
	"github.com/coverletter-agent/backend/pkg/logger"
)

// NewServeCmd creates the 'serve' command that runs the HTTP and websocket
// API until interrupted.
func NewServeCmd(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Example: `  coverletter serve
  COVERLETTER_SERVER_PORT=9090 coverletter serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			serveOpts := *opts
			serveOpts.Verbose = true
			app, err := openApp(ctx, &serveOpts)
			if err != nil {
				return err
			}
			defer app.Close()
			defer logger.Sync()

			return api.Run(ctx, app)
		},
	}

	return cmd
}
