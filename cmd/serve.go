package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"coordinator/internal/app"
)

// newServeCmd builds the serve command, the coordinator's only real mode
// of operation: bootstrap every subsystem from COORD_* environment
// variables and run the HTTP surface until signaled to stop.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP coordination service",
		Long: `Starts the registry, health monitor, routing engine, dispatcher, and
interaction log pipeline, and serves the control-plane, dispatch, and
event-plane HTTP APIs.

Configuration is read entirely from COORD_* environment variables; see
internal/config.Config for the full list.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := app.NewApplication()
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return application.Run(ctx)
}
