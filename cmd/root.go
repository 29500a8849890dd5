// Package cmd implements the coordinator's command-line surface: a thin
// cobra wrapper around internal/app's bootstrap-and-run sequence.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"coordinator/internal/app"
)

// Exit codes of the coordinator's exit-code table. Execute returns
// ExitConfigurationErr, ExitUpstreamUnreachable or ExitGeneralFailure on
// failure; ExitBadInvocation is not returned by Execute — usage errors
// (unknown command, unexpected arguments) exit with ExitGeneralFailure.
const (
	ExitSuccess           = 0
	ExitGeneralFailure    = 1
	ExitBadInvocation     = 2
	ExitConfigurationErr  = 3
	ExitUpstreamUnreachable = 4
)

var rootCmd = &cobra.Command{
	Use:           "coordinator",
	Short:         "MCP Coordination Core: registry, routing, and interaction log pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetVersion injects the build-time version string, mirrored into the
// version subcommand.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits the process with the
// appropriate exit code on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	var configErr *app.ConfigError
	if errors.As(err, &configErr) {
		return ExitConfigurationErr
	}
	var upstreamErr *app.UpstreamError
	if errors.As(err, &upstreamErr) {
		return ExitUpstreamUnreachable
	}
	return ExitGeneralFailure
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
