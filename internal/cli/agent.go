package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/lockprobe/internal/agent"
)

// NewAgentCommand creates the hidden agent command. A launcher re-executes
// lockprobe with it; the channel arrives on fd 3 and the options in the
// environment.
func NewAgentCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "agent",
		Short:         "Run the agent runtime (started by a launcher)",
		Hidden:        true,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !agent.IsAgentProcess() {
				return NewExitError(ExitCommandError, "agent must be started by a launcher")
			}
			// Without --verbose the level comes from the launcher.
			var logger *slog.Logger
			if rootOpts.Verbose {
				logger = newLogger(rootOpts, cmd.ErrOrStderr())
			}
			if err := agent.Run(cmd.Context(), logger); err != nil {
				return WrapExitError(ExitFailure, "agent", err)
			}
			return nil
		},
	}
}
