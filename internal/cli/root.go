// Package cli implements the taskgate command line.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is reported by --version.
var Version = "0.1.0"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "taskgate",
		Short:         "Task lifecycle service with webhook policy gates",
		Long:          `taskgate moves tasks through their lifecycle and lets external webhooks veto transitions and completions.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newTransitionsCmd(),
		newCheckURLCmd(),
		newSignCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
