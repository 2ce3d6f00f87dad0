package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/taskgate/internal/pkg/safehttp"
)

func newCheckURLCmd() *cobra.Command {
	var allowPrivate bool

	cmd := &cobra.Command{
		Use:   "check-url <url>",
		Short: "Check whether a hook URL passes the outbound address guard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			guard := safehttp.NewGuard(safehttp.AllowPrivateNetworks(allowPrivate))
			if err := guard.ValidateURL(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("rejected: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&allowPrivate, "allow-private", false, "Skip address checks (local development)")
	return cmd
}
