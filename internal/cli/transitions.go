package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/lifecycle"
)

func newTransitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transitions [status]",
		Short: "Print the allowed status transitions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := domain.TaskStatuses()
			if len(args) == 1 {
				s := domain.TaskStatus(args[0])
				if !s.Valid() {
					return fmt.Errorf("unknown status %q", args[0])
				}
				statuses = []domain.TaskStatus{s}
			}
			return printTransitions(cmd.OutOrStdout(), statuses)
		},
	}
}

func printTransitions(w io.Writer, statuses []domain.TaskStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FROM\tTO")
	for _, s := range statuses {
		next := lifecycle.ValidTransitions(s)
		targets := make([]string, len(next))
		for i, n := range next {
			targets[i] = string(n)
		}
		to := strings.Join(targets, ", ")
		if lifecycle.IsTerminal(s) {
			to = "(terminal)"
		}
		fmt.Fprintf(tw, "%s\t%s\n", s, to)
	}
	return tw.Flush()
}
