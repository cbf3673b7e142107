package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Subhanamir19/faccely-sub002/internal/queue"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hint, _ := cmd.Flags().GetString(flagQueue)
			return withBackend(cmd, func(ctx context.Context, b backend) error {
				snap, err := b.Status(ctx, args[0], hint)
				if errors.Is(err, queue.ErrNotFound) {
					return fmt.Errorf("job %s not found", args[0])
				}
				if err != nil {
					return fmt.Errorf("error fetching job: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), snap)
			})
		},
	}
	cmd.Flags().StringP(flagQueue, "q", "", "Queue to look in (default: search analyze, explain, routine)")
	return cmd
}
