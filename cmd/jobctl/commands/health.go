package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Ping the queue store and print per-queue counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, func(ctx context.Context, b backend) error {
				h := b.Health(ctx)
				if err := printJSON(cmd.OutOrStdout(), h); err != nil {
					return err
				}
				if !h.OK {
					return errors.New("queue store unhealthy")
				}
				return nil
			})
		},
	}
}
