package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Subhanamir19/faccely-sub002/internal/deadletter"
)

func newDLQCmd() *cobra.Command {
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect dead-letter records",
	}

	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent dead-letter records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt(flagLimit)
			archive, _ := cmd.Flags().GetBool(flagArchive)
			if limit <= 0 {
				return fmt.Errorf("invalid limit value: %d", limit)
			}

			return withBackend(cmd, func(ctx context.Context, b backend) error {
				if archive {
					recs, err := b.Archived(ctx, limit)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), recs)
				}

				jobs, err := b.Waiting(ctx, deadletter.QueueName, int64(limit))
				if err != nil {
					return fmt.Errorf("error reading dead-letter queue: %w", err)
				}
				recs := make([]deadletter.Record, 0, len(jobs))
				for _, j := range jobs {
					var rec deadletter.Record
					if err := json.Unmarshal(j.Payload, &rec); err != nil {
						return fmt.Errorf("decode dead letter %s: %w", j.ID, err)
					}
					recs = append(recs, rec)
				}
				return printJSON(cmd.OutOrStdout(), recs)
			})
		},
	}
	tail.Flags().IntP(flagLimit, "n", 20, "Number of records to print")
	tail.Flags().Bool(flagArchive, false, "Read from the Postgres archive instead of the queue")

	dlq.AddCommand(tail)
	return dlq
}
