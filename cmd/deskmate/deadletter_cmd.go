package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/quailyquaily/deskmate/delivery"
	"github.com/quailyquaily/deskmate/internal/fsstore"
	"github.com/spf13/cobra"
)

func newDeadLetterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect permanently failed deliveries and inbound jobs",
	}

	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest dead-letter entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := flagOrViperString(cmd, "path", "delivery.dead_letter_path")
			limit, _ := cmd.Flags().GetInt("limit")
			entries, err := fsstore.ReadJSONLTail[delivery.DeadLetter](path, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "AT\tKIND\tBUSINESS\tPLATFORM\tRECIPIENT\tATTEMPTS\tERROR")
			for _, e := range entries {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\t%s\n",
					e.At.Format(time.RFC3339), e.Kind, e.BusinessID, e.Platform, e.Recipient, e.Attempts, e.Error)
			}
			return w.Flush()
		},
	}
	tail.Flags().String("path", "", "Dead-letter file (defaults to delivery.dead_letter_path).")
	tail.Flags().Int("limit", 20, "Number of entries to show.")
	cmd.AddCommand(tail)

	return cmd
}
