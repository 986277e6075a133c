package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPruneCmd(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stored runs older than a retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			store, err := openStore(cmd.Context(), a.cfg, a.log)
			if err != nil {
				return fmt.Errorf("failed to open result store: %w", err)
			}
			if store == nil {
				return fmt.Errorf("storage is not enabled in the configuration")
			}
			defer store.Close()

			before := time.Now().Add(-olderThan)
			n, err := store.DeleteOlderThan(cmd.Context(), before)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Deleted %d runs executed before %s\n", n, before.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Retention window")
	return cmd
}
