package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/venue-geocoder/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many venues still need geolocation",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		total, err := st.Count(ctx, store.Filter{})
		if err != nil {
			return err
		}
		pending, err := st.Count(ctx, store.Filter{PendingOnly: true, EmptyIsMigrated: cfg.Migrate.EmptyIsMigrated})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Venues:   %d\n", total)
		fmt.Fprintf(out, "Enriched: %d\n", total-pending)
		fmt.Fprintf(out, "Pending:  %d\n", pending)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
