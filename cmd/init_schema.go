package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initSchemaCmd = &cobra.Command{
	Use:   "init-schema",
	Short: "Create the venue table for SQL store drivers",
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

		if err := st.InitSchema(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema ready (%s)\n", cfg.Store.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initSchemaCmd)
}
