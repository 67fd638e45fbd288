package main

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <address>",
	Short: "Geocode a single address with the configured provider",
	Long:  "Looks up one free-text address and prints the candidate list as JSON. Does not touch the venue store.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("resolve"); err != nil {
			return err
		}

		gc, err := newGeocoder(cfg.Geocode, zap.L(), nil)
		if err != nil {
			return err
		}

		candidates, err := gc.Resolve(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(candidates), "resolve: encode candidates")
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
