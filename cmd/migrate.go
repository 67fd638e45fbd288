package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/venue-geocoder/internal/enrich"
	"github.com/sells-group/venue-geocoder/internal/observability"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Geocode every venue without geolocation",
	Long:  "Runs the one-time enrichment pass. Venues that already carry geolocation are skipped, so the command can be re-run safely. Exits non-zero if any geolocation write fails.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyMigrateFlags(cmd)
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		log := zap.L().With(zap.String("command", "migrate"))

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		metrics := observability.NewMetrics()
		gc, err := newGeocoder(cfg.Geocode, log, metrics)
		if err != nil {
			return err
		}

		log.Info("starting venue migration",
			zap.String("store", cfg.Store.Driver),
			zap.String("provider", cfg.Geocode.Provider),
			zap.Int("concurrency", cfg.Migrate.Concurrency),
			zap.Bool("pending_only", cfg.Migrate.PendingOnly),
			zap.Bool("empty_is_migrated", cfg.Migrate.EmptyIsMigrated),
		)

		d := enrich.NewDriver(st, gc,
			enrich.WithLogger(log),
			enrich.WithRecorder(metrics),
			enrich.WithConcurrency(cfg.Migrate.Concurrency),
			enrich.WithPendingOnly(cfg.Migrate.PendingOnly),
			enrich.WithEmptyIsMigrated(cfg.Migrate.EmptyIsMigrated),
			enrich.WithWriteTimeout(time.Duration(cfg.Migrate.WriteTimeoutSecs)*time.Second),
		)

		report, runErr := d.Run(ctx)
		report.Print(cmd.OutOrStdout())

		metrics.RunDuration.Set(report.Duration().Seconds())
		if cfg.Metrics.PushgatewayURL != "" {
			if err := metrics.Push(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
				log.Warn("metrics push failed", zap.Error(err))
			}
		}

		if runErr != nil {
			return eris.Wrap(runErr, "migrate")
		}
		if !report.OK() {
			return eris.Errorf("migrate: %d geolocation writes failed", len(report.WriteFailures))
		}
		return nil
	},
}

// applyMigrateFlags lets explicitly set flags override config values.
func applyMigrateFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Migrate.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("pending-only") {
		cfg.Migrate.PendingOnly, _ = flags.GetBool("pending-only")
	}
	if flags.Changed("empty-is-migrated") {
		cfg.Migrate.EmptyIsMigrated, _ = flags.GetBool("empty-is-migrated")
	}
}

func init() {
	migrateCmd.Flags().Int("concurrency", 4, "maximum venues processed at once")
	migrateCmd.Flags().Bool("pending-only", false, "query only venues without geolocation")
	migrateCmd.Flags().Bool("empty-is-migrated", false, "treat a stored empty geolocation list as migrated")
	rootCmd.AddCommand(migrateCmd)
}
