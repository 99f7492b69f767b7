package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suphelp/geo-cli/internal/metrics"
)

var (
	enrichLimit int
	enrichCity  string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich stored places that have no contact data yet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// The command itself is the opt-in.
		cfg.Enrich.Enabled = true
		if err := cfg.Validate("enrich"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		p, err := buildEnrichPipeline(cfg, st)
		if err != nil {
			_ = st.Close()
			return err
		}
		env := &pipelineEnv{Store: st, Pipeline: p}
		defer env.Close()

		city := enrichCity
		if city == "" {
			city = cfg.Collect.City
		}

		summary, runErr := env.Pipeline.EnrichStored(ctx, enrichLimit, city)
		if err := writeSummary(cmd.OutOrStdout(), summary); err != nil {
			zap.L().Warn("write summary failed", zap.Error(err))
		}
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			zap.L().Warn("write metrics textfile failed", zap.Error(err))
		}
		return runErr
	},
}

func init() {
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 100, "max stored places to enrich")
	enrichCmd.Flags().StringVar(&enrichCity, "city", "", "location qualifier for registry queries (default from config)")
	rootCmd.AddCommand(enrichCmd)
}
