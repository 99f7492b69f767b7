package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/suphelp/geo-cli/internal/config"
	"github.com/suphelp/geo-cli/internal/export"
	"github.com/suphelp/geo-cli/internal/server"
	"github.com/suphelp/geo-cli/internal/store"
)

var (
	servePort       int
	serveRunTimeout time.Duration
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API that triggers collect and enrich runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		api := server.New(runnerFactory(cfg, st), st, server.Options{
			DefaultCity:     cfg.Collect.City,
			DefaultCategory: cfg.Collect.Category,
			DefaultKeywords: cfg.Collect.Keywords,
			AllowedOrigins:  cfg.Server.AllowedOrigins,
			RunTimeout:      serveRunTimeout,
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// runnerFactory builds a pipeline with its own HTTP clients for every run.
// The store is shared. Enrich-only runs do not need a places API key.
func runnerFactory(c *config.Config, st store.Store) server.RunnerFactory {
	return func(spec server.RunSpec) (server.Runner, error) {
		rc := runConfig(c, spec.Enrich)
		if !spec.Collect {
			if err := rc.Validate("enrich"); err != nil {
				return nil, err
			}
			p, err := buildEnrichPipeline(rc, st)
			if err != nil {
				return nil, err
			}
			return p, nil
		}

		if err := rc.Validate("collect"); err != nil {
			return nil, err
		}
		p, err := buildPipeline(rc, st, export.New(exportOptions(rc.Export)), "")
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// runConfig copies c with enrichment switched on or off for one run, the
// way --enrich does for collect.
func runConfig(c *config.Config, enrich bool) *config.Config {
	rc := *c
	rc.Enrich.Enabled = enrich
	return &rc
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().DurationVar(&serveRunTimeout, "run-timeout", 30*time.Minute, "upper bound for a single run")
	rootCmd.AddCommand(serveCmd)
}
