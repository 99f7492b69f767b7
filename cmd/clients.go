package main

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/suphelp/geo-cli/internal/aggregate"
	"github.com/suphelp/geo-cli/internal/config"
	"github.com/suphelp/geo-cli/internal/enrich"
	"github.com/suphelp/geo-cli/internal/export"
	"github.com/suphelp/geo-cli/internal/pipeline"
	"github.com/suphelp/geo-cli/internal/resilience"
	"github.com/suphelp/geo-cli/internal/search"
	"github.com/suphelp/geo-cli/internal/store"
	"github.com/suphelp/geo-cli/pkg/google"
)

// pipelineEnv holds the store and the pipeline built for a command.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}

	var (
		st  store.Store
		err error
	)
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres", "postgresql", "pg":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		st, err = store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// buildPipeline wires fresh clients around st. st and exp may be nil.
func buildPipeline(c *config.Config, st store.Store, exp pipeline.Exporter, runID string) (*pipeline.Pipeline, error) {
	gc, err := placesClient(c.Places)
	if err != nil {
		return nil, eris.Wrap(err, "init places client")
	}

	searcher := search.New(gc, searchConfig(c.Places))
	agg := aggregate.New(searcher,
		aggregate.WithKeywordDelay(millis(c.Places.KeywordDelayMs)),
		aggregate.WithRunID(runID),
	)

	pOpts := []pipeline.Option{pipeline.WithEnrichDelay(millis(c.Enrich.DelayMs))}
	if st != nil {
		pOpts = append(pOpts, pipeline.WithPersister(st))
	}
	if exp != nil {
		pOpts = append(pOpts, pipeline.WithExporter(exp))
	}
	return pipeline.New(agg, buildEnricher(c, gc), pOpts...), nil
}

// buildEnrichPipeline wires a pipeline that only enriches stored places. The
// places API key is optional here: without it the places source is skipped.
func buildEnrichPipeline(c *config.Config, st store.Store) (*pipeline.Pipeline, error) {
	var gc google.Client
	if c.Places.APIKey != "" {
		var err error
		if gc, err = placesClient(c.Places); err != nil {
			return nil, eris.Wrap(err, "init places client")
		}
	}
	return pipeline.New(nil, buildEnricher(c, gc),
		pipeline.WithPersister(st),
		pipeline.WithEnrichDelay(millis(c.Enrich.DelayMs)),
	), nil
}

func placesClient(p config.PlacesConfig) (google.Client, error) {
	opts := []google.Option{google.WithTimeout(seconds(p.TimeoutSecs))}
	if p.BaseURL != "" {
		opts = append(opts, google.WithBaseURL(p.BaseURL))
	}
	return google.NewClient(p.APIKey, opts...)
}

// buildEnricher chains the sources named in enrich.sources. gc may be nil.
func buildEnricher(c *config.Config, gc google.Client) *enrich.Chain {
	names := c.Enrich.Sources
	if len(names) == 0 {
		names = []string{config.SourcePlaces, config.SourceRegistry}
	}

	var sources []enrich.Source
	for _, name := range names {
		switch name {
		case config.SourcePlaces:
			if !c.Enrich.Enabled {
				continue
			}
			if gc == nil {
				zap.L().Warn("places enrichment source skipped: no places API key")
				continue
			}
			retry := resilience.FromRetryConfig(c.Places.MaxAttempts, c.Places.BackoffBaseMs)
			sources = append(sources, enrich.NewDetails(gc, retry))
		case config.SourceRegistry:
			sources = append(sources, enrich.New(enrichConfig(c.Enrich)))
		}
	}
	return enrich.NewChain(sources...)
}

func searchConfig(p config.PlacesConfig) search.Config {
	sc := search.DefaultConfig()
	if p.LanguageCode != "" {
		sc.LanguageCode = p.LanguageCode
	}
	if p.RegionCode != "" {
		sc.RegionCode = p.RegionCode
	}
	sc.PageSize = p.PageSize
	sc.MaxPages = p.MaxPages
	sc.PageDelay = millis(p.PageDelayMs)
	sc.Retry = resilience.FromRetryConfig(p.MaxAttempts, p.BackoffBaseMs)
	sc.Retry.OnRetry = resilience.RetryLogger("places", "search_text")
	if p.HasBias() {
		sc.Bias = &google.Circle{
			Center: google.LatLng{Latitude: *p.BiasLat, Longitude: *p.BiasLng},
			Radius: p.BiasRadiusM,
		}
		zap.L().Debug("location bias enabled",
			zap.Float64("lat", *p.BiasLat),
			zap.Float64("lng", *p.BiasLng),
			zap.Float64("radius_m", p.BiasRadiusM),
		)
	}
	return sc
}

func enrichConfig(e config.EnrichConfig) enrich.Config {
	ec := enrich.DefaultConfig()
	ec.Enabled = e.Enabled
	if e.BaseURL != "" {
		ec.BaseURL = e.BaseURL
	}
	if len(e.CandidateURLs) > 0 {
		ec.CandidateURLs = e.CandidateURLs
	}
	if e.TimeoutSecs > 0 {
		ec.Timeout = seconds(e.TimeoutSecs)
	}
	ec.Retry = resilience.FromRetryConfig(e.MaxAttempts, e.BackoffBaseMs)
	ec.Retry.OnRetry = resilience.RetryLogger("registry", "fetch")
	if e.UserAgent != "" {
		ec.UserAgent = e.UserAgent
	}
	ec.CacheSize = e.CacheSize
	ec.CacheTTL = time.Duration(e.CacheTTLMins) * time.Minute
	return ec
}

func exportOptions(e config.ExportConfig) export.Options {
	return export.Options{
		Dir:           e.Dir,
		Formats:       e.Formats,
		PopulationCSV: e.PopulationCSV,
		MinPopulation: e.MinPopulation,
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }
