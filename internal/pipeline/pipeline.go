// Package pipeline drives a run: aggregate search results, enrich them,
// persist and export. Only configuration errors and permanent aggregation
// failures end a run early; everything else is recorded in the summary.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/suphelp/geo-cli/internal/aggregate"
	"github.com/suphelp/geo-cli/internal/metrics"
	"github.com/suphelp/geo-cli/internal/model"
)

// progressEvery is how often EnrichAll logs progress, in records.
const progressEvery = 20

// Collector runs the keyword searches of a run.
type Collector interface {
	Collect(ctx context.Context, keywords []string, locationQualifier string) (*aggregate.Result, error)
}

// Enricher looks up contact details for one record.
type Enricher interface {
	Enabled() bool
	Lookup(ctx context.Context, record model.PlaceRecord, locationQualifier string) (model.ContactInfo, error)
}

// Persister is the store subset used by a run. store.Store satisfies it.
type Persister interface {
	UpsertPlaces(ctx context.Context, category string, records []model.PlaceRecord) (model.PersistStats, error)
	SaveContacts(ctx context.Context, records []model.PlaceRecord) (int64, error)
	ListPendingEnrichment(ctx context.Context, limit int) ([]model.PlaceRecord, error)
	RecordFailures(ctx context.Context, runID string, failures []model.FailedUnit) error
}

// Exporter writes the final record set.
type Exporter interface {
	Export(ctx context.Context, stem string, records []model.PlaceRecord) ([]string, error)
}

// RunInput describes one collect run.
type RunInput struct {
	RunID             string
	Keywords          []string
	LocationQualifier string
	Category          string
	Enrich            bool
	// ExportStem names the exported files; empty means "places".
	ExportStem string
}

// Pipeline wires the run stages together. Persister and Exporter are
// optional.
type Pipeline struct {
	collector   Collector
	enricher    Enricher
	persister   Persister
	exporter    Exporter
	enrichDelay time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPersister stores places, contacts and failures.
func WithPersister(p Persister) Option {
	return func(pl *Pipeline) { pl.persister = p }
}

// WithExporter writes export files at the end of a run.
func WithExporter(e Exporter) Option {
	return func(pl *Pipeline) { pl.exporter = e }
}

// WithEnrichDelay sets the fixed pause between enrichment lookups.
func WithEnrichDelay(d time.Duration) Option {
	return func(pl *Pipeline) { pl.enrichDelay = d }
}

// New creates a Pipeline. enricher may be nil when enrichment is never
// requested.
func New(collector Collector, enricher Enricher, opts ...Option) *Pipeline {
	p := &Pipeline{collector: collector, enricher: enricher}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes a full collect run. The summary is returned even when err is
// non-nil.
func (p *Pipeline) Run(ctx context.Context, in RunInput) (*model.RunSummary, error) {
	if in.RunID == "" {
		in.RunID = uuid.NewString()
	}
	summary := &model.RunSummary{
		RunID:             in.RunID,
		LocationQualifier: in.LocationQualifier,
		Category:          in.Category,
		Keywords:          in.Keywords,
		StartedAt:         time.Now().UTC(),
	}
	log := zap.L().With(zap.String("run_id", in.RunID), zap.String("location", in.LocationQualifier))
	log.Info("pipeline: starting run", zap.Int("keywords", len(in.Keywords)), zap.Bool("enrich", in.Enrich))

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()
	defer observeDuration("collect", summary.StartedAt)

	finish := func(err error) (*model.RunSummary, error) {
		summary.FinishedAt = time.Now().UTC()
		if err != nil {
			summary.Error = err.Error()
		}
		return summary, err
	}

	// Collect.
	var res *aggregate.Result
	err := trackPhase(log, "collect", func() error {
		var cErr error
		res, cErr = p.collector.Collect(ctx, in.Keywords, in.LocationQualifier)
		return cErr
	})
	if res != nil {
		summary.Outcomes = res.Outcomes
		summary.UniqueRecords = len(res.Records)
		summary.Failures = append(summary.Failures, tagFailures(res.Failures, in.RunID)...)
		countKeywords(res.Outcomes)
		metrics.RecordsCollected.Add(float64(len(res.Records)))
	}
	if err != nil {
		return finish(eris.Wrap(err, "pipeline: collect"))
	}
	records := res.Records

	// Enrich.
	if in.Enrich {
		if p.enricher == nil {
			return finish(eris.New("pipeline: enrichment requested but no enricher configured"))
		}
		var enriched *EnrichResult
		_ = trackPhase(log, "enrich", func() error {
			var eErr error
			enriched, eErr = p.EnrichAll(ctx, records, in.LocationQualifier, in.RunID)
			return eErr
		})
		records = enriched.Records
		summary.Enrichment = enriched.Counts
		summary.Failures = append(summary.Failures, enriched.Failures...)
	}

	// Persist.
	if p.persister != nil {
		_ = trackPhase(log, "persist", func() error {
			return p.persist(ctx, in, records, summary)
		})
	}

	// Export.
	if p.exporter != nil {
		stem := in.ExportStem
		if stem == "" {
			stem = "places"
		}
		_ = trackPhase(log, "export", func() error {
			paths, xErr := p.exporter.Export(ctx, stem, records)
			summary.Exports = paths
			if xErr != nil {
				summary.ExportError = xErr.Error()
			}
			return xErr
		})
	}

	p.recordFailures(ctx, log, in.RunID, summary.Failures)

	if ctx.Err() != nil {
		return finish(eris.Wrap(ctx.Err(), "pipeline: run cancelled"))
	}
	log.Info("pipeline: run complete",
		zap.Int("unique_records", summary.UniqueRecords),
		zap.Int("failures", len(summary.Failures)),
	)
	return finish(nil)
}

func (p *Pipeline) persist(ctx context.Context, in RunInput, records []model.PlaceRecord, summary *model.RunSummary) error {
	stats, err := p.persister.UpsertPlaces(ctx, in.Category, records)
	if err != nil {
		summary.PersistError = err.Error()
		return eris.Wrap(err, "pipeline: upsert places")
	}
	summary.Persist = &stats
	metrics.PlacesPersisted.WithLabelValues("inserted").Add(float64(stats.Inserted))
	metrics.PlacesPersisted.WithLabelValues("updated").Add(float64(stats.Updated))
	metrics.PlacesPersisted.WithLabelValues("skipped").Add(float64(stats.Skipped))

	if !in.Enrich {
		return nil
	}
	n, err := p.persister.SaveContacts(ctx, located(savable(records)))
	if err != nil {
		summary.PersistError = err.Error()
		return eris.Wrap(err, "pipeline: save contacts")
	}
	summary.ContactsSaved = n
	return nil
}

func (p *Pipeline) recordFailures(ctx context.Context, log *zap.Logger, runID string, failures []model.FailedUnit) {
	if p.persister == nil || len(failures) == 0 {
		return
	}
	if err := p.persister.RecordFailures(ctx, runID, failures); err != nil {
		log.Warn("pipeline: failed to record failures", zap.Int("count", len(failures)), zap.Error(err))
	}
}

// trackPhase runs fn and logs its duration and outcome.
func trackPhase(log *zap.Logger, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start).Milliseconds()
	if err != nil {
		log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration),
			zap.Error(err),
		)
		return err
	}
	log.Info("pipeline: phase complete",
		zap.String("phase", name),
		zap.Int64("duration_ms", duration),
	)
	return nil
}

func observeDuration(kind string, start time.Time) {
	metrics.RunDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func countKeywords(outcomes []model.KeywordOutcome) {
	for _, o := range outcomes {
		if o.Err != "" {
			metrics.KeywordsProcessed.WithLabelValues("failed").Inc()
		} else {
			metrics.KeywordsProcessed.WithLabelValues("ok").Inc()
		}
	}
}

func tagFailures(failures []model.FailedUnit, runID string) []model.FailedUnit {
	out := make([]model.FailedUnit, len(failures))
	for i, f := range failures {
		if f.RunID == "" {
			f.RunID = runID
		}
		out[i] = f
	}
	return out
}

// located keeps records with coordinates; only those exist in the store.
func located(records []model.PlaceRecord) []model.PlaceRecord {
	out := make([]model.PlaceRecord, 0, len(records))
	for _, r := range records {
		if r.HasLocation() {
			out = append(out, r)
		}
	}
	return out
}

// savable drops records whose lookup ended in ERROR or was never made, so
// they stay pending for the next enrichment pass.
func savable(records []model.PlaceRecord) []model.PlaceRecord {
	out := make([]model.PlaceRecord, 0, len(records))
	for _, r := range records {
		if r.Contact == nil {
			continue
		}
		switch r.Contact.Status {
		case model.ContactStatusError, model.ContactStatusDisabled:
			continue
		}
		out = append(out, r)
	}
	return out
}

func newLimiter(d time.Duration) *rate.Limiter {
	if d <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(d), 1)
}
