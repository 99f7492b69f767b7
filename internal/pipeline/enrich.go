package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/suphelp/geo-cli/internal/metrics"
	"github.com/suphelp/geo-cli/internal/model"
	"github.com/suphelp/geo-cli/internal/resilience"
)

// EnrichResult is the outcome of an enrichment pass.
type EnrichResult struct {
	// Records are copies of the input with Contact attached, in input order.
	// Records not reached before cancellation are returned unchanged.
	Records  []model.PlaceRecord
	Counts   map[model.ContactStatus]int
	Failures []model.FailedUnit
}

// EnrichAll looks up every record in order, pausing the configured delay
// between lookups. A failed lookup never stops the pass; only context
// cancellation does, and the partial result is returned with the error.
func (p *Pipeline) EnrichAll(ctx context.Context, records []model.PlaceRecord, locationQualifier, runID string) (*EnrichResult, error) {
	res := &EnrichResult{
		Records: make([]model.PlaceRecord, 0, len(records)),
		Counts:  make(map[model.ContactStatus]int),
	}
	if p.enricher == nil {
		res.Records = append(res.Records, records...)
		return res, eris.New("pipeline: no enricher configured")
	}

	log := zap.L().With(zap.String("run_id", runID), zap.String("component", "enrich"))
	enabled := p.enricher.Enabled()
	limiter := newLimiter(p.enrichDelay)
	total := len(records)

	for i, rec := range records {
		if enabled {
			if err := limiter.Wait(ctx); err != nil {
				res.Records = append(res.Records, records[i:]...)
				return res, eris.Wrap(err, "pipeline: enrich cancelled")
			}
		}

		info, err := p.enricher.Lookup(ctx, rec, locationQualifier)
		res.Records = append(res.Records, rec.WithContact(info))
		res.Counts[info.Status]++
		metrics.EnrichmentResults.WithLabelValues(string(info.Status)).Inc()

		if info.Status == model.ContactStatusError {
			if ctx.Err() != nil {
				res.Records = append(res.Records, records[i+1:]...)
				return res, eris.Wrap(ctx.Err(), "pipeline: enrich cancelled")
			}
			log.Warn("enrichment failed for record", zap.String("record", rec.IdentityKey()), zap.Error(err))
			res.Failures = append(res.Failures, resilience.NewFailedUnit(runID, model.UnitRecord, rec.IdentityKey(), err))
		}

		if done := i + 1; done%progressEvery == 0 || done == total {
			log.Info("enrichment progress",
				zap.Int("done", done),
				zap.Int("total", total),
				zap.Int("ok", res.Counts[model.ContactStatusOK]),
			)
		}
	}
	return res, nil
}

// EnrichStored enriches up to limit stored places that have no contact yet
// and writes the contacts back. ERROR results are not written so the place
// stays pending.
func (p *Pipeline) EnrichStored(ctx context.Context, limit int, locationQualifier string) (*model.RunSummary, error) {
	runID := uuid.NewString()
	summary := &model.RunSummary{
		RunID:             runID,
		LocationQualifier: locationQualifier,
		StartedAt:         time.Now().UTC(),
	}
	finish := func(err error) (*model.RunSummary, error) {
		summary.FinishedAt = time.Now().UTC()
		if err != nil {
			summary.Error = err.Error()
		}
		return summary, err
	}

	if p.persister == nil {
		return finish(eris.New("pipeline: enrich stored requires a store"))
	}
	if p.enricher == nil || !p.enricher.Enabled() {
		return finish(eris.New("pipeline: enrichment is disabled"))
	}

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()
	defer observeDuration("enrich", summary.StartedAt)

	log := zap.L().With(zap.String("run_id", runID))
	pending, err := p.persister.ListPendingEnrichment(ctx, limit)
	if err != nil {
		return finish(eris.Wrap(err, "pipeline: list pending enrichment"))
	}
	summary.UniqueRecords = len(pending)
	log.Info("pipeline: enriching stored places", zap.Int("pending", len(pending)))

	res, enrichErr := p.EnrichAll(ctx, pending, locationQualifier, runID)
	summary.Enrichment = res.Counts
	summary.Failures = res.Failures

	n, err := p.persister.SaveContacts(ctx, savable(res.Records))
	if err != nil {
		summary.PersistError = err.Error()
		log.Error("pipeline: save contacts failed", zap.Error(err))
	}
	summary.ContactsSaved = n

	p.recordFailures(ctx, log, runID, summary.Failures)
	return finish(enrichErr)
}
