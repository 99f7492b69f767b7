// Package metrics holds the Prometheus collectors updated by a run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rotisserie/eris"
)

var (
	KeywordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geo_keywords_processed_total",
			Help: "Keywords searched, by outcome",
		},
		[]string{"outcome"},
	)

	RecordsCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geo_records_collected_total",
			Help: "Unique places returned by aggregation",
		},
	)

	EnrichmentResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geo_enrichment_results_total",
			Help: "Enrichment lookups, by contact status",
		},
		[]string{"status"},
	)

	PlacesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geo_places_persisted_total",
			Help: "Places written to the store, by result",
		},
		[]string{"result"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geo_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"kind"},
	)

	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geo_runs_active",
			Help: "Pipeline runs in progress",
		},
	)
)

// WriteTextfile dumps the default registry in the node_exporter textfile
// format. Batch runs have no scrape endpoint, so this is how their counters
// leave the process. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return eris.Wrapf(prometheus.WriteToTextfile(path, prometheus.DefaultGatherer), "metrics: write %s", path)
}
