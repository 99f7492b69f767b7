// Package store persists places, their contact enrichment and the failed
// units of each run.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/suphelp/geo-cli/internal/model"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// FailureFilter specifies criteria for listing failed units.
type FailureFilter struct {
	RunID     string `json:"run_id,omitempty"`
	Kind      string `json:"kind,omitempty"`       // "keyword", "record", or "" for all
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", ... or "" for all
	Limit     int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for the places pipeline. Places
// are upserted by identity key; only records with coordinates are stored.
type Store interface {
	// Places
	UpsertPlaces(ctx context.Context, category string, records []model.PlaceRecord) (model.PersistStats, error)
	ListPlaces(ctx context.Context, limit int) ([]model.PlaceRecord, error)

	// Contacts
	SaveContacts(ctx context.Context, records []model.PlaceRecord) (int64, error)
	ListPendingEnrichment(ctx context.Context, limit int) ([]model.PlaceRecord, error)

	// Failed units
	RecordFailures(ctx context.Context, runID string, failures []model.FailedUnit) error
	ListFailures(ctx context.Context, filter FailureFilter) ([]model.FailedUnit, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns the store for driver. dsn is a Postgres connection string or
// a SQLite file path.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverPostgres, "postgresql", "pg":
		if dsn == "" {
			return nil, eris.New("store: postgres requires a database url")
		}
		return NewPostgres(ctx, dsn, nil)
	case DriverSQLite, "sqlite3":
		if dsn == "" {
			dsn = "geo.db"
		}
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

// contactRecords keeps the records that carry a contact attachment.
func contactRecords(records []model.PlaceRecord) []model.PlaceRecord {
	out := make([]model.PlaceRecord, 0, len(records))
	for _, r := range records {
		if r.Contact != nil {
			out = append(out, r)
		}
	}
	return out
}
