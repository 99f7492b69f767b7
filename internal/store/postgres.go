package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/suphelp/geo-cli/internal/db"
	"github.com/suphelp/geo-cli/internal/model"
)

// PostgresStore implements Store using pgxpool and PostGIS.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS places (
	id              BIGSERIAL PRIMARY KEY,
	identity_key    TEXT NOT NULL UNIQUE,
	google_place_id TEXT,
	name            TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	types           TEXT[] NOT NULL DEFAULT '{}',
	location        geometry(Point, 4326) NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS place_contacts (
	identity_key TEXT PRIMARY KEY REFERENCES places(identity_key) ON DELETE CASCADE,
	registry_id  TEXT NOT NULL DEFAULT '',
	source_url   TEXT NOT NULL DEFAULT '',
	phones       TEXT[] NOT NULL DEFAULT '{}',
	emails       TEXT[] NOT NULL DEFAULT '{}',
	status       TEXT NOT NULL,
	website      TEXT NOT NULL DEFAULT '',
	rating       DOUBLE PRECISION,
	rating_count INTEGER,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE place_contacts ADD COLUMN IF NOT EXISTS website TEXT NOT NULL DEFAULT '';
ALTER TABLE place_contacts ADD COLUMN IF NOT EXISTS rating DOUBLE PRECISION;
ALTER TABLE place_contacts ADD COLUMN IF NOT EXISTS rating_count INTEGER;

CREATE TABLE IF NOT EXISTS failed_units (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	unit_key   TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	error_type TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_places_location ON places USING GIST (location);
CREATE INDEX IF NOT EXISTS idx_places_category ON places(category);
CREATE INDEX IF NOT EXISTS idx_places_google_place_id ON places(google_place_id);
CREATE INDEX IF NOT EXISTS idx_failed_units_run_id ON failed_units(run_id);
CREATE INDEX IF NOT EXISTS idx_failed_units_error_type ON failed_units(error_type);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const upsertPlaceSQL = `INSERT INTO places (identity_key, google_place_id, name, address, category, types, location, updated_at)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, ST_GeomFromEWKB($7), now())
ON CONFLICT (identity_key) DO UPDATE SET
	google_place_id = EXCLUDED.google_place_id,
	name = EXCLUDED.name,
	address = EXCLUDED.address,
	category = CASE WHEN EXCLUDED.category <> '' THEN EXCLUDED.category ELSE places.category END,
	types = EXCLUDED.types,
	location = EXCLUDED.location,
	updated_at = now()
RETURNING (xmax = 0) AS inserted`

// UpsertPlaces writes every record with coordinates in one transaction.
// Records without coordinates are counted as skipped.
func (s *PostgresStore) UpsertPlaces(ctx context.Context, category string, records []model.PlaceRecord) (model.PersistStats, error) {
	var stats model.PersistStats
	if len(records) == 0 {
		return stats, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "postgres: upsert places: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, r := range records {
		if !r.HasLocation() {
			stats.Skipped++
			continue
		}
		point, err := encodePoint(*r.Location)
		if err != nil {
			return model.PersistStats{}, err
		}

		var inserted bool
		err = tx.QueryRow(ctx, upsertPlaceSQL,
			r.IdentityKey(), r.ExternalID, r.Name, r.FormattedAddress, category, tagsOrEmpty(r.CategoryTags), point,
		).Scan(&inserted)
		if err != nil {
			return model.PersistStats{}, eris.Wrapf(err, "postgres: upsert place %s", r.IdentityKey())
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.PersistStats{}, eris.Wrap(err, "postgres: upsert places: commit tx")
	}
	return stats, nil
}

var contactColumns = []string{
	"identity_key", "registry_id", "source_url", "phones", "emails", "status",
	"website", "rating", "rating_count", "updated_at",
}

// SaveContacts bulk-upserts the contact attachment of each record.
func (s *PostgresStore) SaveContacts(ctx context.Context, records []model.PlaceRecord) (int64, error) {
	withContact := contactRecords(records)
	now := time.Now().UTC()

	rows := make([][]any, 0, len(withContact))
	for _, r := range withContact {
		c := r.Contact
		rows = append(rows, []any{
			r.IdentityKey(), c.RegistryID, c.SourceURL, tagsOrEmpty(c.Phones), tagsOrEmpty(c.Emails), string(c.Status),
			c.Website, c.Rating, c.RatingCount, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "place_contacts",
		Columns:      contactColumns,
		ConflictKeys: []string{"identity_key"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: save contacts")
	}
	return n, nil
}

const selectPlaceColumns = `p.identity_key, COALESCE(p.google_place_id, ''), p.name, p.address, p.types, ST_AsEWKB(p.location)`

// ListPendingEnrichment returns stored places that have no contact row yet,
// oldest first.
func (s *PostgresStore) ListPendingEnrichment(ctx context.Context, limit int) ([]model.PlaceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectPlaceColumns+`
		 FROM places p
		 LEFT JOIN place_contacts c ON c.identity_key = p.identity_key
		 WHERE c.identity_key IS NULL
		 ORDER BY p.id ASC
		 LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending enrichment")
	}
	defer rows.Close()

	var out []model.PlaceRecord
	for rows.Next() {
		var (
			key, id, name, addr string
			types               []string
			loc                 []byte
		)
		if err := rows.Scan(&key, &id, &name, &addr, &types, &loc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending place")
		}
		rec, err := placeFromRow(id, name, addr, types, loc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pending enrichment iterate")
}

// ListPlaces returns the most recently updated places with their contacts.
func (s *PostgresStore) ListPlaces(ctx context.Context, limit int) ([]model.PlaceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectPlaceColumns+`,
		        c.registry_id, c.source_url, c.phones, c.emails, c.status,
		        c.website, c.rating, c.rating_count
		 FROM places p
		 LEFT JOIN place_contacts c ON c.identity_key = p.identity_key
		 ORDER BY p.updated_at DESC, p.id DESC
		 LIMIT $1`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list places")
	}
	defer rows.Close()

	var out []model.PlaceRecord
	for rows.Next() {
		var (
			key, id, name, addr string
			types               []string
			loc                 []byte
			registryID, source  *string
			phones, emails      []string
			status, website     *string
			rating              *float64
			ratingCount         *int
		)
		if err := rows.Scan(&key, &id, &name, &addr, &types, &loc, &registryID, &source, &phones, &emails, &status,
			&website, &rating, &ratingCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan place")
		}
		rec, err := placeFromRow(id, name, addr, types, loc)
		if err != nil {
			return nil, err
		}
		if status != nil {
			rec.Contact = contactFromRow(deref(registryID), deref(source), phones, emails, *status,
				listingRow{website: deref(website), rating: rating, ratingCount: ratingCount})
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list places iterate")
}

var failureColumns = []string{"id", "run_id", "kind", "unit_key", "error", "error_type", "created_at"}

// RecordFailures appends failed units via COPY.
func (s *PostgresStore) RecordFailures(ctx context.Context, runID string, failures []model.FailedUnit) error {
	rows := failureRows(runID, failures)
	_, err := db.CopyFrom(ctx, s.pool, "failed_units", failureColumns, rows)
	return eris.Wrap(err, "postgres: record failures")
}

func (s *PostgresStore) ListFailures(ctx context.Context, filter FailureFilter) ([]model.FailedUnit, error) {
	query := `SELECT id, run_id, kind, unit_key, error, error_type, created_at FROM failed_units WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.RunID != "" {
		query += fmt.Sprintf(` AND run_id = $%d`, argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, filter.Kind)
		argIdx++
	}
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failures")
	}
	defer rows.Close()

	var out []model.FailedUnit
	for rows.Next() {
		var f model.FailedUnit
		if err := rows.Scan(&f.ID, &f.RunID, &f.Kind, &f.Key, &f.Error, &f.ErrorType, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list failures iterate")
}

func placeFromRow(id, name, addr string, types []string, loc []byte) (model.PlaceRecord, error) {
	ll, err := decodePoint(loc)
	if err != nil {
		return model.PlaceRecord{}, err
	}
	return model.PlaceRecord{
		ExternalID:       id,
		Name:             name,
		FormattedAddress: addr,
		Location:         ll,
		CategoryTags:     tagsOrEmpty(types),
	}, nil
}

// listingRow carries the nullable place_contacts columns filled by the
// places source.
type listingRow struct {
	website     string
	rating      *float64
	ratingCount *int
}

func contactFromRow(registryID, source string, phones, emails []string, status string, l listingRow) *model.ContactInfo {
	c := model.ContactInfo{
		RegistryID:  registryID,
		SourceURL:   source,
		Phones:      tagsOrEmpty(phones),
		Emails:      tagsOrEmpty(emails),
		Status:      model.ContactStatus(status),
		Website:     l.website,
		Rating:      l.rating,
		RatingCount: l.ratingCount,
	}
	return &c
}

func failureRows(runID string, failures []model.FailedUnit) [][]any {
	rows := make([][]any, 0, len(failures))
	for _, f := range failures {
		if f.RunID == "" {
			f.RunID = runID
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now().UTC()
		}
		rows = append(rows, []any{f.ID, f.RunID, f.Kind, f.Key, f.Error, f.ErrorType, f.CreatedAt})
	}
	return rows
}

func tagsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
