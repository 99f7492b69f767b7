package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/suphelp/geo-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Coordinates are
// stored as plain lat/lng columns and list fields as JSON text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas below are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS places (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	identity_key    TEXT NOT NULL UNIQUE,
	google_place_id TEXT NOT NULL DEFAULT '',
	name            TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	types           TEXT NOT NULL DEFAULT '[]',
	lat             REAL NOT NULL,
	lng             REAL NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS place_contacts (
	identity_key TEXT PRIMARY KEY REFERENCES places(identity_key) ON DELETE CASCADE,
	registry_id  TEXT NOT NULL DEFAULT '',
	source_url   TEXT NOT NULL DEFAULT '',
	phones       TEXT NOT NULL DEFAULT '[]',
	emails       TEXT NOT NULL DEFAULT '[]',
	status       TEXT NOT NULL,
	website      TEXT NOT NULL DEFAULT '',
	rating       REAL,
	rating_count INTEGER,
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS failed_units (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	unit_key   TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	error_type TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_places_category ON places(category);
CREATE INDEX IF NOT EXISTS idx_places_lat_lng ON places(lat, lng);
CREATE INDEX IF NOT EXISTS idx_failed_units_run_id ON failed_units(run_id);
CREATE INDEX IF NOT EXISTS idx_failed_units_error_type ON failed_units(error_type);
`

// placeContactAdditions are columns added to place_contacts after its first
// release. SQLite has no ADD COLUMN IF NOT EXISTS.
var placeContactAdditions = []struct{ name, ddl string }{
	{"website", "website TEXT NOT NULL DEFAULT ''"},
	{"rating", "rating REAL"},
	{"rating_count", "rating_count INTEGER"},
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}

	existing := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('place_contacts')`)
	if err != nil {
		return eris.Wrap(err, "sqlite: migrate: table info")
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return eris.Wrap(err, "sqlite: migrate: scan table info")
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "sqlite: migrate: table info iterate")
	}
	rows.Close()

	for _, col := range placeContactAdditions {
		if existing[col.name] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, "ALTER TABLE place_contacts ADD COLUMN "+col.ddl); err != nil {
			return eris.Wrapf(err, "sqlite: migrate: add column %s", col.name)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUpsertPlace = `INSERT INTO places (identity_key, google_place_id, name, address, category, types, lat, lng, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(identity_key) DO UPDATE SET
	google_place_id = excluded.google_place_id,
	name = excluded.name,
	address = excluded.address,
	category = CASE WHEN excluded.category <> '' THEN excluded.category ELSE places.category END,
	types = excluded.types,
	lat = excluded.lat,
	lng = excluded.lng,
	updated_at = excluded.updated_at`

func (s *SQLiteStore) UpsertPlaces(ctx context.Context, category string, records []model.PlaceRecord) (model.PersistStats, error) {
	var stats model.PersistStats
	if len(records) == 0 {
		return stats, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, eris.Wrap(err, "sqlite: upsert places: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for _, r := range records {
		if !r.HasLocation() {
			stats.Skipped++
			continue
		}
		key := r.IdentityKey()

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM places WHERE identity_key = ?)`, key,
		).Scan(&exists); err != nil {
			return model.PersistStats{}, eris.Wrapf(err, "sqlite: check place %s", key)
		}

		types, err := marshalList(r.CategoryTags)
		if err != nil {
			return model.PersistStats{}, err
		}
		if _, err := tx.ExecContext(ctx, sqliteUpsertPlace,
			key, r.ExternalID, r.Name, r.FormattedAddress, category, types,
			r.Location.Latitude, r.Location.Longitude, now,
		); err != nil {
			return model.PersistStats{}, eris.Wrapf(err, "sqlite: upsert place %s", key)
		}
		if exists {
			stats.Updated++
		} else {
			stats.Inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return model.PersistStats{}, eris.Wrap(err, "sqlite: upsert places: commit tx")
	}
	return stats, nil
}

func (s *SQLiteStore) SaveContacts(ctx context.Context, records []model.PlaceRecord) (int64, error) {
	withContact := contactRecords(records)
	if len(withContact) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: save contacts: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, r := range withContact {
		c := r.Contact
		phones, err := marshalList(c.Phones)
		if err != nil {
			return 0, err
		}
		emails, err := marshalList(c.Emails)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO place_contacts (identity_key, registry_id, source_url, phones, emails, status,
				website, rating, rating_count, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(identity_key) DO UPDATE SET
				registry_id = excluded.registry_id,
				source_url = excluded.source_url,
				phones = excluded.phones,
				emails = excluded.emails,
				status = excluded.status,
				website = excluded.website,
				rating = excluded.rating,
				rating_count = excluded.rating_count,
				updated_at = excluded.updated_at`,
			r.IdentityKey(), c.RegistryID, c.SourceURL, phones, emails, string(c.Status),
			c.Website, c.Rating, c.RatingCount, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: save contact %s", r.IdentityKey())
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: save contacts: commit tx")
	}
	return n, nil
}

func (s *SQLiteStore) ListPendingEnrichment(ctx context.Context, limit int) ([]model.PlaceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.google_place_id, p.name, p.address, p.types, p.lat, p.lng
		 FROM places p
		 LEFT JOIN place_contacts c ON c.identity_key = p.identity_key
		 WHERE c.identity_key IS NULL
		 ORDER BY p.id ASC
		 LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending enrichment")
	}
	defer rows.Close()

	var out []model.PlaceRecord
	for rows.Next() {
		var (
			id, name, addr, types string
			lat, lng              float64
		)
		if err := rows.Scan(&id, &name, &addr, &types, &lat, &lng); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending place")
		}
		rec, err := sqlitePlace(id, name, addr, types, lat, lng)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list pending enrichment iterate")
}

func (s *SQLiteStore) ListPlaces(ctx context.Context, limit int) ([]model.PlaceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.google_place_id, p.name, p.address, p.types, p.lat, p.lng,
		        c.registry_id, c.source_url, c.phones, c.emails, c.status,
		        c.website, c.rating, c.rating_count
		 FROM places p
		 LEFT JOIN place_contacts c ON c.identity_key = p.identity_key
		 ORDER BY p.updated_at DESC, p.id DESC
		 LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list places")
	}
	defer rows.Close()

	var out []model.PlaceRecord
	for rows.Next() {
		var (
			id, name, addr, types string
			lat, lng              float64
			registryID, source    sql.NullString
			phones, emails        sql.NullString
			status, website       sql.NullString
			rating                sql.NullFloat64
			ratingCount           sql.NullInt64
		)
		if err := rows.Scan(&id, &name, &addr, &types, &lat, &lng,
			&registryID, &source, &phones, &emails, &status,
			&website, &rating, &ratingCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan place")
		}
		rec, err := sqlitePlace(id, name, addr, types, lat, lng)
		if err != nil {
			return nil, err
		}
		if status.Valid {
			ph, err := unmarshalList(phones.String)
			if err != nil {
				return nil, err
			}
			em, err := unmarshalList(emails.String)
			if err != nil {
				return nil, err
			}
			l := listingRow{website: website.String}
			if rating.Valid {
				l.rating = &rating.Float64
			}
			if ratingCount.Valid {
				n := int(ratingCount.Int64)
				l.ratingCount = &n
			}
			rec.Contact = contactFromRow(registryID.String, source.String, ph, em, status.String, l)
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list places iterate")
}

func (s *SQLiteStore) RecordFailures(ctx context.Context, runID string, failures []model.FailedUnit) error {
	if len(failures) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: record failures: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, row := range failureRows(runID, failures) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO failed_units (id, run_id, kind, unit_key, error, error_type, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			row...,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert failed unit")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: record failures: commit tx")
}

func (s *SQLiteStore) ListFailures(ctx context.Context, filter FailureFilter) ([]model.FailedUnit, error) {
	query := `SELECT id, run_id, kind, unit_key, error, error_type, created_at FROM failed_units WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close()

	var out []model.FailedUnit
	for rows.Next() {
		var f model.FailedUnit
		if err := rows.Scan(&f.ID, &f.RunID, &f.Kind, &f.Key, &f.Error, &f.ErrorType, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list failures iterate")
}

// helpers

func sqlitePlace(id, name, addr, types string, lat, lng float64) (model.PlaceRecord, error) {
	tags, err := unmarshalList(types)
	if err != nil {
		return model.PlaceRecord{}, err
	}
	return model.PlaceRecord{
		ExternalID:       id,
		Name:             name,
		FormattedAddress: addr,
		Location:         &model.LatLng{Latitude: lat, Longitude: lng},
		CategoryTags:     tags,
	}, nil
}

func marshalList(v []string) (string, error) {
	b, err := json.Marshal(tagsOrEmpty(v))
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal list")
	}
	return string(b), nil
}

func unmarshalList(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal list")
	}
	return out, nil
}
