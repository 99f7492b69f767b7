package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suphelp/geo-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func strPtr(s string) *string { return &s }

func located(id, name string, lat, lng float64) model.PlaceRecord {
	return model.PlaceRecord{
		ExternalID:       id,
		Name:             name,
		FormattedAddress: "Rua A, 1",
		Location:         &model.LatLng{Latitude: lat, Longitude: lng},
		CategoryTags:     []string{"restaurant"},
	}
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE EXTENSION IF NOT EXISTS postgis`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPlaces(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	recs := []model.PlaceRecord{
		located("A1", "Padaria", -23.5, -46.6),
		{ExternalID: "B2", Name: "Sem Local"},
		located("C3", "Bar", -23.6, -46.7),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO places`).
		WithArgs("A1", "A1", "Padaria", "Rua A, 1", "restaurants", []string{"restaurant"}, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO places`).
		WithArgs("C3", "C3", "Bar", "Rua A, 1", "restaurants", []string{"restaurant"}, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"inserted"}).AddRow(false))
	mock.ExpectCommit()

	stats, err := s.UpsertPlaces(context.Background(), "restaurants", recs)
	require.NoError(t, err)
	assert.Equal(t, model.PersistStats{Inserted: 1, Updated: 1, Skipped: 1}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPlaces_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	stats, err := s.UpsertPlaces(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Zero(t, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPlaces_RowErrorRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO places`).WillReturnError(errors.New("constraint violated"))
	mock.ExpectRollback()

	_, err := s.UpsertPlaces(context.Background(), "x", []model.PlaceRecord{located("A1", "Padaria", 1, 2)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert place A1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveContacts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	withContact := located("A1", "Padaria", 1, 2).WithContact(
		model.OKContact("12345678000199", "https://cnpj.biz/12345678000199", []string{"11 91234-5678"}, nil),
	)
	recs := []model.PlaceRecord{withContact, located("B2", "Bar", 1, 2)}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_place_contacts"}, contactColumns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "place_contacts"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.SaveContacts(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveContacts_NoneAttached(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.SaveContacts(context.Background(), []model.PlaceRecord{located("A1", "x", 1, 2)})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListPendingEnrichment(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	pt, err := encodePoint(model.LatLng{Latitude: -23.5, Longitude: -46.6})
	require.NoError(t, err)

	mock.ExpectQuery(`FROM places p\s+LEFT JOIN place_contacts c .*WHERE c.identity_key IS NULL`).
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"identity_key", "google_place_id", "name", "address", "types", "location"}).
			AddRow("A1", "A1", "Padaria", "Rua A", []string{"bakery"}, pt))

	recs, err := s.ListPendingEnrichment(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "A1", recs[0].ExternalID)
	assert.Equal(t, []string{"bakery"}, recs[0].CategoryTags)
	require.NotNil(t, recs[0].Location)
	assert.InDelta(t, -23.5, recs[0].Location.Latitude, 1e-9)
	assert.InDelta(t, -46.6, recs[0].Location.Longitude, 1e-9)
	assert.Nil(t, recs[0].Contact)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListPlaces(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	pt, err := encodePoint(model.LatLng{Latitude: 1, Longitude: 2})
	require.NoError(t, err)

	cols := []string{"identity_key", "google_place_id", "name", "address", "types", "location",
		"registry_id", "source_url", "phones", "emails", "status", "website", "rating", "rating_count"}
	rating, count := 4.5, 31
	mock.ExpectQuery(`FROM places p\s+LEFT JOIN place_contacts`).
		WithArgs(defaultListLimit).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("A1", "A1", "Padaria", "Rua A", []string{}, pt,
				strPtr("12345678000199"), strPtr("https://cnpj.biz/12345678000199"),
				[]string{"11 91234-5678"}, []string{"a@b.com"}, strPtr("OK"),
				strPtr("https://padaria.example.com"), &rating, &count).
			AddRow("name:bar|", "", "Bar", "", []string{}, pt, nil, nil, nil, nil, nil, nil, nil, nil))

	recs, err := s.ListPlaces(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	require.NotNil(t, recs[0].Contact)
	assert.Equal(t, model.ContactStatusOK, recs[0].Contact.Status)
	assert.Equal(t, "12345678000199", recs[0].Contact.RegistryID)
	assert.Equal(t, []string{"a@b.com"}, recs[0].Contact.Emails)
	assert.Equal(t, "https://padaria.example.com", recs[0].Contact.Website)
	require.NotNil(t, recs[0].Contact.Rating)
	assert.InDelta(t, 4.5, *recs[0].Contact.Rating, 1e-9)
	require.NotNil(t, recs[0].Contact.RatingCount)
	assert.Equal(t, 31, *recs[0].Contact.RatingCount)
	assert.Nil(t, recs[1].Contact)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordFailures(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	failures := []model.FailedUnit{
		{ID: "f1", Kind: model.UnitKeyword, Key: "pizza", Error: "boom", ErrorType: "transient"},
	}
	mock.ExpectCopyFrom(pgx.Identifier{"failed_units"}, failureColumns).WillReturnResult(1)

	require.NoError(t, s.RecordFailures(context.Background(), "run-1", failures))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListFailures_Filtered(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM failed_units WHERE 1=1 AND run_id = \$1 AND error_type = \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs("run-1", "transient", 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "run_id", "kind", "unit_key", "error", "error_type", "created_at"}).
			AddRow("f1", "run-1", "keyword", "pizza", "boom", "transient", now))

	out, err := s.ListFailures(context.Background(), FailureFilter{RunID: "run-1", ErrorType: "transient", Limit: 10})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "pizza", out[0].Key)
	assert.Equal(t, now, out[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListFailures_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM failed_units`).WillReturnError(errors.New("conn lost"))

	_, err := s.ListFailures(context.Background(), FailureFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list failures")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectClose()
	assert.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
