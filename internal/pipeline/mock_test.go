package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/suphelp/geo-cli/internal/aggregate"
	"github.com/suphelp/geo-cli/internal/model"
)

// --- Collector Mock ---

type mockCollector struct {
	mock.Mock
}

func (m *mockCollector) Collect(ctx context.Context, keywords []string, locationQualifier string) (*aggregate.Result, error) {
	args := m.Called(ctx, keywords, locationQualifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*aggregate.Result), args.Error(1)
}

// --- Persister Mock ---

type mockPersister struct {
	mock.Mock
}

func (m *mockPersister) UpsertPlaces(ctx context.Context, category string, records []model.PlaceRecord) (model.PersistStats, error) {
	args := m.Called(ctx, category, records)
	return args.Get(0).(model.PersistStats), args.Error(1)
}

func (m *mockPersister) SaveContacts(ctx context.Context, records []model.PlaceRecord) (int64, error) {
	args := m.Called(ctx, records)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPersister) ListPendingEnrichment(ctx context.Context, limit int) ([]model.PlaceRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PlaceRecord), args.Error(1)
}

func (m *mockPersister) RecordFailures(ctx context.Context, runID string, failures []model.FailedUnit) error {
	args := m.Called(ctx, runID, failures)
	return args.Error(0)
}

// --- Exporter Mock ---

type mockExporter struct {
	mock.Mock
}

func (m *mockExporter) Export(ctx context.Context, stem string, records []model.PlaceRecord) ([]string, error) {
	args := m.Called(ctx, stem, records)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// --- Enricher Fake ---

type lookupResult struct {
	info model.ContactInfo
	err  error
}

// fakeEnricher answers lookups by record name and records the call order.
type fakeEnricher struct {
	mu       sync.Mutex
	disabled bool
	results  map[string]lookupResult
	calls    []string
	onLookup func(name string)
}

func (f *fakeEnricher) Enabled() bool { return !f.disabled }

func (f *fakeEnricher) Lookup(_ context.Context, record model.PlaceRecord, _ string) (model.ContactInfo, error) {
	f.mu.Lock()
	f.calls = append(f.calls, record.Name)
	f.mu.Unlock()
	if f.onLookup != nil {
		f.onLookup(record.Name)
	}
	if f.disabled {
		return model.NewContact(model.ContactStatusDisabled), nil
	}
	if r, ok := f.results[record.Name]; ok {
		return r.info, r.err
	}
	return model.NewContact(model.ContactStatusNotFound), nil
}

func place(id, name string, located bool) model.PlaceRecord {
	r := model.PlaceRecord{ExternalID: id, Name: name}
	if located {
		r.Location = &model.LatLng{Latitude: -23.18, Longitude: -46.88}
	}
	return r
}
