package aggregate

import (
	"context"

	"github.com/suphelp/geo-cli/internal/model"
)

// mockSearcher implements Searcher for testing.
type mockSearcher struct {
	results map[string][]model.PlaceRecord
	errs    map[string]error
	queries []string
}

func (m *mockSearcher) Search(_ context.Context, query string) ([]model.PlaceRecord, error) {
	m.queries = append(m.queries, query)
	if err, ok := m.errs[query]; ok {
		return nil, err
	}
	return m.results[query], nil
}

func rec(id, name, addr string) model.PlaceRecord {
	return model.PlaceRecord{
		ExternalID:       id,
		Name:             name,
		FormattedAddress: addr,
		CategoryTags:     []string{},
	}
}
