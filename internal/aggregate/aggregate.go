// Package aggregate runs a search per keyword and folds the hits into one
// deduplicated, sorted record set.
package aggregate

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/suphelp/geo-cli/internal/model"
	"github.com/suphelp/geo-cli/internal/resilience"
)

// Searcher runs one paginated query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]model.PlaceRecord, error)
}

// Result is the outcome of Collect.
type Result struct {
	Records  []model.PlaceRecord
	Outcomes []model.KeywordOutcome
	Failures []model.FailedUnit
}

// Aggregator merges search results across keywords, first occurrence wins.
type Aggregator struct {
	searcher Searcher
	limiter  *rate.Limiter
	runID    string
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithKeywordDelay sets the minimum spacing between keyword searches.
func WithKeywordDelay(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithRunID tags recorded failures with a run id.
func WithRunID(id string) Option {
	return func(a *Aggregator) {
		a.runID = id
	}
}

// New creates an Aggregator over s.
func New(s Searcher, opts ...Option) *Aggregator {
	a := &Aggregator{
		searcher: s,
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Query builds the composite search text for a keyword.
func Query(keyword, locationQualifier string) string {
	return strings.TrimSpace(strings.TrimSpace(keyword) + " " + strings.TrimSpace(locationQualifier))
}

// Collect searches every keyword in order and returns the merged records
// sorted by display name. A keyword whose search fails transiently is logged
// and recorded as a failure; any other search failure aborts the collection
// and is returned together with the partial result.
func (a *Aggregator) Collect(ctx context.Context, keywords []string, locationQualifier string) (*Result, error) {
	log := zap.L().With(zap.String("component", "aggregate"), zap.String("location", locationQualifier))

	res := &Result{}
	set := newRecordSet()

	for _, kw := range keywords {
		if strings.TrimSpace(kw) == "" {
			continue
		}
		if err := a.limiter.Wait(ctx); err != nil {
			res.Records = set.sorted()
			return res, eris.Wrap(err, "aggregate: keyword delay")
		}

		q := Query(kw, locationQualifier)
		recs, err := a.searcher.Search(ctx, q)
		if err != nil {
			outcome := model.KeywordOutcome{Keyword: kw, Query: q, Err: err.Error()}
			res.Outcomes = append(res.Outcomes, outcome)

			if ctx.Err() != nil || !resilience.IsTransient(err) {
				res.Records = set.sorted()
				return res, eris.Wrapf(err, "aggregate: keyword %q", kw)
			}

			log.Warn("keyword search failed, continuing",
				zap.String("keyword", kw),
				zap.Error(err),
			)
			res.Failures = append(res.Failures, resilience.NewFailedUnit(a.runID, model.UnitKeyword, kw, err))
			continue
		}

		added := set.addAll(recs)
		res.Outcomes = append(res.Outcomes, model.KeywordOutcome{Keyword: kw, Query: q, Records: added})
		log.Info("keyword collected",
			zap.String("keyword", kw),
			zap.Int("hits", len(recs)),
			zap.Int("new", added),
			zap.Int("total", set.len()),
		)
	}

	res.Records = set.sorted()
	return res, nil
}

// recordSet keeps the first record seen per identity.
type recordSet struct {
	byID    map[string]struct{}
	byNorm  map[string]struct{}
	records []model.PlaceRecord
}

func newRecordSet() *recordSet {
	return &recordSet{
		byID:   make(map[string]struct{}),
		byNorm: make(map[string]struct{}),
	}
}

const emptyNormKey = "|"

func (s *recordSet) add(r model.PlaceRecord) bool {
	if r.ExternalID != "" {
		if _, ok := s.byID[r.ExternalID]; ok {
			return false
		}
	}
	norm := r.NormKey()
	// Records with neither name nor address only collide by id.
	if norm != emptyNormKey || r.ExternalID == "" {
		if _, ok := s.byNorm[norm]; ok {
			return false
		}
		s.byNorm[norm] = struct{}{}
	}
	if r.ExternalID != "" {
		s.byID[r.ExternalID] = struct{}{}
	}
	s.records = append(s.records, r)
	return true
}

func (s *recordSet) addAll(recs []model.PlaceRecord) int {
	var n int
	for _, r := range recs {
		if s.add(r) {
			n++
		}
	}
	return n
}

func (s *recordSet) len() int {
	return len(s.records)
}

func (s *recordSet) sorted() []model.PlaceRecord {
	out := make([]model.PlaceRecord, len(s.records))
	copy(out, s.records)
	SortByName(out)
	return out
}

// SortByName orders records by display name, ignoring case and diacritics,
// with the identity key as tiebreaker so the order is total.
func SortByName(recs []model.PlaceRecord) {
	c := collate.New(language.BrazilianPortuguese, collate.IgnoreCase, collate.IgnoreDiacritics)
	sort.SliceStable(recs, func(i, j int) bool {
		if cmp := c.CompareString(recs[i].Name, recs[j].Name); cmp != 0 {
			return cmp < 0
		}
		return recs[i].IdentityKey() < recs[j].IdentityKey()
	})
}
