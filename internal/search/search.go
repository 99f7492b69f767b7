// Package search runs paginated free-text queries against the Places API and
// normalizes the hits into place records.
package search

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/suphelp/geo-cli/internal/model"
	"github.com/suphelp/geo-cli/internal/resilience"
	"github.com/suphelp/geo-cli/pkg/google"
)

// Config controls request shape, pagination and retries.
type Config struct {
	LanguageCode string
	RegionCode   string
	PageSize     int
	MaxPages     int
	// PageDelay is the minimum spacing between page requests.
	PageDelay time.Duration
	Retry     resilience.RetryConfig
	// Bias, when set, is sent as a location bias circle.
	Bias *google.Circle
}

// DefaultConfig returns the defaults used for Brazilian city searches.
func DefaultConfig() Config {
	return Config{
		LanguageCode: "pt-BR",
		RegionCode:   "BR",
		PageSize:     google.MaxPageSize,
		MaxPages:     3,
		PageDelay:    200 * time.Millisecond,
		Retry: resilience.RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   1200 * time.Millisecond,
		},
	}
}

// QueryState tracks one logical query while it paginates.
type QueryState struct {
	Query     string
	PageToken string
	Pages     int
	Records   []model.PlaceRecord
}

// Done reports whether pagination has terminated.
func (s *QueryState) Done(maxPages int) bool {
	return s.Pages > 0 && (s.PageToken == "" || s.Pages >= maxPages)
}

// Client issues Text Search queries page by page. It is not safe for
// concurrent use.
type Client struct {
	google  google.Client
	cfg     Config
	limiter *rate.Limiter
}

// New creates a search client over g.
func New(g google.Client, cfg Config) *Client {
	if cfg.PageSize <= 0 || cfg.PageSize > google.MaxPageSize {
		cfg.PageSize = google.MaxPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	limit := rate.Inf
	if cfg.PageDelay > 0 {
		limit = rate.Every(cfg.PageDelay)
	}
	return &Client{
		google:  g,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Search returns every record for query across up to MaxPages pages.
// Retryable failures are retried per page; once retries run out the returned
// error satisfies resilience.IsTransient. Non-retryable statuses and malformed
// bodies satisfy resilience.IsPermanent.
func (c *Client) Search(ctx context.Context, query string) ([]model.PlaceRecord, error) {
	log := zap.L().With(zap.String("component", "search"), zap.String("query", query))

	state := &QueryState{Query: query}
	for !state.Done(c.cfg.MaxPages) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "search: rate limit wait")
		}

		resp, err := c.fetchPage(ctx, state)
		if err != nil {
			return nil, eris.Wrapf(err, "search: page %d of %q", state.Pages+1, query)
		}

		state.Pages++
		for _, p := range resp.Places {
			state.Records = append(state.Records, Normalize(p))
		}
		state.PageToken = resp.NextPageToken

		log.Debug("page fetched",
			zap.Int("page", state.Pages),
			zap.Int("results", len(resp.Places)),
			zap.Bool("has_next", state.PageToken != ""),
		)
	}

	return state.Records, nil
}

func (c *Client) fetchPage(ctx context.Context, state *QueryState) (*google.SearchTextResponse, error) {
	req := google.SearchTextRequest{
		TextQuery:    state.Query,
		LanguageCode: c.cfg.LanguageCode,
		RegionCode:   c.cfg.RegionCode,
		PageSize:     c.cfg.PageSize,
		PageToken:    state.PageToken,
	}
	if c.cfg.Bias != nil {
		req.LocationBias = &google.LocationBias{Circle: *c.cfg.Bias}
	}

	retry := c.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("google", "search_text")
	}

	var attempts int
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*google.SearchTextResponse, error) {
		attempts++
		return c.google.SearchText(ctx, req)
	})
	if err != nil && resilience.IsTransient(err) && ctx.Err() == nil {
		return nil, eris.Wrapf(err, "retries exhausted after %d attempts", attempts)
	}
	return resp, err
}

// Normalize maps a provider place onto the canonical record shape. Missing
// fields stay empty; CategoryTags is never nil.
func Normalize(p google.Place) model.PlaceRecord {
	rec := model.PlaceRecord{
		ExternalID:       p.ID,
		FormattedAddress: p.FormattedAddress,
		CategoryTags:     append(make([]string, 0, len(p.Types)), p.Types...),
	}
	if p.DisplayName != nil {
		rec.Name = p.DisplayName.Text
	}
	if p.Location != nil {
		rec.Location = &model.LatLng{Latitude: p.Location.Latitude, Longitude: p.Location.Longitude}
	}
	return rec
}
