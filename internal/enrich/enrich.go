// Package enrich looks places up on a company-registry site and scrapes
// contact details from the matching registry page. Every outcome is a
// model.ContactInfo; lookups never fail a batch.
package enrich

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/suphelp/geo-cli/internal/model"
	"github.com/suphelp/geo-cli/internal/resilience"
)

// QueryPlaceholder is replaced in candidate URL templates by the escaped
// "{name} {qualifier}" lookup text.
const QueryPlaceholder = "{query}"

const (
	defaultBaseURL        = "https://cnpj.biz"
	defaultUserAgent      = "Mozilla/5.0 (X11; Linux x86_64) SuphelpGeoIntelligence/1.0"
	defaultAcceptLanguage = "pt-BR,pt;q=0.9,en;q=0.7"
)

// DefaultCandidateURLs are the registry search routes tried in order. They are
// guesses at an undocumented site and live in configuration.
var DefaultCandidateURLs = []string{
	"/empresas?q={query}",
	"/busca?q={query}",
	"/search?q={query}",
	"/?q={query}",
}

// Config controls the enrichment client.
type Config struct {
	Enabled bool
	// BaseURL is the registry site root; relative candidates and detail pages
	// resolve against it.
	BaseURL       string
	CandidateURLs []string
	Timeout       time.Duration
	Retry         resilience.RetryConfig
	UserAgent     string
	AcceptLang    string
	// CacheSize bounds the detail-page cache; 0 disables it.
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultConfig returns the registry defaults with enrichment disabled.
func DefaultConfig() Config {
	return Config{
		BaseURL:       defaultBaseURL,
		CandidateURLs: DefaultCandidateURLs,
		Timeout:       20 * time.Second,
		Retry: resilience.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
		},
		UserAgent:  defaultUserAgent,
		AcceptLang: defaultAcceptLanguage,
		CacheSize:  256,
		CacheTTL:   30 * time.Minute,
	}
}

// Client performs registry lookups over one HTTP session. It is not safe for
// concurrent use.
type Client struct {
	cfg   Config
	http  *resty.Client
	cache *expirable.LRU[string, model.ContactInfo]
}

// New creates an enrichment client. No I/O happens here.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.CandidateURLs) == 0 {
		cfg.CandidateURLs = DefaultCandidateURLs
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.AcceptLang == "" {
		cfg.AcceptLang = defaultAcceptLanguage
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept-Language", cfg.AcceptLang)
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}

	c := &Client{cfg: cfg, http: rc}
	if cfg.CacheSize > 0 {
		c.cache = expirable.NewLRU[string, model.ContactInfo](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return c
}

// Enabled reports whether lookups perform I/O.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled
}

// Enrich returns the contact details for record. It never returns an error:
// failures are folded into the result status.
func (c *Client) Enrich(ctx context.Context, record model.PlaceRecord, locationQualifier string) model.ContactInfo {
	info, _ := c.Lookup(ctx, record, locationQualifier)
	return info
}

// Lookup is Enrich plus the cause behind an ERROR, PAYWALLED or NOT_FOUND
// status, for callers that record failures.
func (c *Client) Lookup(ctx context.Context, record model.PlaceRecord, locationQualifier string) (model.ContactInfo, error) {
	if !c.cfg.Enabled {
		return model.NewContact(model.ContactStatusDisabled), nil
	}

	query := strings.TrimSpace(record.Name + " " + locationQualifier)
	log := zap.L().With(zap.String("component", "enrich"), zap.String("query", query))

	var lastErr error
	var anyFetched bool
	for _, tmpl := range c.cfg.CandidateURLs {
		if ctx.Err() != nil {
			return model.NewContact(model.ContactStatusError), eris.Wrap(ctx.Err(), "enrich: cancelled")
		}

		u := CandidateURL(tmpl, query)
		body, err := c.fetch(ctx, u)
		if err != nil {
			if resilience.IsPaywall(err) {
				log.Warn("paywall on candidate", zap.String("url", u))
				return model.NewContact(model.ContactStatusPaywalled), err
			}
			log.Debug("candidate failed", zap.String("url", u), zap.Error(err))
			lastErr = err
			continue
		}
		anyFetched = true

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			lastErr = eris.Wrapf(err, "enrich: parse %s", u)
			continue
		}

		id := findRegistryID(doc, string(body))
		if id == "" {
			continue
		}
		return c.detail(ctx, id)
	}

	if !anyFetched && lastErr != nil {
		return model.NewContact(model.ContactStatusError), eris.Wrapf(lastErr, "enrich: all candidates failed for %q", query)
	}
	return model.NewContact(model.ContactStatusNotFound), &resilience.NotFoundError{Key: query}
}

// detail fetches the registry page for id and extracts its contacts.
func (c *Client) detail(ctx context.Context, id string) (model.ContactInfo, error) {
	u := c.DetailURL(id)
	if c.cache != nil {
		if info, ok := c.cache.Get(u); ok {
			return info, nil
		}
	}

	body, err := c.fetch(ctx, u)
	if err != nil {
		if resilience.IsPaywall(err) {
			return model.NewContact(model.ContactStatusPaywalled), err
		}
		return model.NewContact(model.ContactStatusError), eris.Wrapf(err, "enrich: detail page %s", id)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.NewContact(model.ContactStatusError), eris.Wrapf(err, "enrich: parse detail %s", id)
	}
	text := visibleText(doc)

	info := model.OKContact(id, u, extractPhones(text), extractEmails(text))
	if c.cache != nil {
		c.cache.Add(u, info)
	}
	return info, nil
}

// DetailURL is the registry page for a 14-digit id.
func (c *Client) DetailURL(id string) string {
	return c.cfg.BaseURL + "/" + id
}

// CandidateURL fills tmpl with the escaped query. Spaces encode as %20.
func CandidateURL(tmpl, query string) string {
	escaped := strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
	return strings.ReplaceAll(tmpl, QueryPlaceholder, escaped)
}

// fetch GETs u with retries. 402 yields *resilience.PaywallError immediately,
// 429/5xx and network failures are retried, anything else non-200 is a
// *resilience.PermanentError.
func (c *Client) fetch(ctx context.Context, u string) ([]byte, error) {
	retry := c.cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("registry", u)
	}

	return resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		resp, err := c.http.R().SetContext(ctx).Get(u)
		if err != nil {
			return nil, eris.Wrapf(err, "enrich: get %s", u)
		}

		switch code := resp.StatusCode(); {
		case code == http.StatusOK:
			return resp.Body(), nil
		case code == http.StatusPaymentRequired:
			return nil, &resilience.PaywallError{URL: u}
		case resilience.IsTransientHTTPStatus(code):
			return nil, resilience.NewTransientError(eris.Errorf("enrich: status %d at %s", code, u), code)
		default:
			return nil, resilience.NewPermanentError(eris.Errorf("enrich: status %d at %s", code, u), code)
		}
	})
}
