package google

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/suphelp/geo-cli/internal/resilience"
)

const (
	defaultBaseURL = "https://places.googleapis.com/v1"

	// FieldMask selects the fields normalized into a place record.
	FieldMask = "places.id,places.displayName,places.formattedAddress,places.location,places.types,nextPageToken"

	// DetailsFieldMask selects the contact fields read from Place Details.
	DetailsFieldMask = "id,displayName,formattedAddress,nationalPhoneNumber,internationalPhoneNumber,websiteUri,googleMapsUri,rating,userRatingCount"

	// MaxPageSize is the provider's per-page result cap.
	MaxPageSize = 20

	maxErrorBody = 300
)

// Client performs Google Places API operations.
type Client interface {
	SearchText(ctx context.Context, req SearchTextRequest) (*SearchTextResponse, error)
	PlaceDetails(ctx context.Context, placeID string) (*PlaceDetails, error)
}

// SearchTextRequest is the body of a places:searchText call. One call
// returns one page.
type SearchTextRequest struct {
	TextQuery    string        `json:"textQuery"`
	LanguageCode string        `json:"languageCode,omitempty"`
	RegionCode   string        `json:"regionCode,omitempty"`
	PageSize     int           `json:"pageSize,omitempty"`
	LocationBias *LocationBias `json:"locationBias,omitempty"`
	PageToken    string        `json:"pageToken,omitempty"`
}

// LocationBias prefers results inside Circle without excluding others.
type LocationBias struct {
	Circle Circle `json:"circle"`
}

// Circle is a center point plus a radius in meters.
type Circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

// LatLng is a coordinate pair as the API encodes it.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SearchTextResponse is one page of Text Search results.
type SearchTextResponse struct {
	Places        []Place `json:"places"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// Place represents a place returned by the API. Every field is optional.
type Place struct {
	ID               string       `json:"id,omitempty"`
	DisplayName      *DisplayName `json:"displayName,omitempty"`
	FormattedAddress string       `json:"formattedAddress,omitempty"`
	Location         *LatLng      `json:"location,omitempty"`
	Types            []string     `json:"types,omitempty"`
}

// PlaceDetails is the contact-oriented subset of a Place Details response.
type PlaceDetails struct {
	ID                       string       `json:"id,omitempty"`
	DisplayName              *DisplayName `json:"displayName,omitempty"`
	FormattedAddress         string       `json:"formattedAddress,omitempty"`
	NationalPhoneNumber      string       `json:"nationalPhoneNumber,omitempty"`
	InternationalPhoneNumber string       `json:"internationalPhoneNumber,omitempty"`
	WebsiteURI               string       `json:"websiteUri,omitempty"`
	GoogleMapsURI            string       `json:"googleMapsUri,omitempty"`
	Rating                   *float64     `json:"rating,omitempty"`
	UserRatingCount          *int         `json:"userRatingCount,omitempty"`
}

// Phone prefers the national format, as local callers dial it.
func (d *PlaceDetails) Phone() string {
	if d.NationalPhoneNumber != "" {
		return d.NationalPhoneNumber
	}
	return d.InternationalPhoneNumber
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// APIError is the structured error object the API returns on failure.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Google Places API client. An empty API key is a
// configuration error reported before any request is made.
func NewClient(apiKey string, opts ...Option) (Client, error) {
	if apiKey == "" {
		return nil, eris.New("google: missing places API key")
	}
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// SearchText issues a single page request. Retryable statuses (429, 5xx)
// come back as *resilience.TransientError, other non-200 statuses and
// unparseable bodies as *resilience.PermanentError. Transport errors are
// returned wrapped and classified by resilience.IsTransient.
func (c *httpClient) SearchText(ctx context.Context, in SearchTextRequest) (*SearchTextResponse, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-FieldMask", FieldMask)

	var result SearchTextResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PlaceDetails fetches one place by id. Both "ChIJ..." and "places/ChIJ..."
// forms are accepted. A 404 is reported as *resilience.NotFoundError; other
// statuses are classified as in SearchText.
func (c *httpClient) PlaceDetails(ctx context.Context, placeID string) (*PlaceDetails, error) {
	id := strings.TrimPrefix(strings.TrimSpace(placeID), "places/")
	if id == "" {
		return nil, eris.New("google: empty place id")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/places/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, eris.Wrap(err, "google: create request")
	}
	req.Header.Set("X-Goog-FieldMask", DetailsFieldMask)

	var result PlaceDetails
	if err := c.do(req, &result); err != nil {
		var pe *resilience.PermanentError
		if eris.As(err, &pe) && pe.StatusCode == http.StatusNotFound {
			return nil, &resilience.NotFoundError{Key: id}
		}
		return nil, err
	}
	return &result, nil
}

// do sends req with the API key and decodes a 200 body into out.
func (c *httpClient) do(req *http.Request, out any) error {
	req.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("google: status %d: %s", resp.StatusCode, errorDetail(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return resilience.NewPermanentError(statusErr, resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return resilience.NewPermanentError(eris.Wrap(err, "google: malformed response"), resp.StatusCode)
	}
	return nil
}

// errorDetail returns the provider's error message when the body carries one,
// else the raw body truncated to maxErrorBody bytes.
func errorDetail(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return string(body)
}
