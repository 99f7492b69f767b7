package enrich

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/suphelp/geo-cli/internal/model"
	"github.com/suphelp/geo-cli/internal/resilience"
	"github.com/suphelp/geo-cli/pkg/google"
)

// mapsPlaceURL is the listing link used when the provider omits googleMapsUri.
const mapsPlaceURL = "https://www.google.com/maps/place/?q=place_id:"

// Details reads a place's phone, website and rating from Google Place
// Details. Only records with a provider place id can be looked up.
type Details struct {
	google google.Client
	retry  resilience.RetryConfig
}

// NewDetails creates a Place Details source. A nil client yields a disabled
// source.
func NewDetails(g google.Client, retry resilience.RetryConfig) *Details {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("places", "place_details")
	}
	return &Details{google: g, retry: retry}
}

// Enabled reports whether a Places client is configured.
func (d *Details) Enabled() bool {
	return d != nil && d.google != nil
}

// Lookup fetches details for record.ExternalID. A missing id or a 404 is
// NOT_FOUND; exhausted retries and other failures are ERROR.
func (d *Details) Lookup(ctx context.Context, record model.PlaceRecord, _ string) (model.ContactInfo, error) {
	if !d.Enabled() {
		return model.NewContact(model.ContactStatusDisabled), nil
	}
	if record.ExternalID == "" {
		return model.NewContact(model.ContactStatusNotFound), &resilience.NotFoundError{Key: record.IdentityKey()}
	}

	pd, err := resilience.DoVal(ctx, d.retry, func(ctx context.Context) (*google.PlaceDetails, error) {
		return d.google.PlaceDetails(ctx, record.ExternalID)
	})
	if err != nil {
		if resilience.IsNotFound(err) {
			return model.NewContact(model.ContactStatusNotFound), err
		}
		zap.L().Debug("place details failed",
			zap.String("component", "enrich"),
			zap.String("place_id", record.ExternalID),
			zap.Error(err),
		)
		return model.NewContact(model.ContactStatusError), eris.Wrapf(err, "enrich: place details %s", record.ExternalID)
	}

	return detailsContact(record.ExternalID, pd), nil
}

func detailsContact(id string, pd *google.PlaceDetails) model.ContactInfo {
	source := pd.GoogleMapsURI
	if source == "" {
		source = mapsPlaceURL + id
	}
	info := model.OKContact("", source, []string{pd.Phone()}, nil)
	info.Website = pd.WebsiteURI
	info.Rating = pd.Rating
	info.RatingCount = pd.UserRatingCount
	return info
}
