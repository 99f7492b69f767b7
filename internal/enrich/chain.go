package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/suphelp/geo-cli/internal/model"
)

// Source is one contact lookup backend.
type Source interface {
	Enabled() bool
	Lookup(ctx context.Context, record model.PlaceRecord, locationQualifier string) (model.ContactInfo, error)
}

// Chain consults every enabled source in order and merges their OK results.
// Phones and emails are unioned; single-valued fields keep the first
// non-empty value. When no source answers OK the most severe outcome wins:
// ERROR, then PAYWALLED, then NOT_FOUND.
type Chain struct {
	sources []Source
}

// NewChain builds a chain from sources, skipping nil entries.
func NewChain(sources ...Source) *Chain {
	c := &Chain{}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

// Enabled reports whether any source performs lookups.
func (c *Chain) Enabled() bool {
	for _, s := range c.sources {
		if s.Enabled() {
			return true
		}
	}
	return false
}

// Lookup runs the enabled sources against record.
func (c *Chain) Lookup(ctx context.Context, record model.PlaceRecord, locationQualifier string) (model.ContactInfo, error) {
	if !c.Enabled() {
		return model.NewContact(model.ContactStatusDisabled), nil
	}

	var (
		merged  *model.ContactInfo
		worst   = model.NewContact(model.ContactStatusDisabled)
		worstEr error
	)
	for _, s := range c.sources {
		if !s.Enabled() {
			continue
		}
		if ctx.Err() != nil {
			return model.NewContact(model.ContactStatusError), eris.Wrap(ctx.Err(), "enrich: cancelled")
		}

		info, err := s.Lookup(ctx, record, locationQualifier)
		if info.Status == model.ContactStatusOK {
			if merged == nil {
				merged = &info
			} else {
				m := mergeContacts(*merged, info)
				merged = &m
			}
			continue
		}
		if severity(info.Status) > severity(worst.Status) {
			worst, worstEr = info, err
		}
	}

	if merged != nil {
		return *merged, nil
	}
	return worst, worstEr
}

func mergeContacts(a, b model.ContactInfo) model.ContactInfo {
	out := model.OKContact(
		firstNonEmpty(a.RegistryID, b.RegistryID),
		firstNonEmpty(a.SourceURL, b.SourceURL),
		append(append([]string{}, a.Phones...), b.Phones...),
		append(append([]string{}, a.Emails...), b.Emails...),
	)
	out.Website = firstNonEmpty(a.Website, b.Website)
	out.Rating = a.Rating
	if out.Rating == nil {
		out.Rating = b.Rating
	}
	out.RatingCount = a.RatingCount
	if out.RatingCount == nil {
		out.RatingCount = b.RatingCount
	}
	return out
}

func severity(s model.ContactStatus) int {
	switch s {
	case model.ContactStatusError:
		return 3
	case model.ContactStatusPaywalled:
		return 2
	case model.ContactStatusNotFound:
		return 1
	default:
		return 0
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
