package model

import (
	"slices"
)

// ContactStatus is the outcome of an enrichment lookup.
type ContactStatus string

const (
	ContactStatusOK        ContactStatus = "OK"
	ContactStatusNotFound  ContactStatus = "NOT_FOUND"
	ContactStatusPaywalled ContactStatus = "PAYWALLED"
	ContactStatusError     ContactStatus = "ERROR"
	ContactStatusDisabled  ContactStatus = "DISABLED"
)

// ContactInfo is the best-effort enrichment result for a PlaceRecord.
// Status OK implies SourceURL is set; any other status implies no phones or
// emails.
type ContactInfo struct {
	RegistryID string        `json:"registry_id,omitempty"`
	SourceURL  string        `json:"source_url,omitempty"`
	Phones     []string      `json:"phones"`
	Emails     []string      `json:"emails"`
	Status     ContactStatus `json:"status"`

	// Listing details, filled by the places source only.
	Website     string   `json:"website,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	RatingCount *int     `json:"rating_count,omitempty"`
}

// NewContact returns a non-OK result with empty phone and email sets.
func NewContact(status ContactStatus) ContactInfo {
	return ContactInfo{
		Phones: []string{},
		Emails: []string{},
		Status: status,
	}
}

// OKContact returns a successful result. Phones and emails are deduplicated
// and sorted.
func OKContact(registryID, sourceURL string, phones, emails []string) ContactInfo {
	return ContactInfo{
		RegistryID: registryID,
		SourceURL:  sourceURL,
		Phones:     SortedSet(phones),
		Emails:     SortedSet(emails),
		Status:     ContactStatusOK,
	}
}

// SortedSet returns the distinct non-empty values of in, sorted. The result
// is never nil.
func SortedSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
