package model

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// PlaceRecord is one place discovered by the search provider.
type PlaceRecord struct {
	ExternalID       string       `json:"place_id,omitempty"`
	Name             string       `json:"name"`
	FormattedAddress string       `json:"address"`
	Location         *LatLng      `json:"location,omitempty"`
	CategoryTags     []string     `json:"types"`
	Contact          *ContactInfo `json:"contact,omitempty"`
}

// IdentityKey returns the key records are deduplicated and upserted by: the
// provider id when present, otherwise the normalized name and address.
func (r PlaceRecord) IdentityKey() string {
	if r.ExternalID != "" {
		return r.ExternalID
	}
	return "name:" + r.NormKey()
}

// NormKey is normalize(name) + "|" + normalize(address).
func (r PlaceRecord) NormKey() string {
	return Normalize(r.Name) + "|" + Normalize(r.FormattedAddress)
}

// HasLocation reports whether the record carries coordinates.
func (r PlaceRecord) HasLocation() bool {
	return r.Location != nil
}

// WithContact returns a copy of r with c attached.
func (r PlaceRecord) WithContact(c ContactInfo) PlaceRecord {
	r.CategoryTags = append([]string(nil), r.CategoryTags...)
	r.Contact = &c
	return r
}
