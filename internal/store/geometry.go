package store

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/suphelp/geo-cli/internal/model"
)

const srid = 4326

// encodePoint converts a coordinate to EWKB bytes with SRID 4326 (x = lng,
// y = lat).
func encodePoint(ll model.LatLng) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{ll.Longitude, ll.Latitude}).SetSRID(srid)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode point")
	}
	return data, nil
}

// decodePoint is the inverse of encodePoint. Nil input decodes to nil.
func decodePoint(data []byte) (*model.LatLng, error) {
	if len(data) == 0 {
		return nil, nil
	}
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "store: decode point")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return nil, eris.Errorf("store: expected point geometry, got %T", g)
	}
	return &model.LatLng{Latitude: p.Y(), Longitude: p.X()}, nil
}
