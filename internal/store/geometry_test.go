package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/suphelp/geo-cli/internal/model"
)

func TestEncodePoint_AxisOrderAndSRID(t *testing.T) {
	data, err := encodePoint(model.LatLng{Latitude: -23.55, Longitude: -46.63})
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	p, ok := g.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, 4326, p.SRID())
	assert.InDelta(t, -46.63, p.X(), 1e-12)
	assert.InDelta(t, -23.55, p.Y(), 1e-12)
}

func TestDecodePoint(t *testing.T) {
	data, err := encodePoint(model.LatLng{Latitude: 10, Longitude: 20})
	require.NoError(t, err)

	ll, err := decodePoint(data)
	require.NoError(t, err)
	require.NotNil(t, ll)
	assert.Equal(t, model.LatLng{Latitude: 10, Longitude: 20}, *ll)

	ll, err = decodePoint(nil)
	require.NoError(t, err)
	assert.Nil(t, ll)

	_, err = decodePoint([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestDecodePoint_RejectsNonPoint(t *testing.T) {
	ls := geom.NewLineStringFlat(geom.XY, []float64{0, 0, 1, 1})
	data, err := ewkb.Marshal(ls, ewkb.NDR)
	require.NoError(t, err)

	_, err = decodePoint(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected point")
}
