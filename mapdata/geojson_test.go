package mapdata

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maprender/tile"
)

var berlin = orb.Point{13.4, 52.52}

func testTile(t *testing.T) (tile.Tile, orb.Bound) {
	mt := maptile.At(berlin, 14)
	tl, err := tile.FromMapTile(mt, 256)
	require.NoError(t, err)
	return tl, mt.Bound()
}

func feature(g orb.Geometry, props geojson.Properties) *geojson.Feature {
	f := geojson.NewFeature(g)
	f.Properties = props
	return f
}

func testCollection(b orb.Bound) *geojson.FeatureCollection {
	c := b.Center()
	fc := geojson.NewFeatureCollection()
	fc.Append(feature(c, geojson.Properties{"amenity": "cafe", "name": "Central", "layer": "1"}))
	fc.Append(feature(orb.Point{b.Max.X() + 1, c.Y()}, geojson.Properties{"amenity": "pub"}))
	fc.Append(feature(orb.LineString{{b.Min.X() - 0.5, c.Y()}, {b.Max.X() + 0.5, c.Y()}},
		geojson.Properties{"highway": "primary", "lanes": 2.0}))
	fc.Append(feature(b.Pad(0.5).ToPolygon(), geojson.Properties{"landuse": "residential"}))
	return fc
}

func TestGeoJSONReadMapData(t *testing.T) {
	tl, b := testTile(t)
	src := NewGeoJSON(testCollection(b))

	res, err := src.ReadMapData(context.Background(), tl)
	require.NoError(t, err)
	assert.False(t, res.IsWater)

	require.Len(t, res.POIs, 1)
	poi := res.POIs[0]
	assert.Equal(t, "Central", poi.Tags["name"])
	assert.Equal(t, LayerOffset+1, poi.Layer)
	assert.Equal(t, b.Center(), poi.Position)

	require.Len(t, res.Ways, 2)
	road := res.Ways[0]
	assert.Equal(t, "2", road.Tags["lanes"])
	assert.Equal(t, LayerOffset, road.Layer)
	assert.False(t, road.Closed)
	require.Len(t, road.Rings, 1)
	clipBound := tl.MapTile().Bound(clipBuffer)
	for _, p := range road.Rings[0] {
		assert.True(t, clipBound.Pad(1e-9).Contains(p), "%v outside of clip bound", p)
	}

	area := res.Ways[1]
	assert.True(t, area.Closed)
	require.NotNil(t, area.LabelPosition)
	assert.InDelta(t, b.Center().X(), area.LabelPosition.X(), 1e-9)
	assert.InDelta(t, b.Center().Y(), area.LabelPosition.Y(), 1e-9)
	for _, p := range area.Rings[0] {
		assert.True(t, clipBound.Pad(1e-9).Contains(p), "%v outside of clip bound", p)
	}
}

func TestGeoJSONWater(t *testing.T) {
	tl, b := testTile(t)
	fc := geojson.NewFeatureCollection()
	fc.Append(feature(b.Pad(1).ToPolygon(), geojson.Properties{"natural": "sea"}))
	src := NewGeoJSON(fc)

	res, err := src.ReadMapData(context.Background(), tl)
	require.NoError(t, err)
	assert.True(t, res.IsWater)
	assert.Empty(t, res.Ways, "sea polygons are not drawn as ways")

	coast := geojson.NewFeatureCollection()
	half := orb.Bound{Min: orb.Point{b.Min.X() - 1, b.Min.Y() - 1}, Max: orb.Point{b.Center().X(), b.Max.Y() + 1}}
	coast.Append(feature(half.ToPolygon(), geojson.Properties{"natural": "sea"}))
	res, err = NewGeoJSON(coast).ReadMapData(context.Background(), tl)
	require.NoError(t, err)
	assert.False(t, res.IsWater)
	require.Len(t, res.Ways, 1, "partly covered tiles draw the sea")
	sea := res.Ways[0]
	assert.True(t, sea.Closed)
	assert.Equal(t, "water", sea.Tags["natural"])
	assert.Equal(t, "sea", coast.Features[0].Properties["natural"], "source tags are left alone")

	island := b.Pad(-(b.Max.X() - b.Min.X()) / 4)
	holed := geojson.NewFeatureCollection()
	holed.Append(feature(orb.Polygon{b.Pad(1).ToRing(), island.ToRing()}, geojson.Properties{"natural": "sea"}))
	res, err = NewGeoJSON(holed).ReadMapData(context.Background(), tl)
	require.NoError(t, err)
	assert.False(t, res.IsWater, "an island in the tile")
	require.Len(t, res.Ways, 1)
	assert.Len(t, res.Ways[0].Rings, 2)
}

func TestGeoJSONLabelPath(t *testing.T) {
	tl, b := testTile(t)
	road := orb.LineString{{b.Min.X() - 0.5, b.Center().Y()}, {b.Max.X() + 0.5, b.Center().Y()}}
	res, err := NewGeoJSON(testCollection(b)).ReadMapData(context.Background(), tl)
	require.NoError(t, err)
	require.Len(t, res.Ways, 2)
	assert.Equal(t, road, res.Ways[0].LabelPath, "lines keep their unclipped geometry")
	assert.Equal(t, orb.LineString(b.Pad(0.5).ToRing()), res.Ways[1].LabelPath)

	// a line leaving and re-entering the tile stays one way
	c := b.Center()
	w := b.Max.X() - b.Min.X()
	zigzag := orb.LineString{{c.X(), c.Y()}, {c.X() + 2*w, c.Y()}, {c.X() + 2*w, c.Y() + w/8}, {c.X(), c.Y() + w/8}}
	fc := geojson.NewFeatureCollection()
	fc.Append(feature(zigzag, geojson.Properties{"highway": "track"}))
	res, err = NewGeoJSON(fc).ReadMapData(context.Background(), tl)
	require.NoError(t, err)
	require.Len(t, res.Ways, 1)
	assert.Len(t, res.Ways[0].Rings, 2)
	assert.Equal(t, zigzag, res.Ways[0].LabelPath)
}

func TestGeoJSONCancelled(t *testing.T) {
	tl, b := testTile(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGeoJSON(testCollection(b)).ReadMapData(ctx, tl)
	assert.Equal(t, context.Canceled, err)
}

func TestLoadGeoJSON(t *testing.T) {
	tl, b := testTile(t)
	data, err := testCollection(b).MarshalJSON()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "features.geojson")
	require.NoError(t, ioutil.WriteFile(path, data, 0644))

	src, err := LoadGeoJSON(path)
	require.NoError(t, err)
	defer src.Close()
	assert.True(t, src.Bound().Contains(b.Center()))

	res, err := src.ReadMapData(context.Background(), tl)
	require.NoError(t, err)
	assert.Len(t, res.POIs, 1)

	_, err = LoadGeoJSON(filepath.Join(t.TempDir(), "missing.geojson"))
	assert.Error(t, err)
}

func TestLayer(t *testing.T) {
	assert.Equal(t, LayerOffset, layer(Tags{}))
	assert.Equal(t, LayerOffset-2, layer(Tags{"layer": "-2"}))
	assert.Equal(t, LayerOffset, layer(Tags{"layer": "high"}))
}

func TestPropertyTags(t *testing.T) {
	tags := propertyTags(map[string]interface{}{
		"name":   "A",
		"ele":    1234.5,
		"oneway": true,
		"note":   nil,
	})
	assert.Equal(t, Tags{"name": "A", "ele": "1234.5", "oneway": "true"}, tags)
}
