package mapdata

import (
	"context"
	"io/ioutil"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"maprender/tile"
)

type geoFeature struct {
	tags  Tags
	geom  orb.Geometry
	bound orb.Bound
}

// GeoJSON serves tiles from an in-memory feature collection. Properties
// become tags; polygons tagged natural=sea mark water tiles.
type GeoJSON struct {
	features []geoFeature
}

// LoadGeoJSON reads a feature collection from path.
func LoadGeoJSON(path string) (*GeoJSON, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read file %s", path)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to unmarshal %s", path)
	}
	log.WithField("source", path).Infof("loaded %d features", len(fc.Features))
	return NewGeoJSON(fc), nil
}

func NewGeoJSON(fc *geojson.FeatureCollection) *GeoJSON {
	src := &GeoJSON{features: make([]geoFeature, 0, len(fc.Features))}
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		src.features = append(src.features, geoFeature{
			tags:  propertyTags(f.Properties),
			geom:  f.Geometry,
			bound: f.Geometry.Bound(),
		})
	}
	return src
}

// ReadMapData collects the features intersecting t.
func (g *GeoJSON) ReadMapData(ctx context.Context, t tile.Tile) (*ReadResult, error) {
	c := newCollector(t)
	for i, f := range g.features {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !f.bound.Intersects(c.clipBound) {
			continue
		}
		c.add(f.tags, f.geom)
	}
	return c.finish(), nil
}

// Bound is the extent of all features.
func (g *GeoJSON) Bound() orb.Bound {
	if len(g.features) == 0 {
		return orb.Bound{}
	}
	b := g.features[0].bound
	for _, f := range g.features[1:] {
		b = b.Union(f.bound)
	}
	return b
}

func (g *GeoJSON) Close() error { return nil }
