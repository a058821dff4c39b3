// Package mapdata reads the features of a tile from a geometry source.
package mapdata

import (
	"context"
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
	log "github.com/sirupsen/logrus"

	"maprender/tile"
)

// LayerOffset maps the signed OSM layer tag onto the 0..10 drawing layers.
const LayerOffset = 5

// clipBuffer extends the clip bound of ways beyond the tile, in tiles, so
// that strokes run past the tile edge without seams.
const clipBuffer = 0.1

// Tags are the attributes of a feature.
type Tags map[string]string

// POI is a point of interest in geographic coordinates.
type POI struct {
	Tags     Tags
	Layer    int
	Position orb.Point
}

// Way is a line or area. Rings[0] is the outer line, further rings are
// holes of an area.
type Way struct {
	Tags   Tags
	Layer  int
	Closed bool
	Rings  []orb.LineString
	// LabelPosition is where area captions and symbols go. It is computed
	// from the unclipped geometry, so every tile agrees on it.
	LabelPosition *orb.Point
	// LabelPath is the unclipped line that way texts and line symbols
	// follow. Without it they follow Rings[0].
	LabelPath orb.LineString
}

// ReadResult is the content of one tile.
type ReadResult struct {
	POIs []POI
	Ways []Way
	// IsWater marks tiles that lie completely inside the sea.
	IsWater bool
}

// Source provides the features of a tile.
type Source interface {
	ReadMapData(ctx context.Context, t tile.Tile) (*ReadResult, error)
	Close() error
}

// layer extracts the drawing layer from the "layer" tag.
func layer(tags Tags) int {
	v, ok := tags["layer"]
	if !ok {
		return LayerOffset
	}
	l, err := strconv.Atoi(v)
	if err != nil {
		log.WithField("layer", v).Debug("ignoring invalid layer tag")
		return LayerOffset
	}
	return l + LayerOffset
}

func isSea(tags Tags) bool {
	return tags["natural"] == "sea"
}

// seaTags are the tags sea areas are drawn with, so that water rules
// match them.
func seaTags(tags Tags) Tags {
	out := make(Tags, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	out["natural"] = "water"
	return out
}

// propertyTags converts decoded properties to string tags. Nil values are
// dropped.
func propertyTags(props map[string]interface{}) Tags {
	tags := make(Tags, len(props))
	for k, v := range props {
		switch val := v.(type) {
		case nil:
		case string:
			tags[k] = val
		case float64:
			tags[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			tags[k] = fmt.Sprint(val)
		}
	}
	return tags
}

// collector clips geometries to a tile and sorts them into a ReadResult.
type collector struct {
	bound     orb.Bound
	clipBound orb.Bound
	result    ReadResult
	sea       orb.MultiPolygon
	seaWays   []Way
}

func newCollector(t tile.Tile) *collector {
	mt := t.MapTile()
	return &collector{bound: mt.Bound(), clipBound: mt.Bound(clipBuffer)}
}

func (c *collector) add(tags Tags, g orb.Geometry) {
	if g == nil || !g.Bound().Intersects(c.clipBound) {
		return
	}
	switch geom := g.(type) {
	case orb.Point:
		if c.bound.Contains(geom) {
			c.result.POIs = append(c.result.POIs, POI{Tags: tags, Layer: layer(tags), Position: geom})
		}
	case orb.MultiPoint:
		for _, p := range geom {
			c.add(tags, p)
		}
	case orb.LineString:
		c.addLine(tags, geom)
	case orb.MultiLineString:
		for _, ls := range geom {
			c.addLine(tags, ls)
		}
	case orb.Polygon:
		c.addPolygon(tags, geom)
	case orb.MultiPolygon:
		for _, p := range geom {
			c.addPolygon(tags, p)
		}
	case orb.Collection:
		for _, member := range geom {
			c.add(tags, member)
		}
	default:
		log.WithField("type", g.GeoJSONType()).Debug("skipping unsupported geometry")
	}
}

func (c *collector) addLine(tags Tags, ls orb.LineString) {
	if len(ls) < 2 {
		return
	}
	closed := len(ls) > 3 && ls[0].Equal(ls[len(ls)-1])
	pieces := clip.LineString(c.clipBound, ls)
	rings := make([]orb.LineString, 0, len(pieces))
	for _, piece := range pieces {
		if len(piece) >= 2 {
			rings = append(rings, piece)
		}
	}
	if len(rings) == 0 {
		return
	}
	c.result.Ways = append(c.result.Ways, Way{
		Tags:      tags,
		Layer:     layer(tags),
		Closed:    closed && len(pieces) == 1,
		Rings:     rings,
		LabelPath: ls,
	})
}

func (c *collector) addPolygon(tags Tags, p orb.Polygon) {
	if len(p) == 0 || len(p[0]) < 4 {
		return
	}
	sea := isSea(tags)
	if sea {
		c.sea = append(c.sea, p)
		tags = seaTags(tags)
	}
	clipped := clip.Polygon(c.clipBound, p.Clone())
	if len(clipped) == 0 || len(clipped[0]) < 4 {
		return
	}
	center, _ := planar.CentroidArea(p[0])
	rings := make([]orb.LineString, 0, len(clipped))
	for _, r := range clipped {
		if len(r) >= 4 {
			rings = append(rings, orb.LineString(r))
		}
	}
	w := Way{
		Tags:          tags,
		Layer:         layer(tags),
		Closed:        true,
		Rings:         rings,
		LabelPosition: &center,
		LabelPath:     orb.LineString(p[0]),
	}
	if sea {
		c.seaWays = append(c.seaWays, w)
		return
	}
	c.result.Ways = append(c.result.Ways, w)
}

// finish marks tiles covered by the sea as water. Partly covered tiles
// draw the sea areas instead.
func (c *collector) finish() *ReadResult {
	c.result.IsWater = c.coveredBySea()
	if !c.result.IsWater {
		c.result.Ways = append(c.result.Ways, c.seaWays...)
	}
	return &c.result
}

// coveredBySea reports whether all tile corners lie in the sea and no
// coastline or island outline enters the tile.
func (c *collector) coveredBySea() bool {
	if len(c.sea) == 0 {
		return false
	}
	for _, corner := range c.bound.ToRing()[:4] {
		if !planar.MultiPolygonContains(c.sea, corner) {
			return false
		}
	}
	for _, p := range c.sea {
		for _, r := range p {
			if len(clip.LineString(c.bound, orb.LineString(r))) > 0 {
				return false
			}
		}
	}
	return true
}
