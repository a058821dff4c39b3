package renderer

import (
	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"

	"maprender/tile"
)

// drawWays paints the buckets in layer, then level order. A failing paint
// operation is logged and skipped.
func drawWays(c Canvas, t tile.Tile, buckets [][][]shape) {
	for layer, levels := range buckets {
		for level, shapes := range levels {
			for _, s := range shapes {
				if err := drawShape(c, s); err != nil {
					log.WithFields(log.Fields{"tile": t, "layer": layer, "level": level}).Warnf("draw shape: %s", err)
				}
			}
		}
	}
}

func drawShape(c Canvas, s shape) error {
	switch s.kind {
	case shapeArea:
		if s.fill {
			return c.FillPolygon(s.way.rings, s.paint)
		}
		return c.StrokePolyline(s.way.rings, s.paint, true)
	case shapeLine:
		lines := make([]orb.LineString, len(s.way.rings))
		for i, r := range s.way.rings {
			lines[i] = parallelPath(r, s.dy)
		}
		return c.StrokePolyline(lines, s.paint, false)
	case shapeCircle:
		if s.fill {
			return c.FillCircle(s.center, s.radius, s.paint)
		}
		return c.StrokeCircle(s.center, s.radius, s.paint)
	}
	return nil
}

// drawElements paints labels at their position relative to the tile.
func drawElements(c Canvas, t tile.Tile, elements []*Element) {
	origin := t.Origin()
	for _, e := range elements {
		var err error
		pos := e.relative(origin)
		switch e.Kind {
		case PointText:
			err = c.DrawText(e.Text, pos, e.Fill, e.Stroke)
		case WayText:
			err = c.DrawPathText(e.Text, pos, e.Angle, e.Fill, e.Stroke)
		case SymbolElement:
			err = c.DrawBitmap(e.Bitmap, pos, e.Angle)
		}
		if err != nil {
			log.WithField("tile", t).Warnf("draw label: %s", err)
		}
	}
}
