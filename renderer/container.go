package renderer

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	log "github.com/sirupsen/logrus"

	"maprender/mapdata"
	"maprender/theme"
	"maprender/tile"
)

// Layers is the number of drawing layers, features are clamped into
// 0..Layers-1.
const Layers = 11

const (
	// defaultFontSize applies to text instructions without a font size.
	defaultFontSize  = 10
	defaultTextColor = "#000000"
)

// validLayer clamps a feature layer into the drawing layers.
func validLayer(layer int) int {
	if layer < 0 {
		return 0
	}
	if layer >= Layers {
		return Layers - 1
	}
	return layer
}

// wayContainer is a way projected onto a tile.
type wayContainer struct {
	tags   theme.Tags
	layer  int
	closed bool
	// rings are in pixels relative to the tile origin.
	rings  []orb.LineString
	origin orb.Point
	label  *orb.Point
	// path is the unclipped line in absolute pixels, nil if unknown.
	path orb.LineString
}

func newWayContainer(w mapdata.Way, t tile.Tile) *wayContainer {
	c := &wayContainer{
		tags:   theme.Tags(w.Tags),
		layer:  validLayer(w.Layer),
		closed: w.Closed,
		rings:  make([]orb.LineString, len(w.Rings)),
		origin: t.Origin(),
	}
	for i, ring := range w.Rings {
		projected := make(orb.LineString, len(ring))
		for j, ll := range ring {
			projected[j] = t.PixelRelative(ll)
		}
		c.rings[i] = projected
	}
	if w.LabelPosition != nil {
		p := tile.PixelAbsolute(*w.LabelPosition, t.Zoom(), t.Size())
		c.label = &p
	}
	if len(w.LabelPath) > 1 {
		c.path = make(orb.LineString, len(w.LabelPath))
		for i, ll := range w.LabelPath {
			c.path[i] = tile.PixelAbsolute(ll, t.Zoom(), t.Size())
		}
	}
	return c
}

// tileWay is a closed way covering the whole tile.
func tileWay(t tile.Tile, tags theme.Tags) *wayContainer {
	s := float64(t.Size())
	return &wayContainer{
		tags:   tags,
		closed: true,
		rings:  []orb.LineString{{{0, 0}, {s, 0}, {s, s}, {0, s}, {0, 0}}},
		origin: t.Origin(),
	}
}

// absolute returns the outer line in absolute pixels.
func (w *wayContainer) absolute() orb.LineString {
	if len(w.rings) == 0 {
		return nil
	}
	out := make(orb.LineString, len(w.rings[0]))
	for i, p := range w.rings[0] {
		out[i] = orb.Point{p[0] + w.origin[0], p[1] + w.origin[1]}
	}
	return out
}

// labelPath is the line way texts and line symbols follow. Tiles sharing
// a way agree on it when the source provides the unclipped line.
func (w *wayContainer) labelPath() orb.LineString {
	if w.path != nil {
		return w.path
	}
	return w.absolute()
}

// centerAbsolute is where area captions and symbols are placed.
func (w *wayContainer) centerAbsolute() orb.Point {
	if w.label != nil {
		return *w.label
	}
	outer := w.absolute()
	if len(outer) == 0 {
		return w.origin
	}
	if w.closed {
		c, area := planar.CentroidArea(orb.Ring(outer))
		if area != 0 {
			return c
		}
	}
	return outer.Bound().Center()
}

type shapeKind uint8

const (
	shapeArea shapeKind = iota + 1
	shapeLine
	shapeCircle
)

// shape is one paint operation waiting in a level bucket.
type shape struct {
	kind   shapeKind
	fill   bool
	paint  theme.Paint
	way    *wayContainer
	dy     float64
	center orb.Point
	radius float64
}

// renderContext holds the state of a single tile render.
type renderContext struct {
	job         Job
	theme       *theme.Theme
	factory     GraphicFactory
	strokeScale float64
	textScale   float64

	// buckets are indexed by layer, then level.
	buckets [][][]shape
	layer   int
	labels  []*Element
}

func newRenderContext(job Job, th *theme.Theme, factory GraphicFactory) *renderContext {
	textScale := job.TextScale
	if textScale <= 0 {
		textScale = 1
	}
	rc := &renderContext{
		job:         job,
		theme:       th,
		factory:     factory,
		strokeScale: theme.StrokeScale(job.Tile.Zoom()),
		textScale:   textScale,
		buckets:     make([][][]shape, Layers),
	}
	for i := range rc.buckets {
		rc.buckets[i] = make([][]shape, th.Levels())
	}
	return rc
}

func (rc *renderContext) zoom() int { return rc.job.Tile.Zoom() }

func (rc *renderContext) addShape(level int, s shape) {
	levels := rc.buckets[rc.layer]
	if level < 0 || level >= len(levels) {
		log.WithField("tile", rc.job.Tile).Warnf("instruction level %d out of range", level)
		return
	}
	levels[level] = append(levels[level], s)
}

func (rc *renderContext) renderWater() {
	rc.layer = 0
	way := tileWay(rc.job.Tile, theme.Tags{"natural": "water"})
	rc.theme.MatchClosedWay(&wayCallback{rc: rc, way: way}, way.tags, rc.zoom())
}

func (rc *renderContext) renderPOI(poi mapdata.POI) {
	rc.layer = validLayer(poi.Layer)
	cb := &poiCallback{
		rc:       rc,
		absolute: tile.PixelAbsolute(poi.Position, rc.zoom(), rc.job.Tile.Size()),
		relative: rc.job.Tile.PixelRelative(poi.Position),
	}
	rc.theme.MatchNode(cb, theme.Tags(poi.Tags), rc.zoom())
}

func (rc *renderContext) renderWay(w mapdata.Way) {
	way := newWayContainer(w, rc.job.Tile)
	rc.layer = way.layer
	rc.theme.MatchWay(&wayCallback{rc: rc, way: way}, way.tags, rc.zoom(), way.closed)
}

// strokePaint applies the zoom dependent stroke scale.
func (rc *renderContext) strokePaint(p theme.Paint) theme.Paint {
	p.Width *= rc.strokeScale
	if len(p.Dash) > 0 {
		dash := make([]float64, len(p.Dash))
		for i, d := range p.Dash {
			dash[i] = d * rc.strokeScale
		}
		p.Dash = dash
	}
	return p
}

// textPaints resolves the fill and halo paints of a text instruction.
func (rc *renderContext) textPaints(ri *theme.Instruction) (fill, stroke theme.Paint) {
	size := ri.Fill.FontSize
	if size <= 0 {
		size = defaultFontSize
	}
	size *= rc.textScale
	fill = ri.Fill
	if !fill.Visible() {
		fill.Color = defaultTextColor
	}
	fill.FontSize = size
	if ri.Stroke.Visible() && ri.Stroke.Width > 0 {
		stroke = ri.Stroke
		stroke.FontSize = size
	}
	return fill, stroke
}

// addWayLabels keeps the labels that reach into the tile.
func (rc *renderContext) addWayLabels(elements []*Element) {
	boundary := rc.job.Tile.Boundary()
	for _, e := range elements {
		if e.Intersects(boundary) {
			rc.labels = append(rc.labels, e)
		}
	}
}

func (rc *renderContext) caption(ri *theme.Instruction, text string, pos orb.Point) {
	fill, stroke := rc.textPaints(ri)
	w, h := rc.factory.TextSize(text, fill)
	if stroke.Visible() {
		w += stroke.Width
		h += stroke.Width
	}
	center := orb.Point{pos[0], pos[1] + ri.Dy}
	offset := 0.0
	if ri.Symbol != nil && ri.Symbol.Bitmap != nil {
		offset = float64(ri.Symbol.Bitmap.Height()) / 2
	}
	switch ri.Position {
	case theme.Above:
		center[1] -= offset + h/2
	case theme.Below:
		center[1] += offset + h/2
	}
	rc.labels = append(rc.labels, &Element{
		Kind:     PointText,
		Priority: ri.Priority,
		Position: center,
		Boundary: box(center, w, h),
		Text:     text,
		Fill:     fill,
		Stroke:   stroke,
	})
}

func (rc *renderContext) symbol(ri *theme.Instruction, pos orb.Point) {
	if ri.Bitmap == nil {
		log.WithField("tile", rc.job.Tile).Warnf("missing symbol %s", ri.Src)
		return
	}
	rc.labels = append(rc.labels, &Element{
		Kind:     SymbolElement,
		Priority: ri.Priority,
		Position: pos,
		Boundary: box(pos, float64(ri.Bitmap.Width()), float64(ri.Bitmap.Height())),
		Bitmap:   ri.Bitmap,
	})
}

type poiCallback struct {
	rc       *renderContext
	absolute orb.Point
	relative orb.Point
}

func (c *poiCallback) RenderPOICaption(ri *theme.Instruction, caption string) {
	c.rc.caption(ri, caption, c.absolute)
}

func (c *poiCallback) RenderPOICircle(ri *theme.Instruction) {
	radius := ri.Radius
	if ri.ScaleRadius {
		radius *= c.rc.strokeScale
	}
	if ri.Stroke.Visible() {
		c.rc.addShape(ri.Level, shape{kind: shapeCircle, paint: c.rc.strokePaint(ri.Stroke), center: c.relative, radius: radius})
	}
	if ri.Fill.Visible() {
		c.rc.addShape(ri.Level, shape{kind: shapeCircle, fill: true, paint: ri.Fill, center: c.relative, radius: radius})
	}
}

func (c *poiCallback) RenderPOISymbol(ri *theme.Instruction) {
	c.rc.symbol(ri, c.absolute)
}

type wayCallback struct {
	rc  *renderContext
	way *wayContainer
}

func (c *wayCallback) RenderArea(ri *theme.Instruction) {
	if ri.Stroke.Visible() {
		c.rc.addShape(ri.Level, shape{kind: shapeArea, paint: c.rc.strokePaint(ri.Stroke), way: c.way})
	}
	if ri.Fill.Visible() {
		c.rc.addShape(ri.Level, shape{kind: shapeArea, fill: true, paint: ri.Fill, way: c.way})
	}
}

func (c *wayCallback) RenderAreaCaption(ri *theme.Instruction, caption string) {
	c.rc.caption(ri, caption, c.way.centerAbsolute())
}

func (c *wayCallback) RenderAreaSymbol(ri *theme.Instruction) {
	c.rc.symbol(ri, c.way.centerAbsolute())
}

func (c *wayCallback) RenderWay(ri *theme.Instruction) {
	if !ri.Stroke.Visible() {
		return
	}
	c.rc.addShape(ri.Level, shape{
		kind:  shapeLine,
		paint: c.rc.strokePaint(ri.Stroke),
		way:   c.way,
		dy:    ri.Dy * c.rc.strokeScale,
	})
}

func (c *wayCallback) RenderWaySymbol(ri *theme.Instruction) {
	if ri.Bitmap == nil {
		log.WithField("tile", c.rc.job.Tile).Warnf("missing symbol %s", ri.Src)
		return
	}
	c.rc.addWayLabels(waySymbols(ri, c.way.labelPath()))
}

func (c *wayCallback) RenderWayText(ri *theme.Instruction, text string) {
	fill, stroke := c.rc.textPaints(ri)
	w, h := c.rc.factory.TextSize(text, fill)
	c.rc.addWayLabels(wayTexts(ri, text, w, h, fill, stroke, parallelPath(c.way.labelPath(), ri.Dy)))
}
