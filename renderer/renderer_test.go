package renderer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maprender/mapdata"
	"maprender/theme"
	"maprender/tile"
)

// recordingCanvas logs paint operations as strings.
type recordingCanvas struct {
	size  int
	calls []string
}

func (c *recordingCanvas) add(format string, args ...interface{}) error {
	c.calls = append(c.calls, fmt.Sprintf(format, args...))
	return nil
}

func (c *recordingCanvas) Fill(color string) error {
	return c.add("fill %s", color)
}

func (c *recordingCanvas) FillPolygon(rings []orb.LineString, p theme.Paint) error {
	return c.add("fillPolygon %s", p.Color)
}

func (c *recordingCanvas) StrokePolyline(lines []orb.LineString, p theme.Paint, closed bool) error {
	return c.add("strokePolyline %s %g closed=%t", p.Color, p.Width, closed)
}

func (c *recordingCanvas) FillCircle(center orb.Point, radius float64, p theme.Paint) error {
	return c.add("fillCircle %s %g", p.Color, radius)
}

func (c *recordingCanvas) StrokeCircle(center orb.Point, radius float64, p theme.Paint) error {
	return c.add("strokeCircle %s %g", p.Color, radius)
}

func (c *recordingCanvas) DrawText(text string, pos orb.Point, fill, stroke theme.Paint) error {
	return c.add("text %s", text)
}

func (c *recordingCanvas) DrawPathText(text string, pos orb.Point, angle float64, fill, stroke theme.Paint) error {
	return c.add("pathText %s", text)
}

func (c *recordingCanvas) DrawBitmap(b theme.Bitmap, pos orb.Point, angle float64) error {
	return c.add("bitmap")
}

func (c *recordingCanvas) EncodePNG(w io.Writer) error {
	return nil
}

func (c *recordingCanvas) texts() []string {
	var out []string
	for _, call := range c.calls {
		if strings.HasPrefix(call, "text ") {
			out = append(out, strings.TrimPrefix(call, "text "))
		}
	}
	return out
}

// fakeFactory measures text as 0.6 font sizes per character.
type fakeFactory struct{}

func (fakeFactory) NewCanvas(size int, hasAlpha bool) Canvas {
	return &recordingCanvas{size: size}
}

func (fakeFactory) TextSize(text string, p theme.Paint) (float64, float64) {
	return float64(len(text)) * p.FontSize * 0.6, p.FontSize
}

// renderedTiles is a tile cache holding every tile marked as rendered.
type renderedTiles struct {
	mu    sync.Mutex
	tiles map[tile.Tile]bool
}

func newRenderedTiles() *renderedTiles {
	return &renderedTiles{tiles: make(map[tile.Tile]bool)}
}

func (c *renderedTiles) ContainsRenderedTile(t tile.Tile, job Job) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tiles[t]
}

func (c *renderedTiles) mark(t tile.Tile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiles[t] = true
}

func loadTheme(t *testing.T, src string) *theme.Theme {
	t.Helper()
	th, err := theme.LoadYAML(strings.NewReader(src), theme.Options{})
	require.NoError(t, err)
	return th
}

func staticJob(t *testing.T, tl tile.Tile, src string) Job {
	return Job{Tile: tl, Theme: StaticTheme{Name: t.Name(), Theme: loadTheme(t, src)}}
}

// lonAt is the longitude of an absolute pixel column.
func lonAt(px float64, zoom, size int) float64 {
	return px/float64(size*(1<<uint(zoom)))*360 - 180
}

// square is a closed ring around the center of tl.
func square(tl tile.Tile) orb.LineString {
	b := tl.Bound()
	c := b.Center()
	d := (b.Max[0] - b.Min[0]) / 4
	return orb.LineString{
		{c[0] - d, c[1] - d}, {c[0] + d, c[1] - d}, {c[0] + d, c[1] + d}, {c[0] - d, c[1] + d}, {c[0] - d, c[1] - d},
	}
}

// line crosses the middle of tl from west to east.
func line(tl tile.Tile) orb.LineString {
	b := tl.Bound()
	c := b.Center()
	d := (b.Max[0] - b.Min[0]) / 3
	return orb.LineString{{c[0] - d, c[1]}, {c[0] + d, c[1]}}
}

const waterTheme = `
background: "#f8f4f0"
rules:
  - e: way
    k: natural
    v: water
    zoom-min: 0
    zoom-max: 22
    instructions:
      - type: area
        fill: "#b5d0d0"
        stroke: "#8cb0b0"
        stroke-width: 1
`

func TestWaterPolygon(t *testing.T) {
	tl := tile.MustNew(5, 5, 10, 256)
	job := staticJob(t, tl, waterTheme)
	th, err := job.Theme.Build()
	require.NoError(t, err)

	water := mapdata.Way{Tags: mapdata.Tags{"natural": "water"}, Closed: true, Rings: []orb.LineString{square(tl)}}
	rc := newRenderContext(job, th, fakeFactory{})
	rc.renderWay(water)
	for layer, levels := range rc.buckets {
		for level, shapes := range levels {
			if layer == 0 && level == 0 {
				require.Len(t, shapes, 2)
				assert.False(t, shapes[0].fill)
				assert.True(t, shapes[1].fill)
				continue
			}
			assert.Empty(t, shapes, "layer %d level %d", layer, level)
		}
	}

	r := New(nil, fakeFactory{}, newRenderedTiles())
	defer r.Close()
	res, err := r.RenderMapData(context.Background(), job, &mapdata.ReadResult{Ways: []mapdata.Way{water}})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"fill #f8f4f0",
		"strokePolyline #8cb0b0 1 closed=true",
		"fillPolygon #b5d0d0",
	}, res.Canvas.(*recordingCanvas).calls)
}

func TestWaterTile(t *testing.T) {
	tl := tile.MustNew(5, 5, 10, 256)
	r := New(nil, fakeFactory{}, newRenderedTiles())
	defer r.Close()

	res, err := r.RenderMapData(context.Background(), staticJob(t, tl, waterTheme), &mapdata.ReadResult{IsWater: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"fill #f8f4f0",
		"strokePolyline #8cb0b0 1 closed=true",
		"fillPolygon #b5d0d0",
	}, res.Canvas.(*recordingCanvas).calls)
}

const landTheme = `
background: "#f8f4f0"
rules:
  - e: way
    k: landuse
    v: forest
    instructions:
      - type: area
        fill: "#aaccaa"
  - e: way
    k: highway
    v: "*"
    instructions:
      - type: line
        stroke: "#ffffff"
        stroke-width: 2
`

func TestPaintOrderFollowsLevels(t *testing.T) {
	tl := tile.MustNew(5, 5, 10, 256)
	forest := mapdata.Way{Tags: mapdata.Tags{"landuse": "forest"}, Layer: mapdata.LayerOffset, Closed: true, Rings: []orb.LineString{square(tl)}}
	road := mapdata.Way{Tags: mapdata.Tags{"highway": "primary"}, Layer: mapdata.LayerOffset, Rings: []orb.LineString{line(tl)}}

	want := []string{
		"fill #f8f4f0",
		"fillPolygon #aaccaa",
		"strokePolyline #ffffff 2 closed=false",
	}
	for _, ways := range [][]mapdata.Way{{forest, road}, {road, forest}} {
		r := New(nil, fakeFactory{}, newRenderedTiles())
		res, err := r.RenderMapData(context.Background(), staticJob(t, tl, landTheme), &mapdata.ReadResult{Ways: ways})
		require.NoError(t, err)
		assert.Equal(t, want, res.Canvas.(*recordingCanvas).calls)
		r.Close()
	}
}

func TestLayersAreClamped(t *testing.T) {
	tl := tile.MustNew(5, 5, 10, 256)
	job := staticJob(t, tl, landTheme)
	forest := mapdata.Way{Tags: mapdata.Tags{"landuse": "forest"}, Layer: 20, Closed: true, Rings: []orb.LineString{square(tl)}}
	road := mapdata.Way{Tags: mapdata.Tags{"highway": "primary"}, Layer: -4, Rings: []orb.LineString{line(tl)}}

	th, err := job.Theme.Build()
	require.NoError(t, err)
	rc := newRenderContext(job, th, fakeFactory{})
	rc.renderWay(forest)
	rc.renderWay(road)
	assert.Len(t, rc.buckets[Layers-1][0], 1)
	assert.Len(t, rc.buckets[0][1], 1)

	r := New(nil, fakeFactory{}, newRenderedTiles())
	defer r.Close()
	res, err := r.RenderMapData(context.Background(), job, &mapdata.ReadResult{Ways: []mapdata.Way{forest, road}})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"fill #f8f4f0",
		"strokePolyline #ffffff 2 closed=false",
		"fillPolygon #aaccaa",
	}, res.Canvas.(*recordingCanvas).calls)
}

func TestStrokeScaleLeavesThemeUntouched(t *testing.T) {
	tl := tile.MustNew(8000, 5000, 14, 256)
	job := staticJob(t, tl, landTheme)
	road := mapdata.Way{Tags: mapdata.Tags{"highway": "primary"}, Rings: []orb.LineString{line(tl)}}

	r := New(nil, fakeFactory{}, newRenderedTiles())
	defer r.Close()
	res, err := r.RenderMapData(context.Background(), job, &mapdata.ReadResult{Ways: []mapdata.Way{road}})
	require.NoError(t, err)
	assert.Contains(t, res.Canvas.(*recordingCanvas).calls, "strokePolyline #ffffff 4.5 closed=false")

	th, err := job.Theme.Build()
	require.NoError(t, err)
	assert.Equal(t, 2.0, th.Rules()[1].Instructions()[0].Stroke.Width)
}

func TestHasAlphaClearsBackground(t *testing.T) {
	tl := tile.MustNew(5, 5, 10, 256)
	job := staticJob(t, tl, landTheme)
	job.HasAlpha = true

	r := New(nil, fakeFactory{}, newRenderedTiles())
	defer r.Close()
	res, err := r.RenderMapData(context.Background(), job, &mapdata.ReadResult{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fill "}, res.Canvas.(*recordingCanvas).calls)
}

const labelTheme = `
rules:
  - e: node
    k: place
    v: harbour
    instructions:
      - type: caption
        k: name
        font-size: 10
        fill: "#000000"
  - e: node
    k: amenity
    v: dock
    instructions:
      - type: caption
        k: name
        font-size: 10
        fill: "#000000"
        priority: -10
`

// poiAt places a named POI on the absolute pixel column px of tl's zoom,
// vertically centered in tl.
func poiAt(tl tile.Tile, px float64, tags mapdata.Tags) mapdata.POI {
	lat := tl.Bound().Center()[1]
	return mapdata.POI{Tags: tags, Position: orb.Point{lonAt(px, tl.Zoom(), tl.Size()), lat}}
}

func TestLabelCrossingTileBorder(t *testing.T) {
	left := tile.MustNew(5, 5, 10, 256)
	right := tile.MustNew(6, 5, 10, 256)
	require.Equal(t, right, left.Right())

	th := StaticTheme{Name: "labels", Theme: loadTheme(t, labelTheme)}
	cache := newRenderedTiles()
	r := New(nil, fakeFactory{}, cache)
	defer r.Close()

	// Harbour is 42px wide and centered 6px left of the shared edge.
	edge := right.Origin()[0]
	harbour := poiAt(left, edge-6, mapdata.Tags{"place": "harbour", "name": "Harbour"})
	// Dock overlaps the part of Harbour drawn on the right tile only.
	dock := poiAt(right, edge+15, mapdata.Tags{"amenity": "dock", "name": "Dock"})

	res, err := r.RenderMapData(context.Background(), Job{Tile: left, Theme: th}, &mapdata.ReadResult{POIs: []mapdata.POI{harbour}})
	require.NoError(t, err)
	cache.mark(left)
	require.Len(t, res.Labels, 1)
	label := res.Labels[0]
	assert.Equal(t, "Harbour", label.Text)
	assert.Equal(t, []*Element{label}, r.Dependencies().OverlappingElements(left, right))
	assert.Equal(t, []string{"Harbour"}, res.Canvas.(*recordingCanvas).texts())

	res, err = r.RenderMapData(context.Background(), Job{Tile: right, Theme: th}, &mapdata.ReadResult{POIs: []mapdata.POI{harbour, dock}})
	require.NoError(t, err)
	cache.mark(right)
	assert.Equal(t, []*Element{label}, res.MustDraw)
	assert.Empty(t, res.Labels, "own labels clashing with completed ones are dropped")
	assert.Len(t, res.Candidates, 2)
	assert.Equal(t, []string{"Harbour"}, res.Canvas.(*recordingCanvas).texts())
}

func TestLabelsPlacedByPriority(t *testing.T) {
	tl := tile.MustNew(5, 5, 10, 256)
	x := tl.Origin()[0] + 128
	pois := []mapdata.POI{
		poiAt(tl, x, mapdata.Tags{"place": "harbour", "name": "Harbour"}),
		poiAt(tl, x+10, mapdata.Tags{"amenity": "dock", "name": "Dock"}),
	}

	r := New(nil, fakeFactory{}, newRenderedTiles())
	defer r.Close()
	res, err := r.RenderMapData(context.Background(), staticJob(t, tl, labelTheme), &mapdata.ReadResult{POIs: pois})
	require.NoError(t, err)
	require.Len(t, res.Labels, 1)
	assert.Equal(t, "Dock", res.Labels[0].Text)
	assert.Zero(t, r.Dependencies().Len())
}

func TestLabelsOnly(t *testing.T) {
	tl := tile.MustNew(5, 5, 10, 256)
	job := staticJob(t, tl, labelTheme)
	job.LabelsOnly = true
	pois := []mapdata.POI{poiAt(tl, tl.Origin()[0]+128, mapdata.Tags{"place": "harbour", "name": "Harbour"})}

	r := New(nil, fakeFactory{}, newRenderedTiles())
	defer r.Close()
	res, err := r.RenderMapData(context.Background(), job, &mapdata.ReadResult{POIs: pois})
	require.NoError(t, err)
	assert.Nil(t, res.Canvas)
	assert.Len(t, res.Labels, 1)
}

func TestLabelStore(t *testing.T) {
	tl := tile.MustNew(5, 5, 10, 256)
	pois := []mapdata.POI{poiAt(tl, tl.Origin()[0]+128, mapdata.Tags{"place": "harbour", "name": "Harbour"})}

	store := NewMemoryLabelStore()
	r := NewWithLabelStore(nil, fakeFactory{}, store)
	defer r.Close()
	assert.Nil(t, r.Dependencies())

	res, err := r.RenderMapData(context.Background(), staticJob(t, tl, labelTheme), &mapdata.ReadResult{POIs: pois})
	require.NoError(t, err)
	assert.Empty(t, res.Labels)
	assert.Empty(t, res.Canvas.(*recordingCanvas).texts())

	items, ok := store.MapItems(tl)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "Harbour", items[0].Text)

	store.Evict(tl)
	_, ok = store.MapItems(tl)
	assert.False(t, ok)
}

func TestCancelledRenderKeepsDependencies(t *testing.T) {
	tl := tile.MustNew(5, 5, 10, 256)
	harbour := poiAt(tl, tl.Right().Origin()[0]-6, mapdata.Tags{"place": "harbour", "name": "Harbour"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(nil, fakeFactory{}, newRenderedTiles())
	defer r.Close()
	_, err := r.RenderMapData(ctx, staticJob(t, tl, labelTheme), &mapdata.ReadResult{POIs: []mapdata.POI{harbour}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, r.Dependencies().Len())
}

func TestThemeUnavailable(t *testing.T) {
	tl := tile.MustNew(5, 5, 10, 256)
	r := New(nil, fakeFactory{}, newRenderedTiles())
	defer r.Close()

	for _, job := range []Job{
		{Tile: tl},
		{Tile: tl, Theme: ThemeFile{Path: "testdata/missing.yml"}},
		{Tile: tl, Theme: StaticTheme{Name: "empty"}},
	} {
		res, err := r.RenderTile(context.Background(), job)
		assert.Nil(t, res)
		assert.Equal(t, ErrThemeUnavailable, errors.Cause(err))
	}
}

func TestThemeFileKey(t *testing.T) {
	a := ThemeFile{Path: "osm.yml", Categories: []string{"roads", "areas"}}
	b := ThemeFile{Path: "osm.yml", Categories: []string{"areas", "roads"}}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), ThemeFile{Path: "osm.yml"}.Key())
	assert.Equal(t, "osm.yml", ThemeFile{Path: "osm.yml"}.Key())

	job := Job{Tile: tile.MustNew(1, 1, 2, 256), Theme: a}
	assert.Equal(t, b.Key(), job.Key().Theme)
	assert.Equal(t, tile.MustNew(2, 1, 2, 256), job.OtherTile(tile.MustNew(2, 1, 2, 256)).Key().Tile)
}

func geojsonWater(tl tile.Tile) *geojson.FeatureCollection {
	f := geojson.NewFeature(orb.Polygon{orb.Ring(square(tl))})
	f.Properties["natural"] = "water"
	fc := geojson.NewFeatureCollection()
	return fc.Append(f)
}

func TestRenderTileReadsSource(t *testing.T) {
	tl := tile.MustNew(5, 5, 10, 256)
	fc := geojsonWater(tl)
	r := New(mapdata.NewGeoJSON(fc), fakeFactory{}, newRenderedTiles())
	defer r.Close()

	res, err := r.RenderTile(context.Background(), staticJob(t, tl, waterTheme))
	require.NoError(t, err)
	assert.Contains(t, res.Canvas.(*recordingCanvas).calls, "fillPolygon #b5d0d0")
}

func TestConcurrentRenders(t *testing.T) {
	th := StaticTheme{Name: "labels", Theme: loadTheme(t, labelTheme)}
	cache := newRenderedTiles()
	r := New(nil, fakeFactory{}, cache)
	defer r.Close()

	var wg sync.WaitGroup
	for x := 4; x < 8; x++ {
		for y := 4; y < 8; y++ {
			tl := tile.MustNew(x, y, 10, 256)
			wg.Add(1)
			go func() {
				defer wg.Done()
				harbour := poiAt(tl, tl.Right().Origin()[0]-6, mapdata.Tags{"place": "harbour", "name": "Harbour"})
				_, err := r.RenderMapData(context.Background(), Job{Tile: tl, Theme: th}, &mapdata.ReadResult{POIs: []mapdata.POI{harbour}})
				assert.NoError(t, err)
				cache.mark(tl)
			}()
		}
	}
	wg.Wait()
	assert.NotZero(t, r.Dependencies().Len())
}

func TestNeighbourPlacedBeforeCacheUpdate(t *testing.T) {
	left := tile.MustNew(5, 5, 10, 256)
	right := left.Right()
	th := StaticTheme{Name: "labels", Theme: loadTheme(t, labelTheme)}
	r := New(nil, fakeFactory{}, newRenderedTiles())
	defer r.Close()

	edge := right.Origin()[0]
	harbour := poiAt(left, edge-6, mapdata.Tags{"place": "harbour", "name": "Harbour"})
	dock := poiAt(right, edge+15, mapdata.Tags{"amenity": "dock", "name": "Dock"})

	res, err := r.RenderMapData(context.Background(), Job{Tile: left, Theme: th}, &mapdata.ReadResult{POIs: []mapdata.POI{harbour}})
	require.NoError(t, err)
	require.Len(t, res.Labels, 1)
	label := res.Labels[0]

	// the tile cache has not heard of left yet
	res, err = r.RenderMapData(context.Background(), Job{Tile: right, Theme: th}, &mapdata.ReadResult{POIs: []mapdata.POI{harbour, dock}})
	require.NoError(t, err)
	assert.Equal(t, []*Element{label}, res.MustDraw)
	assert.Empty(t, res.Labels)
	assert.Equal(t, []*Element{label}, r.Dependencies().OverlappingElements(left, right))

	// placements of another job do not count
	res, err = r.RenderMapData(context.Background(), Job{Tile: right, Theme: th, TextScale: 2}, &mapdata.ReadResult{POIs: []mapdata.POI{dock}})
	require.NoError(t, err)
	assert.Empty(t, res.MustDraw)
}

func TestThemeSwitchResetsDependencies(t *testing.T) {
	left := tile.MustNew(5, 5, 10, 256)
	right := left.Right()
	cache := newRenderedTiles()
	r := New(nil, fakeFactory{}, cache)
	defer r.Close()

	harbour := poiAt(left, right.Origin()[0]-6, mapdata.Tags{"place": "harbour", "name": "Harbour"})
	old := StaticTheme{Name: "old", Theme: loadTheme(t, labelTheme)}
	_, err := r.RenderMapData(context.Background(), Job{Tile: left, Theme: old}, &mapdata.ReadResult{POIs: []mapdata.POI{harbour}})
	require.NoError(t, err)
	cache.mark(left)
	require.NotZero(t, r.Dependencies().Len())

	fresh := StaticTheme{Name: "new", Theme: loadTheme(t, labelTheme)}
	res, err := r.RenderMapData(context.Background(), Job{Tile: right, Theme: fresh}, &mapdata.ReadResult{})
	require.NoError(t, err)
	assert.Empty(t, res.MustDraw)
	assert.Empty(t, r.Dependencies().OverlappingElements(left, right))
}

const roadNameTheme = `
rules:
  - e: way
    k: highway
    v: "*"
    instructions:
      - type: pathText
        k: name
        font-size: 10
        fill: "#000000"
`

func TestWayTextSharedByNeighbours(t *testing.T) {
	left := tile.MustNew(5, 5, 10, 256)
	right := left.Right()
	road := geojson.NewFeature(orb.LineString{left.Bound().Center(), right.Bound().Center()})
	road.Properties["highway"] = "residential"
	road.Properties["name"] = "Main Street"
	src := mapdata.NewGeoJSON(geojson.NewFeatureCollection().Append(road))

	th := StaticTheme{Name: "roads", Theme: loadTheme(t, roadNameTheme)}
	r := New(src, fakeFactory{}, newRenderedTiles())
	defer r.Close()

	res, err := r.RenderTile(context.Background(), Job{Tile: left, Theme: th})
	require.NoError(t, err)
	require.Len(t, res.Labels, 1)
	label := res.Labels[0]
	edge := right.Origin()[0]
	assert.InDelta(t, edge, label.Position[0], 1e-6, "centered on the whole road")
	assert.Contains(t, res.Canvas.(*recordingCanvas).calls, "pathText Main Street")

	res, err = r.RenderTile(context.Background(), Job{Tile: right, Theme: th})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.InDelta(t, label.Position[0], res.Candidates[0].Position[0], 1e-6)
	assert.InDelta(t, label.Position[1], res.Candidates[0].Position[1], 1e-6)
	assert.Equal(t, []*Element{label}, res.MustDraw)
	assert.Empty(t, res.Labels)
}

func TestWayLabelsOutsideTileDropped(t *testing.T) {
	tl := tile.MustNew(5, 5, 10, 256)
	far := tl.Right().Right()
	// the named stretch lies two tiles away, only a short stub crosses tl
	path := orb.LineString{far.Bound().Center(), tl.Bound().Center()}
	way := mapdata.Way{
		Tags:      mapdata.Tags{"highway": "residential", "name": "Main Street"},
		Rings:     []orb.LineString{{tl.Bound().Center(), {tl.Bound().Max[0], tl.Bound().Center()[1]}}},
		LabelPath: path,
	}
	r := New(nil, fakeFactory{}, newRenderedTiles())
	defer r.Close()
	res, err := r.RenderMapData(context.Background(), staticJob(t, tl, roadNameTheme), &mapdata.ReadResult{Ways: []mapdata.Way{way}})
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}
