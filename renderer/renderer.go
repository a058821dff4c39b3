// Package renderer draws map tiles: features are matched against a theme,
// their shapes painted in layer and level order, and labels placed without
// collisions across tile borders.
package renderer

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"maprender/mapdata"
	"maprender/theme"
	"maprender/tile"
)

// ErrThemeUnavailable is returned for jobs whose theme cannot be built.
var ErrThemeUnavailable = errors.New("theme unavailable")

// TileCache tells the renderer which neighbours of a job's tile have
// already been drawn with the same parameters.
type TileCache interface {
	ContainsRenderedTile(t tile.Tile, job Job) bool
}

// LabelStore keeps the labels of tiles rendered without drawing them.
type LabelStore interface {
	StoreMapItems(t tile.Tile, items []*Element)
}

// ThemeSource builds the theme a job is drawn with. Jobs with the same Key
// share one built theme.
type ThemeSource interface {
	Key() string
	Build() (*theme.Theme, error)
}

// ThemeFile is a YAML ruleset on disk.
type ThemeFile struct {
	Path string
	// Categories limits the rules to the given categories, nil shows all.
	Categories []string
	LoadSymbol theme.SymbolLoader
}

func (f ThemeFile) Key() string {
	if f.Categories == nil {
		return f.Path
	}
	cats := append([]string(nil), f.Categories...)
	sort.Strings(cats)
	return f.Path + "?" + strings.Join(cats, ",")
}

func (f ThemeFile) Build() (*theme.Theme, error) {
	opts := theme.Options{LoadSymbol: f.LoadSymbol}
	if f.Categories != nil {
		opts.Categories = make(map[string]bool, len(f.Categories))
		for _, c := range f.Categories {
			opts.Categories[c] = true
		}
	}
	return theme.LoadYAMLFile(f.Path, opts)
}

// StaticTheme is an already built theme. The renderer takes ownership.
type StaticTheme struct {
	Name  string
	Theme *theme.Theme
}

func (s StaticTheme) Key() string { return s.Name }

func (s StaticTheme) Build() (*theme.Theme, error) {
	if s.Theme == nil {
		return nil, errors.Errorf("theme %s not set", s.Name)
	}
	return s.Theme, nil
}

// Job describes one tile to render.
type Job struct {
	Tile  tile.Tile
	Theme ThemeSource
	// TextScale multiplies font sizes, zero means 1.
	TextScale  float64
	HasAlpha   bool
	LabelsOnly bool
}

// JobKey identifies the output of a job.
type JobKey struct {
	Tile       tile.Tile
	Theme      string
	TextScale  float64
	HasAlpha   bool
	LabelsOnly bool
}

func (j Job) Key() JobKey {
	k := JobKey{Tile: j.Tile, TextScale: j.TextScale, HasAlpha: j.HasAlpha, LabelsOnly: j.LabelsOnly}
	if j.Theme != nil {
		k.Theme = j.Theme.Key()
	}
	return k
}

// OtherTile is the same job for another tile.
func (j Job) OtherTile(t tile.Tile) Job {
	j.Tile = t
	return j
}

// Result is a rendered tile.
type Result struct {
	Job Job
	// Canvas holds the image, nil for labels only jobs.
	Canvas Canvas
	// Candidates are all labels the tile's features asked for.
	Candidates []*Element
	// MustDraw are labels of rendered neighbours completed on this tile.
	MustDraw []*Element
	// Labels are the labels placed by this tile.
	Labels []*Element
}

// Renderer renders jobs. It may be used by several goroutines; the only
// state shared between renders is the theme and the label dependencies.
type Renderer struct {
	source     mapdata.Source
	factory    GraphicFactory
	cache      TileCache
	labelStore LabelStore
	deps       *Dependencies

	mu       sync.Mutex
	themeKey string
	current  *theme.Theme
	failed   string
	retired  []*theme.Theme
}

// New returns a renderer drawing labels onto the tiles. cache reports the
// tiles that are already drawn.
func New(source mapdata.Source, factory GraphicFactory, cache TileCache) *Renderer {
	return &Renderer{source: source, factory: factory, cache: cache, deps: NewDependencies()}
}

// NewWithLabelStore returns a renderer that hands the labels of each tile
// to store instead of drawing them.
func NewWithLabelStore(source mapdata.Source, factory GraphicFactory, store LabelStore) *Renderer {
	return &Renderer{source: source, factory: factory, labelStore: store}
}

// Dependencies is the label dependency cache; nil for label store renderers.
func (r *Renderer) Dependencies() *Dependencies {
	return r.deps
}

// Close releases the themes built by the renderer.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, th := range r.retired {
		th.Destroy()
	}
	r.retired = nil
	if r.current != nil {
		r.current.Destroy()
		r.current, r.themeKey = nil, ""
	}
}

// themeFor returns the theme of job, building it when the job switches to
// a theme other than the previous one.
func (r *Renderer) themeFor(job Job) (*theme.Theme, error) {
	if job.Theme == nil {
		return nil, errors.Wrap(ErrThemeUnavailable, "job without theme")
	}
	key := job.Theme.Key()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.themeKey == key {
		return r.current, nil
	}
	th, err := job.Theme.Build()
	if err != nil {
		if r.failed != key {
			log.WithField("theme", key).Errorf("could not build theme: %s", err)
			r.failed = key
		}
		return nil, errors.Wrapf(ErrThemeUnavailable, "%s: %s", key, err)
	}
	if r.current != nil {
		r.retired = append(r.retired, r.current)
		if r.deps != nil {
			r.deps.Reset()
		}
	}
	r.current, r.themeKey, r.failed = th, key, ""
	return th, nil
}

// RenderTile renders job. It returns ErrThemeUnavailable, without a tile,
// if the job's theme cannot be built.
func (r *Renderer) RenderTile(ctx context.Context, job Job) (*Result, error) {
	th, err := r.themeFor(job)
	if err != nil {
		return nil, err
	}

	data := &mapdata.ReadResult{}
	if r.source != nil {
		if data, err = r.source.ReadMapData(ctx, job.Tile); err != nil {
			return nil, errors.Wrapf(err, "read tile %s", job.Tile)
		}
	}
	return r.render(ctx, job, th, data)
}

// RenderMapData renders job from already read map data.
func (r *Renderer) RenderMapData(ctx context.Context, job Job, data *mapdata.ReadResult) (*Result, error) {
	th, err := r.themeFor(job)
	if err != nil {
		return nil, err
	}
	return r.render(ctx, job, th, data)
}

func (r *Renderer) render(ctx context.Context, job Job, th *theme.Theme, data *mapdata.ReadResult) (*Result, error) {
	rc := newRenderContext(job, th, r.factory)
	if data.IsWater {
		rc.renderWater()
	}
	for _, poi := range data.POIs {
		rc.renderPOI(poi)
	}
	for _, way := range data.Ways {
		rc.renderWay(way)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Job: job, Candidates: rc.labels}
	if !job.LabelsOnly {
		res.Canvas = r.factory.NewCanvas(job.Tile.Size(), job.HasAlpha)
		background := th.Background
		if job.HasAlpha {
			background = ""
		}
		if err := res.Canvas.Fill(background); err != nil {
			log.WithField("tile", job.Tile).Warnf("fill background: %s", err)
		}
		drawWays(res.Canvas, job.Tile, rc.buckets)
	}

	if r.labelStore != nil {
		r.labelStore.StoreMapItems(job.Tile, rc.labels)
		return res, nil
	}

	mustDraw, labels, err := r.placeLabels(ctx, job, rc.labels)
	if err != nil {
		return nil, err
	}
	res.MustDraw, res.Labels = mustDraw, labels
	if res.Canvas != nil {
		drawElements(res.Canvas, job.Tile, res.MustDraw)
		drawElements(res.Canvas, job.Tile, res.Labels)
	}
	return res, nil
}
