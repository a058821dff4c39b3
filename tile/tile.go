// Package tile identifies the squares of the web mercator tile pyramid and
// relates them to each other and to pixel space.
package tile

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/pkg/errors"
)

//MaxZoom deepest zoom level a Tile can address
const MaxZoom = 30

var (
	// ErrInvalidTile is returned for coordinates outside the tile pyramid.
	ErrInvalidTile = errors.New("invalid tile coordinate")
	// ErrNotAncestor is returned when a shift is requested against a tile
	// that does not contain the receiver.
	ErrNotAncestor = errors.New("tile is not an ancestor")
)

// Tile is an immutable tile address. Two tiles are equal only if their
// tile sizes match as well, so Tile can be used directly as a map key.
type Tile struct {
	x, y int
	zoom int
	size int
}

// MaxTileNumber returns 2^zoom - 1, the largest valid x or y at zoom.
func MaxTileNumber(zoom int) int {
	if zoom <= 0 {
		return 0
	}
	return 1<<uint(zoom) - 1
}

// New validates and returns the tile (x, y, zoom) with the given pixel size.
func New(x, y, zoom, size int) (Tile, error) {
	switch {
	case zoom < 0 || zoom > MaxZoom:
		return Tile{}, errors.Wrapf(ErrInvalidTile, "zoom level %d", zoom)
	case size <= 0:
		return Tile{}, errors.Wrapf(ErrInvalidTile, "tile size %d", size)
	case x < 0 || x > MaxTileNumber(zoom):
		return Tile{}, errors.Wrapf(ErrInvalidTile, "x %d on zoom level %d", x, zoom)
	case y < 0 || y > MaxTileNumber(zoom):
		return Tile{}, errors.Wrapf(ErrInvalidTile, "y %d on zoom level %d", y, zoom)
	}
	return Tile{x: x, y: y, zoom: zoom, size: size}, nil
}

// MustNew is like New but panics on invalid input.
func MustNew(x, y, zoom, size int) Tile {
	t, err := New(x, y, zoom, size)
	if err != nil {
		panic(err)
	}
	return t
}

// FromMapTile converts an orb maptile to a Tile of the given pixel size.
func FromMapTile(mt maptile.Tile, size int) (Tile, error) {
	return New(int(mt.X), int(mt.Y), int(mt.Z), size)
}

func (t Tile) X() int    { return t.x }
func (t Tile) Y() int    { return t.y }
func (t Tile) Zoom() int { return t.zoom }
func (t Tile) Size() int { return t.size }

// MapTile returns the orb representation, which drops the pixel size.
func (t Tile) MapTile() maptile.Tile {
	return maptile.New(uint32(t.x), uint32(t.y), maptile.Zoom(t.zoom))
}

// Bound is the geographic extent of the tile in lon/lat.
func (t Tile) Bound() orb.Bound {
	return t.MapTile().Bound()
}

// Origin is the top-left corner of the tile in absolute pixels at its zoom.
func (t Tile) Origin() orb.Point {
	return orb.Point{float64(t.x) * float64(t.size), float64(t.y) * float64(t.size)}
}

// Boundary is the extent of the tile in absolute pixels.
func (t Tile) Boundary() orb.Bound {
	o := t.Origin()
	return orb.Bound{Min: o, Max: orb.Point{o[0] + float64(t.size), o[1] + float64(t.size)}}
}

// PixelAbsolute projects a lon/lat point to absolute pixels at zoom.
func PixelAbsolute(ll orb.Point, zoom, size int) orb.Point {
	f := maptile.Fraction(ll, maptile.Zoom(zoom))
	return orb.Point{f[0] * float64(size), f[1] * float64(size)}
}

// PixelRelative projects a lon/lat point to pixels relative to the tile origin.
func (t Tile) PixelRelative(ll orb.Point) orb.Point {
	p := PixelAbsolute(ll, t.zoom, t.size)
	o := t.Origin()
	return orb.Point{p[0] - o[0], p[1] - o[1]}
}

func (t Tile) neighbour(dx, dy int) Tile {
	max := MaxTileNumber(t.zoom)
	x, y := t.x+dx, t.y+dy
	if x < 0 {
		x = max
	} else if x > max {
		x = 0
	}
	if y < 0 {
		y = max
	} else if y > max {
		y = 0
	}
	return Tile{x: x, y: y, zoom: t.zoom, size: t.size}
}

func (t Tile) Left() Tile       { return t.neighbour(-1, 0) }
func (t Tile) Right() Tile      { return t.neighbour(1, 0) }
func (t Tile) Above() Tile      { return t.neighbour(0, -1) }
func (t Tile) Below() Tile      { return t.neighbour(0, 1) }
func (t Tile) AboveLeft() Tile  { return t.neighbour(-1, -1) }
func (t Tile) AboveRight() Tile { return t.neighbour(1, -1) }
func (t Tile) BelowLeft() Tile  { return t.neighbour(-1, 1) }
func (t Tile) BelowRight() Tile { return t.neighbour(1, 1) }

// Neighbours returns the distinct tiles around t, wrapping at the edges of
// the zoom level. The tile itself is never included, so low zoom levels
// yield fewer than eight.
func (t Tile) Neighbours() []Tile {
	all := [8]Tile{
		t.Left(), t.AboveLeft(), t.Above(), t.AboveRight(),
		t.Right(), t.BelowRight(), t.Below(), t.BelowLeft(),
	}
	result := make([]Tile, 0, len(all))
	for _, n := range all {
		if n == t || contains(result, n) {
			continue
		}
		result = append(result, n)
	}
	return result
}

// IsNeighbour reports whether other is one of t's neighbours.
func (t Tile) IsNeighbour(other Tile) bool {
	if other.zoom != t.zoom || other.size != t.size {
		return false
	}
	return contains(t.Neighbours(), other)
}

func contains(tiles []Tile, t Tile) bool {
	for _, o := range tiles {
		if o == t {
			return true
		}
	}
	return false
}

// Parent returns the tile one zoom level up. ok is false at zoom 0.
func (t Tile) Parent() (parent Tile, ok bool) {
	if t.zoom == 0 {
		return Tile{}, false
	}
	return Tile{x: t.x / 2, y: t.y / 2, zoom: t.zoom - 1, size: t.size}, true
}

// IsAncestor reports whether a contains t (a tile is its own ancestor).
func (t Tile) IsAncestor(a Tile) bool {
	if a.size != t.size || a.zoom > t.zoom {
		return false
	}
	dz := uint(t.zoom - a.zoom)
	return t.x>>dz == a.x && t.y>>dz == a.y
}

// ShiftX returns the column of t inside ancestor, counted in tiles of t's zoom.
func (t Tile) ShiftX(ancestor Tile) (int, error) {
	return t.shift(ancestor, func(c Tile) int { return c.x })
}

// ShiftY returns the row of t inside ancestor, counted in tiles of t's zoom.
func (t Tile) ShiftY(ancestor Tile) (int, error) {
	return t.shift(ancestor, func(c Tile) int { return c.y })
}

func (t Tile) shift(ancestor Tile, coord func(Tile) int) (int, error) {
	if !t.IsAncestor(ancestor) {
		return 0, errors.Wrapf(ErrNotAncestor, "%s in %s", t, ancestor)
	}
	shift, factor := 0, 1
	for current := t; current != ancestor; factor *= 2 {
		shift += factor * (coord(current) % 2)
		current, _ = current.Parent()
	}
	return shift, nil
}

func (t Tile) String() string {
	return fmt.Sprintf("x=%d, y=%d, z=%d", t.x, t.y, t.zoom)
}
