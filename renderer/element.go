package renderer

import (
	"math"
	"sort"

	"github.com/paulmach/orb"

	"maprender/theme"
)

// ElementKind enumerates the label elements.
type ElementKind uint8

const (
	PointText ElementKind = iota + 1
	SymbolElement
	WayText
)

// Element is a label or symbol in absolute pixel coordinates. Elements are
// compared by identity: the same *Element may be drawn on several tiles.
type Element struct {
	Kind     ElementKind
	Priority int
	// Position is the center of the element.
	Position orb.Point
	// Boundary is the axis aligned box covered by the element.
	Boundary orb.Bound
	// Angle rotates way texts and line symbols, in radians.
	Angle float64

	Text   string
	Fill   theme.Paint
	Stroke theme.Paint
	Bitmap theme.Bitmap
}

// Intersects reports whether the element covers any part of b.
func (e *Element) Intersects(b orb.Bound) bool {
	return e.Boundary.Intersects(b)
}

// ClashesWith reports whether two elements would overlap when drawn.
func (e *Element) ClashesWith(other *Element) bool {
	return e != other && e.Boundary.Intersects(other.Boundary)
}

// relative returns the element center relative to origin.
func (e *Element) relative(origin orb.Point) orb.Point {
	return orb.Point{e.Position[0] - origin[0], e.Position[1] - origin[1]}
}

// box returns the bound of a w x h rectangle centered on p.
func box(p orb.Point, w, h float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{p[0] - w/2, p[1] - h/2},
		Max: orb.Point{p[0] + w/2, p[1] + h/2},
	}
}

// rotatedBox is the axis aligned bound of a w x h rectangle centered on p
// and rotated by angle.
func rotatedBox(p orb.Point, w, h, angle float64) orb.Bound {
	sin, cos := math.Abs(math.Sin(angle)), math.Abs(math.Cos(angle))
	return box(p, w*cos+h*sin, w*sin+h*cos)
}

// collisionFreeOrdered places elements greedily by priority, lower values
// first. An element clashing with one already placed is dropped.
func collisionFreeOrdered(elements []*Element) []*Element {
	sorted := make([]*Element, len(elements))
	copy(sorted, elements)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	placed := make([]*Element, 0, len(sorted))
	for _, e := range sorted {
		if !clashesWithAny(e, placed) {
			placed = append(placed, e)
		}
	}
	return placed
}

func clashesWithAny(e *Element, others []*Element) bool {
	for _, o := range others {
		if e.ClashesWith(o) {
			return true
		}
	}
	return false
}
