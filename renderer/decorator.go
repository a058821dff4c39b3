package renderer

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"maprender/theme"
)

const (
	// segmentSafetyDistance is the minimum free space around a way text.
	segmentSafetyDistance   = 30
	// distanceBetweenWayNames is the minimum gap between repeated way texts.
	distanceBetweenWayNames = 500
	defaultRepeatGap        = 200
	defaultRepeatStart      = 30
)

// parallelPath shifts a line sideways by dy pixels, to the right of its
// direction for positive dy.
func parallelPath(ls orb.LineString, dy float64) orb.LineString {
	if dy == 0 || len(ls) < 2 {
		return ls
	}
	out := make(orb.LineString, len(ls))
	for i := range ls {
		var nx, ny float64
		if i > 0 {
			x, y := normal(ls[i-1], ls[i])
			nx, ny = nx+x, ny+y
		}
		if i < len(ls)-1 {
			x, y := normal(ls[i], ls[i+1])
			nx, ny = nx+x, ny+y
		}
		if l := math.Hypot(nx, ny); l > 0 {
			nx, ny = nx/l, ny/l
		}
		out[i] = orb.Point{ls[i][0] + nx*dy, ls[i][1] + ny*dy}
	}
	return out
}

// normal is the unit vector perpendicular to a->b in screen coordinates.
func normal(a, b orb.Point) (float64, float64) {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l := math.Hypot(dx, dy)
	if l == 0 {
		return 0, 0
	}
	return -dy / l, dx / l
}

// readableAngle keeps text upright by flipping angles pointing left.
func readableAngle(a, b orb.Point) float64 {
	angle := math.Atan2(b[1]-a[1], b[0]-a[0])
	if angle > math.Pi/2 {
		angle -= math.Pi
	} else if angle < -math.Pi/2 {
		angle += math.Pi
	}
	return angle
}

// wayTexts places text along the segments of ls that are long enough to
// hold it, keeping repeated names apart.
func wayTexts(ri *theme.Instruction, text string, w, h float64, fill, stroke theme.Paint, ls orb.LineString) []*Element {
	var (
		out   []*Element
		since = float64(distanceBetweenWayNames)
	)
	for i := 1; i < len(ls); i++ {
		a, b := ls[i-1], ls[i]
		length := planar.Distance(a, b)
		if length < w+segmentSafetyDistance || since+length/2 < distanceBetweenWayNames {
			since += length
			continue
		}
		center := orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
		angle := readableAngle(a, b)
		out = append(out, &Element{
			Kind:     WayText,
			Priority: ri.Priority,
			Position: center,
			Boundary: rotatedBox(center, w, h, angle),
			Angle:    angle,
			Text:     text,
			Fill:     fill,
			Stroke:   stroke,
		})
		since = length / 2
	}
	return out
}

// waySymbols places the symbol of ri along ls, once or every repeat gap.
func waySymbols(ri *theme.Instruction, ls orb.LineString) []*Element {
	gap := ri.RepeatGap
	if gap <= 0 {
		gap = defaultRepeatGap
	}
	w, h := float64(ri.Bitmap.Width()), float64(ri.Bitmap.Height())

	var out []*Element
	next := float64(defaultRepeatStart)
	walked := 0.0
	for i := 1; i < len(ls); i++ {
		a, b := ls[i-1], ls[i]
		length := planar.Distance(a, b)
		if length == 0 {
			continue
		}
		angle := math.Atan2(b[1]-a[1], b[0]-a[0])
		for next <= walked+length {
			f := (next - walked) / length
			pos := orb.Point{a[0] + (b[0]-a[0])*f, a[1] + (b[1]-a[1])*f}
			out = append(out, &Element{
				Kind:     SymbolElement,
				Priority: ri.Priority,
				Position: pos,
				Boundary: rotatedBox(pos, w, h, angle),
				Angle:    angle,
				Bitmap:   ri.Bitmap,
			})
			if !ri.Repeat {
				return out
			}
			next += gap
		}
		walked += length
	}
	return out
}
