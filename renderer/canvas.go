package renderer

import (
	"io"

	"github.com/paulmach/orb"

	"maprender/theme"
)

// Canvas is the rasterization backend of one tile. Coordinates are pixels
// relative to the tile's top left corner. Calls paint in the order they
// are made.
type Canvas interface {
	// Fill paints the whole canvas; an empty color clears it.
	Fill(color string) error
	// FillPolygon fills the area enclosed by rings with the even-odd rule.
	FillPolygon(rings []orb.LineString, p theme.Paint) error
	// StrokePolyline strokes each line, closing it when closed is set.
	StrokePolyline(lines []orb.LineString, p theme.Paint, closed bool) error
	FillCircle(center orb.Point, radius float64, p theme.Paint) error
	StrokeCircle(center orb.Point, radius float64, p theme.Paint) error
	// DrawText centers text on pos. A visible stroke paints a halo first.
	DrawText(text string, pos orb.Point, fill, stroke theme.Paint) error
	// DrawPathText draws text centered on pos and rotated by angle radians.
	DrawPathText(text string, pos orb.Point, angle float64, fill, stroke theme.Paint) error
	// DrawBitmap centers b on pos, rotated by angle radians.
	DrawBitmap(b theme.Bitmap, pos orb.Point, angle float64) error
	// EncodePNG writes the tile image.
	EncodePNG(w io.Writer) error
}

// GraphicFactory creates canvases and measures text for label placement.
type GraphicFactory interface {
	NewCanvas(size int, hasAlpha bool) Canvas
	// TextSize is the width and height of text drawn with p.
	TextSize(text string, p theme.Paint) (width, height float64)
}
