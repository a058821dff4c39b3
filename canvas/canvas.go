// Package canvas rasterizes tiles with gogpu/gg.
package canvas

import (
	"io"

	"github.com/gogpu/gg"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"

	"maprender/renderer"
	"maprender/theme"
)

// GG is a tile canvas backed by a gg context.
type GG struct {
	dc      *gg.Context
	factory *Factory
}

var _ renderer.Canvas = (*GG)(nil)

func rgba(color string) (gg.RGBA, error) {
	r, g, b, a, err := theme.ParseColor(color)
	if err != nil {
		return gg.RGBA{}, err
	}
	return gg.RGBA{R: float64(r) / 255, G: float64(g) / 255, B: float64(b) / 255, A: float64(a) / 255}, nil
}

func (c *GG) setColor(color string) error {
	col, err := rgba(color)
	if err != nil {
		return err
	}
	c.dc.SetRGBA(col.R, col.G, col.B, col.A)
	return nil
}

func (c *GG) setStroke(p theme.Paint) error {
	if err := c.setColor(p.Color); err != nil {
		return err
	}
	width := p.Width
	if width <= 0 {
		width = 1
	}
	c.dc.SetLineWidth(width)
	if len(p.Dash) > 0 {
		c.dc.SetDash(p.Dash...)
	} else {
		c.dc.ClearDash()
	}
	return nil
}

func (c *GG) path(ls orb.LineString, closed bool) {
	if len(ls) == 0 {
		return
	}
	c.dc.MoveTo(ls[0][0], ls[0][1])
	for _, p := range ls[1:] {
		c.dc.LineTo(p[0], p[1])
	}
	if closed {
		c.dc.ClosePath()
	}
}

func (c *GG) Fill(color string) error {
	if color == "" {
		c.dc.Clear()
		return nil
	}
	col, err := rgba(color)
	if err != nil {
		return err
	}
	c.dc.ClearWithColor(col)
	return nil
}

func (c *GG) FillPolygon(rings []orb.LineString, p theme.Paint) error {
	if err := c.setColor(p.Color); err != nil {
		return err
	}
	c.dc.SetFillRule(gg.FillRuleEvenOdd)
	for _, ring := range rings {
		c.path(ring, true)
	}
	return c.dc.Fill()
}

func (c *GG) StrokePolyline(lines []orb.LineString, p theme.Paint, closed bool) error {
	if err := c.setStroke(p); err != nil {
		return err
	}
	for _, ls := range lines {
		c.path(ls, closed)
	}
	return c.dc.Stroke()
}

func (c *GG) FillCircle(center orb.Point, radius float64, p theme.Paint) error {
	if err := c.setColor(p.Color); err != nil {
		return err
	}
	c.dc.DrawCircle(center[0], center[1], radius)
	return c.dc.Fill()
}

func (c *GG) StrokeCircle(center orb.Point, radius float64, p theme.Paint) error {
	if err := c.setStroke(p); err != nil {
		return err
	}
	c.dc.DrawCircle(center[0], center[1], radius)
	return c.dc.Stroke()
}

// haloOffsets approximate a text outline by redrawing the text around its
// position.
var haloOffsets = [][2]float64{{-1, -1}, {0, -1}, {1, -1}, {-1, 0}, {1, 0}, {-1, 1}, {0, 1}, {1, 1}}

func (c *GG) DrawText(text string, pos orb.Point, fill, stroke theme.Paint) error {
	face, err := c.factory.face(fill.FontSize)
	if err != nil {
		return err
	}
	c.dc.SetFont(face)
	if stroke.Visible() {
		if err := c.setColor(stroke.Color); err != nil {
			return err
		}
		r := stroke.Width / 2
		for _, o := range haloOffsets {
			c.dc.DrawStringAnchored(text, pos[0]+o[0]*r, pos[1]+o[1]*r, 0.5, 0.5)
		}
	}
	if err := c.setColor(fill.Color); err != nil {
		return err
	}
	c.dc.DrawStringAnchored(text, pos[0], pos[1], 0.5, 0.5)
	return nil
}

func (c *GG) DrawPathText(text string, pos orb.Point, angle float64, fill, stroke theme.Paint) error {
	c.dc.Push()
	defer c.dc.Pop()
	c.dc.RotateAbout(angle, pos[0], pos[1])
	return c.DrawText(text, pos, fill, stroke)
}

func (c *GG) DrawBitmap(b theme.Bitmap, pos orb.Point, angle float64) error {
	s, ok := b.(*Symbol)
	if !ok || s.buf == nil {
		return errors.Errorf("cannot draw bitmap %T", b)
	}
	c.dc.Push()
	defer c.dc.Pop()
	if angle != 0 {
		c.dc.RotateAbout(angle, pos[0], pos[1])
	}
	c.dc.DrawImage(s.buf, pos[0]-float64(s.Width())/2, pos[1]-float64(s.Height())/2)
	return nil
}

func (c *GG) EncodePNG(w io.Writer) error {
	return c.dc.EncodePNG(w)
}

// Close releases the gg context.
func (c *GG) Close() error {
	return c.dc.Close()
}
