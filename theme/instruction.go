package theme

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Kind enumerates the draw instructions a rule can carry.
type Kind uint8

const (
	Area Kind = iota + 1
	Line
	Circle
	Symbol
	Caption
	PathText
	LineSymbol
)

var kindNames = map[Kind]string{
	Area:       "area",
	Line:       "line",
	Circle:     "circle",
	Symbol:     "symbol",
	Caption:    "caption",
	PathText:   "pathText",
	LineSymbol: "lineSymbol",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind resolves the ruleset name of an instruction kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// leveled kinds paint into the level buckets, the rest become labels.
func (k Kind) leveled() bool {
	return k == Area || k == Line || k == Circle
}

// Position places a caption relative to its anchor.
type Position uint8

const (
	Center Position = iota
	Above
	Below
)

// Paint holds resolved paint parameters. Colors are "#rrggbb" or "#aarrggbb";
// an empty color disables the paint.
type Paint struct {
	Color    string
	Width    float64
	Dash     []float64
	FontSize float64
}

// Visible reports whether the paint draws anything.
func (p Paint) Visible() bool {
	return p.Color != ""
}

// Bitmap is a loaded symbol image owned by the theme.
type Bitmap interface {
	Width() int
	Height() int
	Destroy()
}

// SymbolLoader resolves the source of a symbol instruction.
type SymbolLoader func(src string) (Bitmap, error)

// Instruction is a draw-instruction template. Only the fields relevant for
// its Kind are used.
type Instruction struct {
	Kind     Kind
	Category string

	// Level orders painting within a layer. The builder assigns it to
	// area, line and circle instructions in declaration order.
	Level int
	// Priority orders labels, lower values are placed first.
	Priority int

	Fill   Paint
	Stroke Paint
	// Dy offsets lines, path texts and captions perpendicular to the way.
	Dy float64
	// Radius of circles; ScaleRadius makes it follow the stroke scale.
	Radius      float64
	ScaleRadius bool

	// TextKey names the tag rendered by captions and path texts.
	TextKey  string
	Position Position

	// Src is the symbol resource, loaded into Bitmap at build time.
	Src    string
	Bitmap Bitmap
	// ID registers a symbol so captions can reference it via SymbolID.
	ID       string
	SymbolID string
	// Symbol is the resolved symbol a caption is positioned against.
	Symbol *Instruction

	Repeat    bool
	RepeatGap float64
}

// NodeCallback receives the instructions matched by a point of interest.
type NodeCallback interface {
	RenderPOICaption(ri *Instruction, caption string)
	RenderPOICircle(ri *Instruction)
	RenderPOISymbol(ri *Instruction)
}

// WayCallback receives the instructions matched by a way.
type WayCallback interface {
	RenderArea(ri *Instruction)
	RenderAreaCaption(ri *Instruction, caption string)
	RenderAreaSymbol(ri *Instruction)
	RenderWay(ri *Instruction)
	RenderWaySymbol(ri *Instruction)
	RenderWayText(ri *Instruction, text string)
}

// RenderNode asks the callback to draw ri for a node with the given tags.
func (ri *Instruction) RenderNode(cb NodeCallback, tags Tags) {
	switch ri.Kind {
	case Caption:
		if text := tags[ri.TextKey]; text != "" {
			cb.RenderPOICaption(ri, text)
		}
	case Circle:
		cb.RenderPOICircle(ri)
	case Symbol:
		cb.RenderPOISymbol(ri)
	}
}

// RenderWay asks the callback to draw ri for a way with the given tags.
func (ri *Instruction) RenderWay(cb WayCallback, tags Tags) {
	switch ri.Kind {
	case Area:
		cb.RenderArea(ri)
	case Caption:
		if text := tags[ri.TextKey]; text != "" {
			cb.RenderAreaCaption(ri, text)
		}
	case Symbol:
		cb.RenderAreaSymbol(ri)
	case Line:
		cb.RenderWay(ri)
	case LineSymbol:
		cb.RenderWaySymbol(ri)
	case PathText:
		if text := tags[ri.TextKey]; text != "" {
			cb.RenderWayText(ri, text)
		}
	}
}

func (ri *Instruction) validate() error {
	switch ri.Kind {
	case Area, Line:
		return nil
	case Circle:
		if ri.Radius <= 0 {
			return errors.Errorf("circle needs a positive radius")
		}
	case Caption, PathText:
		if ri.TextKey == "" {
			return errors.Errorf("%s: missing attribute k", ri.Kind)
		}
	case Symbol, LineSymbol:
		if ri.Src == "" {
			return errors.Errorf("%s: missing attribute src", ri.Kind)
		}
	default:
		return errors.Errorf("unknown instruction %s", ri.Kind)
	}
	return nil
}

func (ri *Instruction) destroy() {
	if ri.Bitmap != nil {
		ri.Bitmap.Destroy()
		ri.Bitmap = nil
		log.WithField("instruction", ri.Kind).Debugf("released symbol %s", ri.Src)
	}
}
