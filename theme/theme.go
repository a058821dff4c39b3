// Package theme holds the rule tree of a map style: tag matchers, rules
// with their draw instructions and the build-time optimizer.
package theme

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// strokeBaseZoom is the deepest zoom level drawn with declared stroke widths.
const strokeBaseZoom = 12

// Theme is a built rule tree. It is read-only and safe for concurrent use.
type Theme struct {
	// Background is the map background color, empty for transparent.
	Background string

	rules    []*Rule
	levels   int
	warnings []UnreachableRuleWarning
}

// Levels is the number of paint levels assigned while building.
func (t *Theme) Levels() int { return t.levels }

// Rules returns the top level rules in declaration order.
func (t *Theme) Rules() []*Rule { return t.rules }

// Warnings returns the unreachable rules found by the optimizer.
func (t *Theme) Warnings() []UnreachableRuleWarning { return t.warnings }

// MatchNode runs a point of interest through the rule tree. Matched
// instructions are handed to cb and returned in the order they matched.
func (t *Theme) MatchNode(cb NodeCallback, tags Tags, zoom int) []*Instruction {
	var matching []*Instruction
	for _, r := range t.rules {
		matching = r.matchNode(cb, tags, zoom, matching)
	}
	return matching
}

// MatchWay runs a way through the rule tree.
func (t *Theme) MatchWay(cb WayCallback, tags Tags, zoom int, closed bool) []*Instruction {
	var matching []*Instruction
	for _, r := range t.rules {
		matching = r.matchWay(cb, tags, zoom, closed, matching)
	}
	return matching
}

func (t *Theme) MatchClosedWay(cb WayCallback, tags Tags, zoom int) []*Instruction {
	return t.MatchWay(cb, tags, zoom, true)
}

func (t *Theme) MatchLinearWay(cb WayCallback, tags Tags, zoom int) []*Instruction {
	return t.MatchWay(cb, tags, zoom, false)
}

// HasAlpha reports whether tiles of this theme need a transparent canvas.
func (t *Theme) HasAlpha() bool {
	_, _, _, a, err := ParseColor(t.Background)
	return err != nil || a < 0xff
}

// Destroy releases the symbol bitmaps of the theme.
func (t *Theme) Destroy() {
	for _, r := range t.rules {
		r.destroy()
	}
}

// StrokeScale is the factor applied to stroke widths at zoom.
func StrokeScale(zoom int) float64 {
	if zoom <= strokeBaseZoom {
		return 1
	}
	return math.Pow(1.5, float64(zoom-strokeBaseZoom))
}

// ParseColor decodes "#rrggbb" and "#aarrggbb" colors.
func ParseColor(s string) (r, g, b, a uint8, err error) {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 && len(hex) != 8 || hex == s {
		return 0, 0, 0, 0, errors.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, 0, errors.Wrapf(err, "invalid color %q", s)
	}
	if len(hex) == 6 {
		v |= 0xff000000
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), uint8(v >> 24), nil
}
