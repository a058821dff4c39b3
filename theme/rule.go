package theme

import (
	"fmt"
	"strings"
)

// Rule is a node of the rule tree. A rule that matches a feature hands all
// its instructions to the callback and then descends into every sub-rule.
type Rule struct {
	Category string

	element      ElementMatcher
	closed       ClosedMatcher
	keyMatcher   AttributeMatcher
	valueMatcher AttributeMatcher
	zoomMin      int
	zoomMax      int
	negative     bool

	instructions []*Instruction
	subRules     []*Rule
}

// Matches reports whether the rule itself accepts a feature, ignoring its
// ancestors and sub-rules.
func (r *Rule) Matches(tags Tags, zoom int, e Element, closed bool) bool {
	return zoom >= r.zoomMin && zoom <= r.zoomMax &&
		r.element.Matches(e) &&
		(e == Node || r.closed.Matches(closed)) &&
		r.keyMatcher.Matches(tags) &&
		r.valueMatcher.Matches(tags)
}

func (r *Rule) matchNode(cb NodeCallback, tags Tags, zoom int, matching []*Instruction) []*Instruction {
	if !r.Matches(tags, zoom, Node, false) {
		return matching
	}
	for _, ri := range r.instructions {
		ri.RenderNode(cb, tags)
		matching = append(matching, ri)
	}
	for _, sub := range r.subRules {
		matching = sub.matchNode(cb, tags, zoom, matching)
	}
	return matching
}

func (r *Rule) matchWay(cb WayCallback, tags Tags, zoom int, closed bool, matching []*Instruction) []*Instruction {
	if !r.Matches(tags, zoom, Way, closed) {
		return matching
	}
	for _, ri := range r.instructions {
		ri.RenderWay(cb, tags)
		matching = append(matching, ri)
	}
	for _, sub := range r.subRules {
		matching = sub.matchWay(cb, tags, zoom, closed, matching)
	}
	return matching
}

// Instructions returns the rule's own instructions in declaration order.
func (r *Rule) Instructions() []*Instruction { return r.instructions }

// SubRules returns the child rules in declaration order.
func (r *Rule) SubRules() []*Rule { return r.subRules }

func (r *Rule) destroy() {
	for _, ri := range r.instructions {
		ri.destroy()
	}
	for _, sub := range r.subRules {
		sub.destroy()
	}
}

func (r *Rule) String() string {
	var b strings.Builder
	if r.negative {
		b.WriteString("!")
	}
	fmt.Fprintf(&b, "rule(%s %s", r.keyMatcher.id(), r.valueMatcher.id())
	fmt.Fprintf(&b, " z%d-%d", r.zoomMin, r.zoomMax)
	if r.Category != "" {
		fmt.Fprintf(&b, " cat=%s", r.Category)
	}
	b.WriteString(")")
	return b.String()
}
