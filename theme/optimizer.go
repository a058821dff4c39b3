package theme

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// UnreachableRuleWarning reports a rule that can never match below its
// ancestors. The rule stays in the tree.
type UnreachableRuleWarning struct {
	Rule   string
	Reason string
}

func (w UnreachableRuleWarning) Error() string {
	return fmt.Sprintf("unreachable rule (%s): %s", w.Reason, w.Rule)
}

// ancestor is a rule on the current path together with the matchers it
// was declared with. Optimized matchers may have become AnyMatcher, but
// the declared ones still hold for every feature that reached the rule.
type ancestor struct {
	rule         *Rule
	keyMatcher   AttributeMatcher
	valueMatcher AttributeMatcher
	closed       ClosedMatcher
	element      ElementMatcher
}

// matcherCache shares structurally identical matchers within one
// optimization pass. It lives only for the duration of the pass.
type matcherCache map[string]AttributeMatcher

func (c matcherCache) intern(m AttributeMatcher) AttributeMatcher {
	if _, ok := m.(anyMatcher); ok {
		return m
	}
	if cached, ok := c[m.id()]; ok {
		return cached
	}
	c[m.id()] = m
	return m
}

// optimize walks the rule forest top down and replaces matchers that are
// already guaranteed by an ancestor with always-true matchers.
func optimize(rules []*Rule) []UnreachableRuleWarning {
	o := &optimizer{cache: make(matcherCache)}
	for _, r := range rules {
		o.walk(r, nil)
	}
	return o.warnings
}

type optimizer struct {
	cache    matcherCache
	warnings []UnreachableRuleWarning
}

func (o *optimizer) walk(r *Rule, stack []ancestor) {
	declared := ancestor{
		rule:         r,
		keyMatcher:   r.keyMatcher,
		valueMatcher: r.valueMatcher,
		closed:       r.closed,
		element:      r.element,
	}

	r.keyMatcher = o.cache.intern(o.attribute(r, r.keyMatcher, stack))
	r.valueMatcher = o.cache.intern(o.attribute(r, r.valueMatcher, stack))
	r.closed = o.closedMatcher(r, stack)
	r.element = o.elementMatcher(r, stack)
	o.zoom(r, stack)

	stack = append(stack, declared)
	for _, sub := range r.subRules {
		o.walk(sub, stack)
	}
}

func (o *optimizer) warn(r *Rule, reason string) {
	w := UnreachableRuleWarning{Rule: r.String(), Reason: reason}
	log.WithField("rule", w.Rule).Warnf("unreachable rule (%s)", reason)
	o.warnings = append(o.warnings, w)
}

func (o *optimizer) attribute(r *Rule, m AttributeMatcher, stack []ancestor) AttributeMatcher {
	if neg, ok := m.(*NegativeMatcher); ok {
		for _, a := range stack {
			if vm, ok := a.valueMatcher.(*ValueMatcher); ok && neg.forbids(vm) {
				o.warn(r, "negative")
				break
			}
		}
		return m
	}
	if _, ok := m.(anyMatcher); ok {
		return m
	}
	for _, a := range stack {
		if a.keyMatcher.IsCoveredBy(m) || a.valueMatcher.IsCoveredBy(m) {
			return AnyMatcher
		}
	}
	return m
}

func (o *optimizer) closedMatcher(r *Rule, stack []ancestor) ClosedMatcher {
	if r.closed == ClosedAny {
		return r.closed
	}
	// Nodes ignore the closed matcher, so a clash only cuts the rule off
	// when no node can reach it.
	waysOnly := r.element == ElementWay
	for _, a := range stack {
		if a.element == ElementWay {
			waysOnly = true
		}
	}
	for _, a := range stack {
		if a.closed.IsCoveredBy(r.closed) {
			return ClosedAny
		}
		if !a.closed.compatible(r.closed) {
			if waysOnly {
				o.warn(r, "closed")
			}
			return r.closed
		}
	}
	return r.closed
}

func (o *optimizer) elementMatcher(r *Rule, stack []ancestor) ElementMatcher {
	if r.element == ElementAny {
		return r.element
	}
	for _, a := range stack {
		if a.element.IsCoveredBy(r.element) {
			return ElementAny
		}
		if !a.element.compatible(r.element) {
			o.warn(r, "element")
			return r.element
		}
	}
	return r.element
}

func (o *optimizer) zoom(r *Rule, stack []ancestor) {
	for _, a := range stack {
		if a.rule.zoomMax < r.zoomMin || a.rule.zoomMin > r.zoomMax {
			o.warn(r, "zoom")
			return
		}
	}
}
