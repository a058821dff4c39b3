package theme

import (
	"sort"
	"strings"
)

// Tags are the key/value attributes of a map feature.
type Tags map[string]string

// Element is the kind of feature a rule is evaluated against.
type Element uint8

const (
	Node Element = iota + 1
	Way
)

// ElementMatcher restricts a rule to nodes, ways or both.
type ElementMatcher uint8

const (
	ElementAny ElementMatcher = iota
	ElementNode
	ElementWay
)

func (m ElementMatcher) Matches(e Element) bool {
	switch m {
	case ElementNode:
		return e == Node
	case ElementWay:
		return e == Way
	}
	return true
}

// IsCoveredBy reports whether o matches every element m matches.
func (m ElementMatcher) IsCoveredBy(o ElementMatcher) bool {
	return o == ElementAny || o == m
}

func (m ElementMatcher) compatible(o ElementMatcher) bool {
	return m == ElementAny || o == ElementAny || m == o
}

// ClosedMatcher restricts a rule to closed ways, open ways or both.
type ClosedMatcher uint8

const (
	ClosedAny ClosedMatcher = iota
	ClosedYes
	ClosedNo
)

func (m ClosedMatcher) Matches(closed bool) bool {
	switch m {
	case ClosedYes:
		return closed
	case ClosedNo:
		return !closed
	}
	return true
}

// IsCoveredBy reports whether o matches every closedness m matches.
func (m ClosedMatcher) IsCoveredBy(o ClosedMatcher) bool {
	return o == ClosedAny || o == m
}

func (m ClosedMatcher) compatible(o ClosedMatcher) bool {
	return m == ClosedAny || o == ClosedAny || m == o
}

// AttributeMatcher is a predicate over feature tags.
type AttributeMatcher interface {
	Matches(tags Tags) bool
	// IsCoveredBy reports whether other is guaranteed to match whenever
	// the receiver matches.
	IsCoveredBy(other AttributeMatcher) bool
	// id is the structural identity used to share matchers during a build.
	id() string
}

type anyMatcher struct{}

// AnyMatcher matches every tag set.
var AnyMatcher AttributeMatcher = anyMatcher{}

func (anyMatcher) Matches(Tags) bool { return true }

func (anyMatcher) IsCoveredBy(other AttributeMatcher) bool {
	_, ok := other.(anyMatcher)
	return ok
}

func (anyMatcher) id() string { return "*" }

// KeyMatcher matches if any of its keys is present.
type KeyMatcher struct {
	keys []string
}

func NewKeyMatcher(keys []string) *KeyMatcher {
	return &KeyMatcher{keys: normalize(keys)}
}

func (m *KeyMatcher) Matches(tags Tags) bool {
	for _, k := range m.keys {
		if _, ok := tags[k]; ok {
			return true
		}
	}
	return false
}

func (m *KeyMatcher) IsCoveredBy(other AttributeMatcher) bool {
	switch o := other.(type) {
	case anyMatcher:
		return true
	case *KeyMatcher:
		return containsAll(o.keys, m.keys)
	}
	return false
}

func (m *KeyMatcher) id() string { return "k:" + strings.Join(m.keys, "|") }

// ValueMatcher matches if one of its keys carries one of its values. A nil
// key list accepts the values under any key.
type ValueMatcher struct {
	keys   []string
	values []string
}

func NewValueMatcher(keys, values []string) *ValueMatcher {
	return &ValueMatcher{keys: normalize(keys), values: normalize(values)}
}

func (m *ValueMatcher) Matches(tags Tags) bool {
	if m.keys == nil {
		for _, v := range tags {
			if contains(m.values, v) {
				return true
			}
		}
		return false
	}
	for _, k := range m.keys {
		if v, ok := tags[k]; ok && contains(m.values, v) {
			return true
		}
	}
	return false
}

func (m *ValueMatcher) IsCoveredBy(other AttributeMatcher) bool {
	switch o := other.(type) {
	case anyMatcher:
		return true
	case *KeyMatcher:
		return m.keys != nil && containsAll(o.keys, m.keys)
	case *ValueMatcher:
		keysCovered := o.keys == nil || (m.keys != nil && containsAll(o.keys, m.keys))
		return keysCovered && containsAll(o.values, m.values)
	}
	return false
}

func (m *ValueMatcher) id() string {
	return "v:" + strings.Join(m.keys, "|") + "=" + strings.Join(m.values, "|")
}

// NegativeMatcher matches if none of the forbidden key/value pairs is
// present. A nil value list forbids the keys regardless of value.
type NegativeMatcher struct {
	keys   []string
	values []string
}

func NewNegativeMatcher(keys, values []string) *NegativeMatcher {
	return &NegativeMatcher{keys: normalize(keys), values: normalize(values)}
}

func (m *NegativeMatcher) Matches(tags Tags) bool {
	for _, k := range m.keys {
		v, ok := tags[k]
		if !ok {
			continue
		}
		if m.values == nil || contains(m.values, v) {
			return false
		}
	}
	return true
}

func (m *NegativeMatcher) IsCoveredBy(other AttributeMatcher) bool {
	switch other.(type) {
	case anyMatcher:
		return true
	case *NegativeMatcher:
		return other.id() == m.id()
	}
	return false
}

func (m *NegativeMatcher) id() string {
	return "!:" + strings.Join(m.keys, "|") + "=" + strings.Join(m.values, "|")
}

// forbids reports whether every tag set accepted by vm is rejected by m.
func (m *NegativeMatcher) forbids(vm *ValueMatcher) bool {
	if vm.keys == nil || !containsAll(m.keys, vm.keys) {
		return false
	}
	return m.values == nil || containsAll(m.values, vm.values)
}

// normalize sorts and dedups a list. nil stays nil, meaning "any".
func normalize(list []string) []string {
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func contains(list []string, s string) bool {
	for _, l := range list {
		if l == s {
			return true
		}
	}
	return false
}

func containsAll(super, sub []string) bool {
	for _, s := range sub {
		if !contains(super, s) {
			return false
		}
	}
	return true
}
