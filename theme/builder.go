package theme

import (
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrRulesetBuild is returned for malformed rulesets. No theme is produced.
var ErrRulesetBuild = errors.New("ruleset build error")

// DefaultZoomMax is the zoom-max of rules that do not restrict it.
const DefaultZoomMax = 127

// RuleSpec describes a rule before it is built. Keys and Values are "|"
// separated lists, "*" stands for any key or value.
type RuleSpec struct {
	Category string
	// Element is "node", "way" or "any".
	Element string
	// Closed is "yes", "no" or "any"; empty means "any".
	Closed string
	Keys   string
	Values string
	// Negative rules match when none of the key/value pairs is present.
	Negative bool
	ZoomMin  int
	ZoomMax  int
}

// Options configure a build.
type Options struct {
	// Categories enables rules and instructions by category. A nil map
	// enables everything.
	Categories map[string]bool
	// LoadSymbol resolves symbol sources. Without it symbols carry no bitmap.
	LoadSymbol SymbolLoader
	// StrictUnreachable turns unreachable-rule warnings into build errors.
	StrictUnreachable bool
}

func (o Options) visible(category string) bool {
	return o.Categories == nil || category == "" || o.Categories[category]
}

// Builder assembles a rule tree in document order, the way a ruleset
// parser walks its input: rules are opened and closed around their
// instructions and sub-rules.
type Builder struct {
	opts       Options
	background string
	level      int
	rules      []*Rule
	stack      []*Rule
	symbols    map[string]*Instruction
	err        error
}

func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts, symbols: make(map[string]*Instruction)}
}

// SetBackground sets the map background color.
func (b *Builder) SetBackground(color string) {
	b.background = color
}

func (b *Builder) fail(err error) error {
	if b.err == nil {
		b.err = err
	}
	return err
}

// OpenRule starts a rule nested in the currently open rule, or a top level
// rule if none is open.
func (b *Builder) OpenRule(spec RuleSpec) error {
	if b.err != nil {
		return b.err
	}
	rule, err := newRule(spec)
	if err != nil {
		return b.fail(errors.Wrapf(ErrRulesetBuild, "rule %d.%d: %s", len(b.stack), len(b.rules), err))
	}
	if len(b.stack) > 0 && b.opts.visible(rule.Category) {
		parent := b.stack[len(b.stack)-1]
		parent.subRules = append(parent.subRules, rule)
	}
	b.stack = append(b.stack, rule)
	return nil
}

// CloseRule ends the currently open rule.
func (b *Builder) CloseRule() error {
	if b.err != nil {
		return b.err
	}
	if len(b.stack) == 0 {
		return b.fail(errors.Wrap(ErrRulesetBuild, "close without open rule"))
	}
	rule := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	if len(b.stack) == 0 && b.opts.visible(rule.Category) {
		b.rules = append(b.rules, rule)
	}
	return nil
}

// AddInstruction attaches a copy of ri to the open rule. Area, line and
// circle instructions get the next paint level, even when their category
// hides them, so levels stay stable across category selections.
func (b *Builder) AddInstruction(ri Instruction) error {
	if b.err != nil {
		return b.err
	}
	if len(b.stack) == 0 {
		return b.fail(errors.Wrapf(ErrRulesetBuild, "%s outside of a rule", ri.Kind))
	}
	if err := ri.validate(); err != nil {
		return b.fail(errors.Wrap(ErrRulesetBuild, err.Error()))
	}
	instruction := ri
	if instruction.Kind.leveled() {
		instruction.Level = b.level
		b.level++
	}
	if !b.opts.visible(instruction.Category) || b.hidden() {
		return nil
	}
	if instruction.Src != "" && b.opts.LoadSymbol != nil {
		bitmap, err := b.opts.LoadSymbol(instruction.Src)
		if err != nil {
			log.WithField("instruction", instruction.Kind).Warnf("missing or invalid resource %s: %s", instruction.Src, err)
			return nil
		}
		instruction.Bitmap = bitmap
	}
	if instruction.SymbolID != "" {
		if sym, ok := b.symbols[instruction.SymbolID]; ok {
			instruction.Symbol = sym
		} else {
			log.WithField("instruction", instruction.Kind).Warnf("unknown symbol id %s", instruction.SymbolID)
		}
	}
	rule := b.stack[len(b.stack)-1]
	rule.instructions = append(rule.instructions, &instruction)
	if instruction.Kind == Symbol && instruction.ID != "" {
		b.symbols[instruction.ID] = &instruction
	}
	return nil
}

// hidden reports whether a category hides one of the open rules. Their
// instructions never reach the tree.
func (b *Builder) hidden() bool {
	for _, r := range b.stack {
		if !b.opts.visible(r.Category) {
			return true
		}
	}
	return false
}

// Build optimizes the rule tree and returns the finished theme. The builder
// must not be used afterwards.
func (b *Builder) Build() (*Theme, error) {
	if b.err == nil && len(b.stack) > 0 {
		b.err = errors.Wrapf(ErrRulesetBuild, "%d unclosed rules", len(b.stack))
	}
	if b.err == nil && len(b.rules) == 0 {
		b.err = errors.Wrap(ErrRulesetBuild, "missing rules")
	}
	if b.err != nil {
		b.release()
		return nil, b.err
	}

	warnings := optimize(b.rules)
	if len(warnings) > 0 && b.opts.StrictUnreachable {
		b.release()
		return nil, errors.Wrap(ErrRulesetBuild, warnings[0].Error())
	}
	return &Theme{
		Background: b.background,
		rules:      b.rules,
		levels:     b.level,
		warnings:   warnings,
	}, nil
}

// release frees bitmaps of a build that will not produce a theme.
func (b *Builder) release() {
	for _, r := range b.rules {
		r.destroy()
	}
	for _, r := range b.stack {
		r.destroy()
	}
}

func newRule(spec RuleSpec) (*Rule, error) {
	if spec.Keys == "" {
		return nil, errors.New("missing attribute k")
	}
	if spec.Values == "" {
		return nil, errors.New("missing attribute v")
	}
	if spec.ZoomMin < 0 || spec.ZoomMax < spec.ZoomMin {
		return nil, errors.Errorf("invalid zoom range %d-%d", spec.ZoomMin, spec.ZoomMax)
	}
	rule := &Rule{
		Category: spec.Category,
		zoomMin:  spec.ZoomMin,
		zoomMax:  spec.ZoomMax,
		negative: spec.Negative,
	}

	switch spec.Element {
	case "node":
		rule.element = ElementNode
	case "way":
		rule.element = ElementWay
	case "any":
		rule.element = ElementAny
	case "":
		return nil, errors.New("missing attribute e")
	default:
		return nil, errors.Errorf("invalid value for attribute e: %s", spec.Element)
	}

	switch spec.Closed {
	case "", "any":
		rule.closed = ClosedAny
	case "yes":
		rule.closed = ClosedYes
	case "no":
		rule.closed = ClosedNo
	default:
		return nil, errors.Errorf("invalid value for attribute closed: %s", spec.Closed)
	}

	keys, values := splitList(spec.Keys), splitList(spec.Values)
	if spec.Negative {
		if keys == nil {
			return nil, errors.New("negative rule needs explicit keys")
		}
		rule.keyMatcher = NewNegativeMatcher(keys, values)
		rule.valueMatcher = AnyMatcher
		return rule, nil
	}
	rule.keyMatcher = AnyMatcher
	if keys != nil {
		rule.keyMatcher = NewKeyMatcher(keys)
	}
	rule.valueMatcher = AnyMatcher
	if values != nil {
		rule.valueMatcher = NewValueMatcher(keys, values)
	}
	return rule, nil
}

// splitList returns nil for "*".
func splitList(s string) []string {
	if s == "*" {
		return nil
	}
	return strings.Split(s, "|")
}
