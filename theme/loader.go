package theme

import (
	"io"
	"io/ioutil"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// document is the YAML form of a ruleset:
//
//	background: "#f8f4f0"
//	rules:
//	  - e: way
//	    k: natural
//	    v: water
//	    instructions:
//	      - type: area
//	        fill: "#b5d0d0"
//	    rules: [...]
type document struct {
	Background string     `yaml:"background"`
	Rules      []yamlRule `yaml:"rules"`
}

type yamlRule struct {
	Category     string            `yaml:"cat"`
	Element      string            `yaml:"e"`
	Keys         string            `yaml:"k"`
	Values       string            `yaml:"v"`
	Closed       string            `yaml:"closed"`
	Negative     bool              `yaml:"negative"`
	ZoomMin      int               `yaml:"zoom-min"`
	ZoomMax      *int              `yaml:"zoom-max"`
	Instructions []yamlInstruction `yaml:"instructions"`
	Rules        []yamlRule        `yaml:"rules"`
}

type yamlInstruction struct {
	Type        string    `yaml:"type"`
	Category    string    `yaml:"cat"`
	Fill        string    `yaml:"fill"`
	Stroke      string    `yaml:"stroke"`
	StrokeWidth float64   `yaml:"stroke-width"`
	Dash        []float64 `yaml:"stroke-dasharray"`
	Dy          float64   `yaml:"dy"`
	Radius      float64   `yaml:"radius"`
	ScaleRadius bool      `yaml:"scale-radius"`
	Key         string    `yaml:"k"`
	FontSize    float64   `yaml:"font-size"`
	Priority    int       `yaml:"priority"`
	Position    string    `yaml:"position"`
	Src         string    `yaml:"src"`
	ID          string    `yaml:"id"`
	SymbolID    string    `yaml:"symbol-id"`
	Repeat      bool      `yaml:"repeat"`
	RepeatGap   float64   `yaml:"repeat-gap"`
}

// LoadYAMLFile builds a theme from a YAML ruleset file.
func LoadYAMLFile(path string, opts Options) (*Theme, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading ruleset %s", path)
	}
	return parseYAML(b, opts)
}

// LoadYAML builds a theme from a YAML ruleset.
func LoadYAML(r io.Reader, opts Options) (*Theme, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading ruleset")
	}
	return parseYAML(b, opts)
}

func parseYAML(b []byte, opts Options) (*Theme, error) {
	var doc document
	if err := yaml.UnmarshalStrict(b, &doc); err != nil {
		return nil, errors.Wrap(ErrRulesetBuild, err.Error())
	}
	builder := NewBuilder(opts)
	builder.SetBackground(doc.Background)
	for i := range doc.Rules {
		if err := addRule(builder, &doc.Rules[i]); err != nil {
			builder.release()
			return nil, err
		}
	}
	return builder.Build()
}

func addRule(b *Builder, r *yamlRule) error {
	zoomMax := DefaultZoomMax
	if r.ZoomMax != nil {
		zoomMax = *r.ZoomMax
	}
	err := b.OpenRule(RuleSpec{
		Category: r.Category,
		Element:  r.Element,
		Closed:   r.Closed,
		Keys:     r.Keys,
		Values:   r.Values,
		Negative: r.Negative,
		ZoomMin:  r.ZoomMin,
		ZoomMax:  zoomMax,
	})
	if err != nil {
		return err
	}
	for _, yi := range r.Instructions {
		ri, err := yi.instruction()
		if err != nil {
			return b.fail(errors.Wrap(ErrRulesetBuild, err.Error()))
		}
		if err := b.AddInstruction(ri); err != nil {
			return err
		}
	}
	for i := range r.Rules {
		if err := addRule(b, &r.Rules[i]); err != nil {
			return err
		}
	}
	return b.CloseRule()
}

func (yi yamlInstruction) instruction() (Instruction, error) {
	kind, ok := ParseKind(yi.Type)
	if !ok {
		return Instruction{}, errors.Errorf("unknown instruction type %q", yi.Type)
	}
	ri := Instruction{
		Kind:        kind,
		Category:    yi.Category,
		Priority:    yi.Priority,
		Fill:        Paint{Color: yi.Fill},
		Stroke:      Paint{Color: yi.Stroke, Width: yi.StrokeWidth, Dash: yi.Dash},
		Dy:          yi.Dy,
		Radius:      yi.Radius,
		ScaleRadius: yi.ScaleRadius,
		TextKey:     yi.Key,
		Src:         yi.Src,
		ID:          yi.ID,
		SymbolID:    yi.SymbolID,
		Repeat:      yi.Repeat,
		RepeatGap:   yi.RepeatGap,
	}
	for _, c := range []string{yi.Fill, yi.Stroke} {
		if c == "" {
			continue
		}
		if _, _, _, _, err := ParseColor(c); err != nil {
			return Instruction{}, err
		}
	}
	if kind == Caption || kind == PathText {
		ri.Fill.FontSize = yi.FontSize
		ri.Stroke.FontSize = yi.FontSize
	}
	switch strings.ToLower(yi.Position) {
	case "", "center":
		ri.Position = Center
	case "above":
		ri.Position = Above
	case "below":
		ri.Position = Below
	default:
		return Instruction{}, errors.Errorf("invalid position %q", yi.Position)
	}
	return ri, nil
}
