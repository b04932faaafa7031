// Package deffile reads tree definition documents: a tree's levels and its
// aggregate definitions in YAML or TOML.
package deffile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/arborhq/arbor/internal/types"
)

// Format is the encoding of a document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Document describes one tree.
//
//	name: Planning
//	levels:
//	  - type: Release
//	  - type: Iteration
//	  - type: Story
//	aggregates:
//	  - name: Story Points
//	    node: Release
//	    function: sum
//	    source: Estimate
//	    scope: type
//	    scope_type: Story
type Document struct {
	Name       string      `yaml:"name" toml:"name" json:"name" validate:"required"`
	Levels     []Level     `yaml:"levels" toml:"levels" json:"levels" validate:"required,min=2,dive"`
	Aggregates []Aggregate `yaml:"aggregates,omitempty" toml:"aggregates,omitempty" json:"aggregates,omitempty" validate:"dive"`

	// Source is the absolute path the document was read from, if any.
	Source string `yaml:"-" toml:"-" json:"-"`
}

// Level is one level of the tree. Property overrides the default
// relationship property name.
type Level struct {
	Type     string `yaml:"type" toml:"type" json:"type" validate:"required"`
	Property string `yaml:"property,omitempty" toml:"property,omitempty" json:"property,omitempty"`
}

// Aggregate is one aggregate definition. Scope is all (default), children
// or type; scope_type names the card type for the type scope.
type Aggregate struct {
	Name      string `yaml:"name" toml:"name" json:"name" validate:"required"`
	Node      string `yaml:"node" toml:"node" json:"node" validate:"required"`
	Function  string `yaml:"function" toml:"function" json:"function" validate:"required,aggfunc"`
	Source    string `yaml:"source,omitempty" toml:"source,omitempty" json:"source,omitempty"`
	Scope     string `yaml:"scope,omitempty" toml:"scope,omitempty" json:"scope,omitempty" validate:"omitempty,oneof=all children type"`
	ScopeType string `yaml:"scope_type,omitempty" toml:"scope_type,omitempty" json:"scope_type,omitempty" validate:"required_if=Scope type"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("aggfunc", func(fl validator.FieldLevel) bool {
		_, err := types.ParseAggregateFunction(fl.Field().String())
		return err == nil
	})
}

// FormatOf picks the format from a file extension. Anything that is not
// .toml is read as YAML, which also covers JSON.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// ParseFile reads and validates the document at path.
func ParseFile(path string) (*Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	// #nosec G304 -- path is explicit user input
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := Parse(data, FormatOf(path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	doc.Source = absPath
	return doc, nil
}

// Parse decodes and validates a document.
func Parse(data []byte, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the document structure. Names and level rules are
// checked again by the engine when the document is applied.
func (d *Document) Validate() error {
	err := validate.Struct(d)
	if err == nil {
		return d.checkNames()
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid document: %s: %w", strings.Join(msgs, "; "), types.ErrValidation)
}

func (d *Document) checkNames() error {
	seen := make(map[string]bool, len(d.Aggregates))
	for _, a := range d.Aggregates {
		key := strings.ToLower(strings.TrimSpace(a.Name))
		if seen[key] {
			return fmt.Errorf("invalid document: aggregate %q is defined twice: %w", a.Name, types.ErrValidation)
		}
		seen[key] = true
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Document.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	case "required_if":
		return field + " is required for the type scope"
	case "aggfunc":
		return fmt.Sprintf("%s: unknown function %q", field, fe.Value())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}

// SchemaLevels converts the levels for the schema engine.
func (d *Document) SchemaLevels() []types.Level {
	out := make([]types.Level, 0, len(d.Levels))
	for _, l := range d.Levels {
		out = append(out, types.Level{CardType: strings.TrimSpace(l.Type), RelationshipProperty: strings.TrimSpace(l.Property)})
	}
	return out
}

// AggregateDefinitions converts the aggregates for the aggregate engine.
// TreeID and ID are left for the engine to fill.
func (d *Document) AggregateDefinitions() ([]types.AggregateDefinition, error) {
	out := make([]types.AggregateDefinition, 0, len(d.Aggregates))
	for _, a := range d.Aggregates {
		def, err := a.Definition()
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// Definition converts one aggregate.
func (a Aggregate) Definition() (types.AggregateDefinition, error) {
	fn, err := types.ParseAggregateFunction(a.Function)
	if err != nil {
		return types.AggregateDefinition{}, fmt.Errorf("aggregate %q: %w", a.Name, err)
	}
	scope := types.AllDescendants()
	switch a.Scope {
	case "children":
		scope = types.DirectChildren()
	case "type":
		scope = types.OfType(strings.TrimSpace(a.ScopeType))
	}
	return types.AggregateDefinition{
		Name:           strings.TrimSpace(a.Name),
		NodeType:       strings.TrimSpace(a.Node),
		Function:       fn,
		SourceProperty: strings.TrimSpace(a.Source),
		Scope:          scope,
	}, nil
}

// FromSchema builds a document describing an existing tree, e.g. for
// `arbor schema show --format yaml`.
func FromSchema(s *types.TreeSchema, defs []*types.AggregateDefinition) *Document {
	doc := &Document{Name: s.Name}
	for _, l := range s.Levels {
		doc.Levels = append(doc.Levels, Level{Type: l.CardType, Property: l.RelationshipProperty})
	}
	for _, def := range defs {
		a := Aggregate{Name: def.Name, Node: def.NodeType, Function: string(def.Function), Source: def.SourceProperty}
		switch def.Scope.Kind {
		case types.ScopeDirectChildren:
			a.Scope = "children"
		case types.ScopeCardType:
			a.Scope, a.ScopeType = "type", def.Scope.CardType
		}
		doc.Aggregates = append(doc.Aggregates, a)
	}
	return doc
}

// Encode writes the document in format.
func (d *Document) Encode(format Format) ([]byte, error) {
	switch format {
	case FormatTOML:
		var b strings.Builder
		if err := toml.NewEncoder(&b).Encode(d); err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
		return []byte(b.String()), nil
	case FormatYAML:
		return yaml.Marshal(d)
	}
	return nil, fmt.Errorf("unknown format %q", format)
}
