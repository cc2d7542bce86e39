// Package tolerance resolves per-field numeric tolerances for a
// reconciliation scope. The resolver is a pure lookup with no mutable state.
package tolerance

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cleargate/reconengine/internal/model"
)

// Kind selects how a tolerance is applied.
type Kind string

const (
	Absolute   Kind = "absolute"
	Percentage Kind = "percentage"
)

// Tolerance is one per-field tolerance rule.
type Tolerance struct {
	Field string
	Kind  Kind
	Value decimal.Decimal
}

// UnmarshalYAML decodes a tolerance rule, parsing the value as a decimal
// string to avoid float rounding.
func (t *Tolerance) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Field string `yaml:"field"`
		Kind  Kind   `yaml:"kind"`
		Value string `yaml:"value"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	value, err := decimal.NewFromString(raw.Value)
	if err != nil {
		return fmt.Errorf("tolerance value for field %q: %w", raw.Field, err)
	}
	t.Field = raw.Field
	t.Kind = raw.Kind
	t.Value = value
	return nil
}

// Within reports whether the difference between internal and external is
// inside the tolerance. Percentage tolerances are relative to the internal
// value; a zero internal value only tolerates an exactly equal external one.
func (t Tolerance) Within(internal, external decimal.Decimal) bool {
	diff := internal.Sub(external).Abs()
	switch t.Kind {
	case Percentage:
		if internal.IsZero() {
			return diff.IsZero()
		}
		limit := internal.Abs().Mul(t.Value).Div(decimal.NewFromInt(100))
		return diff.LessThanOrEqual(limit)
	default:
		return diff.LessThanOrEqual(t.Value)
	}
}

// Set holds the tolerances in force for one reconciliation scope.
type Set map[string]Tolerance

// Profile is a named tolerance document, one per scope, loadable from YAML.
type Profile struct {
	Scope      model.BreakScope `yaml:"scope"`
	Tolerances []Tolerance      `yaml:"tolerances"`
}

// Resolver looks up tolerance sets by scope, falling back to defaults.
type Resolver struct {
	profiles map[model.BreakScope]Set
	defaults Set
}

// DefaultPriceTolerance is the hard-coded business default: 0.01 absolute.
// It is preserved as a configurable constant rather than second-guessed.
var DefaultPriceTolerance = decimal.NewFromFloat(0.01)

// NewResolver builds a resolver seeded with the default tolerance set.
func NewResolver() *Resolver {
	return &Resolver{
		profiles: make(map[model.BreakScope]Set),
		defaults: Set{
			model.FieldPrice: {Field: model.FieldPrice, Kind: Absolute, Value: DefaultPriceTolerance},
		},
	}
}

// Register installs a profile for a scope, replacing any prior one.
func (r *Resolver) Register(p Profile) {
	set := make(Set, len(p.Tolerances))
	for _, t := range p.Tolerances {
		set[t.Field] = t
	}
	r.profiles[p.Scope] = set
}

// Resolve returns the tolerance set for a scope. Fields without an explicit
// rule fall back to the defaults.
func (r *Resolver) Resolve(scope model.BreakScope) Set {
	set := make(Set, len(r.defaults))
	for f, t := range r.defaults {
		set[f] = t
	}
	for f, t := range r.profiles[scope] {
		set[f] = t
	}
	return set
}

// For returns the tolerance for a single field in a scope and whether one
// exists.
func (r *Resolver) For(scope model.BreakScope, field string) (Tolerance, bool) {
	if t, ok := r.profiles[scope][field]; ok {
		return t, true
	}
	t, ok := r.defaults[field]
	return t, ok
}

// LoadProfiles reads tolerance profiles from a YAML file containing a list
// of profile documents and registers each.
func (r *Resolver) LoadProfiles(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tolerance profiles: %w", err)
	}
	var profiles []Profile
	if err := yaml.Unmarshal(raw, &profiles); err != nil {
		return fmt.Errorf("parse tolerance profiles: %w", err)
	}
	for _, p := range profiles {
		r.Register(p)
	}
	return nil
}
