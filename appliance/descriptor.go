package appliance

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/c360/countertop/errors"
)

// Factory builds a fresh appliance instance. Factories must not perform
// I/O; that belongs in Start.
type Factory func(settings Settings) (Appliance, error)

// Descriptor is the immutable declaration of an appliance class.
type Descriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	InputTypes  []string `json:"input_types"`
	OutputTypes []string `json:"output_types"`
	Factory     Factory  `json:"-"`
}

// Validate checks that d can be registered.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "appliance", "Validate", "descriptor name check")
	}
	if d.Factory == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %s has no factory", errors.ErrInvalidConfig, d.Name),
			"appliance", "Validate", "factory check")
	}
	for _, t := range append(slices.Clone(d.InputTypes), d.OutputTypes...) {
		if t == "" {
			return errors.WrapInvalid(fmt.Errorf("%w: %s declares an empty type", errors.ErrInvalidConfig, d.Name),
				"appliance", "Validate", "type check")
		}
	}
	return nil
}

// Inputs returns the declared input types narrowed by s.InputTypeFilter.
func (d Descriptor) Inputs(s Settings) []string {
	return filterTypes(d.InputTypes, s.InputTypeFilter)
}

// Outputs returns the declared output types narrowed by s.OutputTypeFilter.
func (d Descriptor) Outputs(s Settings) []string {
	return filterTypes(d.OutputTypes, s.OutputTypeFilter)
}

// filterTypes keeps every declared type when filter is nil. A non-nil
// empty filter keeps none.
func filterTypes(declared, filter []string) []string {
	if filter == nil {
		return slices.Clone(declared)
	}
	out := make([]string, 0, len(declared))
	for _, t := range declared {
		if slices.Contains(filter, t) {
			out = append(out, t)
		}
	}
	return out
}

// Settings configure one registered appliance (one Station).
type Settings struct {
	// Label names the station in logs and topology dumps; the descriptor
	// name is used when empty.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	// InputTypeFilter, when non-nil, restricts the consumed types to this
	// subset of the declared inputs. An empty, non-nil filter disables
	// every input.
	InputTypeFilter []string `json:"input_type_filter,omitempty" yaml:"input_type_filter,omitempty"`
	// OutputTypeFilter, when non-nil, restricts the published types in the
	// same way.
	OutputTypeFilter []string `json:"output_type_filter,omitempty" yaml:"output_type_filter,omitempty"`
	// Config is passed through to the appliance factory.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Decode unmarshals Config into v.
func (s Settings) Decode(v any) error {
	if len(s.Config) == 0 {
		return nil
	}
	raw, err := json.Marshal(s.Config)
	if err != nil {
		return errors.WrapInvalid(err, "appliance", "Decode", "marshal settings")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.WrapInvalid(err, "appliance", "Decode", "unmarshal settings")
	}
	return nil
}
