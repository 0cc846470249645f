package schema

import (
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// Field binds a Type to a presence rule.
type Field struct {
	Type     Type
	Required bool
}

// Required marks a key that must be present.
func Required(t Type) Field { return Field{Type: t, Required: true} }

// Optional marks a key that is checked only when present.
func Optional(t Type) Field { return Field{Type: t} }

// Schema is a map of key names to their expected fields.
type Schema map[string]Field

// Keys returns the schema keys in a stable order.
func (s Schema) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks if data conforms to the schema.
// Returns an *AggregateError with all failures found, in key order.
func Validate(schema Schema, data map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	var errs []error
	for _, key := range schema.Keys() {
		field := schema[key]
		value, exists := data[key]
		if !exists || value == nil {
			if field.Required {
				errs = append(errs, &ValidationError{Key: key, Reason: "required"})
			}
			continue
		}

		if err := field.Type.Validate(value); err != nil {
			errs = append(errs, &ValidationError{
				Key:    key,
				Reason: err.Error(),
				Value:  value,
			})
		}
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// Decode maps a raw node document onto out, a pointer to a struct with
// mapstructure tags. Unknown keys are ignored.
func Decode(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("decode node config: %w", err)
	}
	return nil
}
