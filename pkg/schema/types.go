package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// Type defines the contract for value validation.
type Type interface {
	// Name returns the human-readable name of the type (e.g., "string", "int").
	Name() string
	// Validate checks if a value conforms to this type.
	Validate(value any) error
}

// StringType validates string values.
type StringType struct {
	nonEmpty bool
}

func (t *StringType) Name() string { return "string" }

func (t *StringType) Validate(value any) error {
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	if t.nonEmpty && s == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

// IntType validates integer values with an optional lower bound.
type IntType struct {
	min    int64
	hasMin bool
}

func (t *IntType) Name() string { return "int" }

func (t *IntType) Validate(value any) error {
	n, err := AsInt(value)
	if err != nil {
		return err
	}
	if t.hasMin && n < t.min {
		return fmt.Errorf("must be >= %d", t.min)
	}
	return nil
}

// AsInt converts the numeric shapes produced by JSON and YAML decoders to int64.
func AsInt(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("integer overflow")
		}
		return int64(v), nil
	case float64:
		// Accept floats that are whole numbers (from JSON unmarshaling)
		if v == math.Trunc(v) {
			return int64(v), nil
		}
		return 0, fmt.Errorf("expected int, got float (not a whole number)")
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected int, got %q", v.String())
		}
		return n, nil
	default:
		return 0, fmt.Errorf("expected int, got %T", value)
	}
}

// SliceType validates slices of a specific element type.
type SliceType struct {
	elemType Type
	nonEmpty bool
}

func (t *SliceType) Name() string {
	return fmt.Sprintf("[%s]", t.elemType.Name())
}

func (t *SliceType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return fmt.Errorf("expected list, got %T", value)
	}
	if t.nonEmpty && rv.Len() == 0 {
		return fmt.Errorf("must not be empty")
	}

	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		if err := t.elemType.Validate(elem); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// MapType validates string-keyed objects whose values share a type.
type MapType struct {
	elemType Type
}

func (t *MapType) Name() string {
	return fmt.Sprintf("{%s}", t.elemType.Name())
}

func (t *MapType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return fmt.Errorf("expected object, got %T", value)
	}
	iter := rv.MapRange()
	for iter.Next() {
		if err := t.elemType.Validate(iter.Value().Interface()); err != nil {
			return fmt.Errorf("entry %q: %w", iter.Key().String(), err)
		}
	}
	return nil
}

// CustomType applies a user-defined validation function.
type CustomType struct {
	name     string
	validate func(any) error
}

func (t *CustomType) Name() string { return t.name }

func (t *CustomType) Validate(value any) error {
	return t.validate(value)
}

// --- Factory Functions ---

// String creates a string type validator.
func String() Type { return &StringType{} }

// NonEmptyString rejects "".
func NonEmptyString() Type { return &StringType{nonEmpty: true} }

// Int creates an integer type validator.
func Int() Type { return &IntType{} }

// NonNegativeInt accepts integers >= 0.
func NonNegativeInt() Type { return &IntType{min: 0, hasMin: true} }

// PositiveInt accepts integers >= 1.
func PositiveInt() Type { return &IntType{min: 1, hasMin: true} }

// Slice creates a list validator for elements of the given type.
func Slice(elemType Type) Type {
	return &SliceType{elemType: elemType}
}

// NonEmptySlice is Slice that also rejects empty lists.
func NonEmptySlice(elemType Type) Type {
	return &SliceType{elemType: elemType, nonEmpty: true}
}

// Map creates an object validator for values of the given type.
func Map(elemType Type) Type {
	return &MapType{elemType: elemType}
}

// Custom creates a custom type validator with a user-defined function.
func Custom(name string, validate func(any) error) Type {
	return &CustomType{name: name, validate: validate}
}
