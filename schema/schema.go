// Package schema implements the structural validators used for procedure
// and task input/output (spec.md Design Note "Dynamic typing of procedure
// I/O": "model procedures as tagged entries with schema descriptors").
//
// Ported from the teacher's pkg/schema/schema.go (StringSchema,
// NumberSchema, ObjectSchema, ...); the teacher's version is kept nearly
// verbatim since it already matches the spec's schema-descriptor model.
package schema

import (
	"fmt"
	"reflect"

	"github.com/koretto/koretto/korerr"
)

// Schema validates a decoded value and returns the (possibly coerced)
// value, or a *korerr.Error of kind ValidationError with field detail.
type Schema interface {
	Validate(value any) (any, error)
}

// ValidateWithPath validates value and, on failure, returns a
// korerr.ValidationError carrying field-path detail (spec.md §4.4 step 3).
func ValidateWithPath(s Schema, value any) (any, error) {
	v, err := s.Validate(value)
	if err == nil {
		return v, nil
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		return nil, korerr.Wrap(korerr.ValidationError, err.Error(), err)
	}
	path := "$"
	if len(ve.Path) > 0 {
		path = ve.Path[0]
		for _, p := range ve.Path[1:] {
			path += p
		}
	}
	return nil, korerr.New(korerr.ValidationError, ve.Message).
		WithFields([]korerr.FieldDetail{{Path: path, Message: ve.Message}})
}

// ValidationError describes one schema validation failure and the path to
// the offending field.
type ValidationError struct {
	Message string
	Path    []string
}

func (e *ValidationError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("%s at path %v", e.Message, e.Path)
	}
	return e.Message
}

// StringSchema validates strings.
type StringSchema struct {
	MinLength int
	MaxLength int
}

func (s *StringSchema) Validate(value any) (any, error) {
	str, ok := value.(string)
	if !ok {
		return nil, &ValidationError{Message: "value is not a string"}
	}
	if s.MinLength > 0 && len(str) < s.MinLength {
		return nil, &ValidationError{Message: fmt.Sprintf("string length %d is less than minimum length %d", len(str), s.MinLength)}
	}
	if s.MaxLength > 0 && len(str) > s.MaxLength {
		return nil, &ValidationError{Message: fmt.Sprintf("string length %d is greater than maximum length %d", len(str), s.MaxLength)}
	}
	return str, nil
}

// NumberSchema validates numbers given as int, int32, int64, float32 or
// float64; other numeric types are rejected as not a number.
type NumberSchema struct {
	Min, Max         float64
	HasMin, HasMax   bool
	Integer          bool
}

func (s *NumberSchema) Validate(value any) (any, error) {
	num, ok := toFloat64(value)
	if !ok {
		return nil, &ValidationError{Message: "value is not a number"}
	}
	if s.HasMin && num < s.Min {
		return nil, &ValidationError{Message: fmt.Sprintf("number %v is less than minimum %v", num, s.Min)}
	}
	if s.HasMax && num > s.Max {
		return nil, &ValidationError{Message: fmt.Sprintf("number %v is greater than maximum %v", num, s.Max)}
	}
	if s.Integer && float64(int64(num)) != num {
		return nil, &ValidationError{Message: "number must be an integer"}
	}
	return value, nil
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// BooleanSchema validates booleans.
type BooleanSchema struct{}

func (s *BooleanSchema) Validate(value any) (any, error) {
	b, ok := value.(bool)
	if !ok {
		return nil, &ValidationError{Message: "value is not a boolean"}
	}
	return b, nil
}

// ArraySchema validates slices, optionally per-item.
type ArraySchema struct {
	Items    Schema
	MinItems int
	MaxItems int
}

func (s *ArraySchema) Validate(value any) (any, error) {
	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Slice && val.Kind() != reflect.Array {
		return nil, &ValidationError{Message: "value is not an array"}
	}
	length := val.Len()
	if s.MinItems > 0 && length < s.MinItems {
		return nil, &ValidationError{Message: fmt.Sprintf("array length %d is less than minimum length %d", length, s.MinItems)}
	}
	if s.MaxItems > 0 && length > s.MaxItems {
		return nil, &ValidationError{Message: fmt.Sprintf("array length %d is greater than maximum length %d", length, s.MaxItems)}
	}
	if s.Items == nil {
		return value, nil
	}

	result := reflect.MakeSlice(val.Type(), 0, length)
	for i := 0; i < length; i++ {
		item, err := s.Items.Validate(val.Index(i).Interface())
		if err != nil {
			if ve, ok := err.(*ValidationError); ok {
				ve.Path = append([]string{fmt.Sprintf("[%d]", i)}, ve.Path...)
			}
			return nil, err
		}
		result = reflect.Append(result, reflect.ValueOf(item))
	}
	return result.Interface(), nil
}

// ObjectSchema validates a map[string]any against named property schemas.
type ObjectSchema struct {
	Properties map[string]Schema
	Required   []string
}

func (s *ObjectSchema) Validate(value any) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, &ValidationError{Message: "value is not an object"}
	}

	for _, req := range s.Required {
		if _, present := m[req]; !present {
			return nil, &ValidationError{Message: fmt.Sprintf("required property %s is missing", req)}
		}
	}

	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = v
	}
	for key, sch := range s.Properties {
		v, present := m[key]
		if !present {
			continue
		}
		validated, err := sch.Validate(v)
		if err != nil {
			if ve, ok := err.(*ValidationError); ok {
				ve.Path = append([]string{"." + key}, ve.Path...)
			}
			return nil, err
		}
		result[key] = validated
	}
	return result, nil
}

// AnySchema accepts any value unchanged.
type AnySchema struct{}

func (s *AnySchema) Validate(value any) (any, error) { return value, nil }

func String() *StringSchema            { return &StringSchema{} }
func Number() *NumberSchema             { return &NumberSchema{} }
func Boolean() *BooleanSchema           { return &BooleanSchema{} }
func Array(items Schema) *ArraySchema   { return &ArraySchema{Items: items} }
func Object(props map[string]Schema) *ObjectSchema {
	return &ObjectSchema{Properties: props}
}
func Any() Schema { return &AnySchema{} }
