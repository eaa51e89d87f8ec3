package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"unicode/utf8"

	"github.com/nspcc-dev/docstate/identifier"
)

// ErrValidation is matched by every [ValidationError].
var ErrValidation = errors.New("document validation failed")

// Constraint names the violated schema rule.
type Constraint string

// Schema rules checked during document construction.
const (
	ConstraintRequired  Constraint = "required"
	ConstraintUnknown   Constraint = "additionalProperties"
	ConstraintType      Constraint = "type"
	ConstraintMinLength Constraint = "minLength"
	ConstraintMaxLength Constraint = "maxLength"
	ConstraintMinItems  Constraint = "minItems"
	ConstraintMaxItems  Constraint = "maxItems"
	ConstraintEnum      Constraint = "enum"
)

// ValidationError describes document property violating its type schema.
// Validation errors are detected locally, so nothing is sent to the
// platform when one occurs.
type ValidationError struct {
	DocumentType string
	Field        string
	Constraint   Constraint
	Detail       string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("document type %q: field %q violates %s", e.DocumentType, e.Field, e.Constraint)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Is makes ValidationError match [ErrValidation].
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (x *DocumentType) violation(field string, c Constraint, format string, args ...any) *ValidationError {
	return &ValidationError{
		DocumentType: x.Name,
		Field:        field,
		Constraint:   c,
		Detail:       fmt.Sprintf(format, args...),
	}
}

// NormalizeProperties returns a copy of props with values converted to
// canonical Go types: string for strings and enums, []byte for byte arrays
// (JSON arrays of numbers are accepted), int64 for integral numbers, float64
// for fractional numbers and bool. System properties are copied as is.
// Values that can not be converted fail with [ValidationError].
func (x *DocumentType) NormalizeProperties(props map[string]any) (map[string]any, error) {
	res := make(map[string]any, len(props))

	for name, v := range props {
		f, ok := x.Field(name)
		if !ok {
			res[name] = v
			continue
		}

		nv, err := x.normalizeValue(f, v)
		if err != nil {
			return nil, err
		}

		res[name] = nv
	}

	return res, nil
}

func (x *DocumentType) normalizeValue(f Field, v any) (any, error) {
	switch f.Kind {
	case KindString, KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, x.violation(f.Name, ConstraintType, "expected string, got %T", v)
		}
		return s, nil
	case KindBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, x.violation(f.Name, ConstraintType, "expected boolean, got %T", v)
		}
		return b, nil
	case KindInteger:
		n, ok := toNumber(v)
		if !ok {
			return nil, x.violation(f.Name, ConstraintType, "expected integer, got %T", v)
		}
		i, ok := n.(int64)
		if !ok {
			return nil, x.violation(f.Name, ConstraintType, "expected integer, got %v", n)
		}
		return i, nil
	case KindNumber:
		n, ok := toNumber(v)
		if !ok {
			return nil, x.violation(f.Name, ConstraintType, "expected number, got %T", v)
		}
		return n, nil
	case KindByteArray:
		b, ok := toBytes(v)
		if !ok {
			return nil, x.violation(f.Name, ConstraintType, "expected byte array, got %T", v)
		}
		return b, nil
	default:
		return nil, x.violation(f.Name, ConstraintType, "unsupported field kind %s", f.Kind)
	}
}

// ValidateProperties checks document properties against the schema:
// required declared fields must be present, unknown fields are rejected
// unless additional properties are allowed, string lengths, byte array
// lengths and enum values must fit declared constraints. Properties must be
// normalized (see [DocumentType.NormalizeProperties]). Values of system
// properties are not checked here, unknown system properties are rejected.
func (x *DocumentType) ValidateProperties(props map[string]any) error {
	for _, req := range x.required {
		if IsSystemField(req) {
			continue
		}

		if v, ok := props[req]; !ok || v == nil {
			return x.violation(req, ConstraintRequired, "missing value")
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	slices.Sort(names) // deterministic error reporting

	for _, name := range names {
		if IsSystemField(name) {
			if name != FieldPrice && !slices.Contains(knownSystemFields, name) {
				return x.violation(name, ConstraintUnknown, "unknown system field")
			}
			continue
		}

		f, ok := x.Field(name)
		if !ok {
			if x.AdditionalProperties {
				continue
			}
			return x.violation(name, ConstraintUnknown, "field is not declared")
		}

		v := props[name]
		if v == nil {
			continue
		}

		err := x.validateValue(f, v)
		if err != nil {
			return err
		}
	}

	return nil
}

func (x *DocumentType) validateValue(f Field, v any) error {
	switch f.Kind {
	case KindString, KindEnum:
		s, ok := v.(string)
		if !ok {
			return x.violation(f.Name, ConstraintType, "expected string, got %T", v)
		}

		ln := utf8.RuneCountInString(s)
		if f.MaxLength > 0 && ln > f.MaxLength {
			return x.violation(f.Name, ConstraintMaxLength, "length %d exceeds %d", ln, f.MaxLength)
		}

		if ln < f.MinLength {
			return x.violation(f.Name, ConstraintMinLength, "length %d is less than %d", ln, f.MinLength)
		}

		if f.Kind == KindEnum && !slices.Contains(f.Enum, s) {
			return x.violation(f.Name, ConstraintEnum, "%q is not one of %v", s, f.Enum)
		}
	case KindByteArray:
		b, ok := v.([]byte)
		if !ok {
			return x.violation(f.Name, ConstraintType, "expected byte array, got %T", v)
		}

		if f.MaxItems > 0 && len(b) > f.MaxItems {
			return x.violation(f.Name, ConstraintMaxItems, "length %d exceeds %d", len(b), f.MaxItems)
		}

		if len(b) < f.MinItems {
			return x.violation(f.Name, ConstraintMinItems, "length %d is less than %d", len(b), f.MinItems)
		}
	case KindInteger:
		if _, ok := v.(int64); !ok {
			return x.violation(f.Name, ConstraintType, "expected integer, got %T", v)
		}
	case KindNumber:
		switch n := v.(type) {
		case int64:
		case float64:
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return x.violation(f.Name, ConstraintType, "non-finite number %v", n)
			}
		default:
			return x.violation(f.Name, ConstraintType, "expected number, got %T", v)
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return x.violation(f.Name, ConstraintType, "expected boolean, got %T", v)
		}
	}

	return nil
}

// ValidateSystemFields checks presence of the required audit timestamps
// ($createdAt and $updatedAt) using the given presence check. Other system
// fields are set by the platform and are not checked.
func (x *DocumentType) ValidateSystemFields(present func(name string) bool) error {
	for _, req := range x.required {
		if req != FieldCreatedAt && req != FieldUpdatedAt {
			continue
		}

		if !present(req) {
			return x.violation(req, ConstraintRequired, "missing timestamp")
		}
	}

	return nil
}

// toNumber converts numeric value to int64 if it is integral and fits,
// float64 otherwise.
func toNumber(v any) (any, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return nil, false
		}
		return toNumber(f)
	case float64:
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n), true
		}
		return n, true
	case float32:
		return toNumber(float64(n))
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return float64(u), true
		}
		return int64(u), true
	default:
		return nil, false
	}
}

func toBytes(v any) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return slices.Clone(b), true
	case identifier.ID:
		return b.Bytes(), true
	case [identifier.Size]byte:
		return slices.Clone(b[:]), true
	case []any:
		res := make([]byte, len(b))
		for i := range b {
			n, ok := toNumber(b[i])
			if !ok {
				return nil, false
			}
			u, ok := n.(int64)
			if !ok || u < 0 || u > math.MaxUint8 {
				return nil, false
			}
			res[i] = byte(u)
		}
		return res, true
	case []int:
		res := make([]byte, len(b))
		for i := range b {
			if b[i] < 0 || b[i] > math.MaxUint8 {
				return nil, false
			}
			res[i] = byte(b[i])
		}
		return res, true
	default:
		return nil, false
	}
}
