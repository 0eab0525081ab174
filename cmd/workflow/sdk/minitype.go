package sdk

import (
	"fmt"
	"strconv"
	"strings"
)

var scalarTypes = map[string]bool{
	"str": true, "int": true, "float": true, "bool": true, "dict": true,
}

// ParseType parses a mini-type grammar descriptor: one of the five
// scalars, or "list[<scalar>]" for the five scalars. No unions, no
// nesting beyond one level of list.
func ParseType(s string) (FieldType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return FieldType{}, fmt.Errorf("empty type descriptor")
	}
	if strings.Contains(s, "|") {
		return FieldType{}, fmt.Errorf("union types are not part of the mini-type grammar: %q", s)
	}
	if strings.HasPrefix(s, "list[") {
		if !strings.HasSuffix(s, "]") {
			return FieldType{}, fmt.Errorf("unterminated list descriptor: %q", s)
		}
		elem := s[len("list[") : len(s)-1]
		if elem == "" {
			return FieldType{}, fmt.Errorf("empty list element type: %q", s)
		}
		if strings.Contains(elem, "[") || strings.Contains(elem, "]") {
			return FieldType{}, fmt.Errorf("list types may not nest: %q", s)
		}
		if !scalarTypes[elem] {
			return FieldType{}, fmt.Errorf("unknown list element type: %q", elem)
		}
		return FieldType{IsList: true, Elem: elem}, nil
	}
	if !scalarTypes[s] {
		return FieldType{}, fmt.Errorf("unknown type: %q", s)
	}
	return FieldType{Scalar: s}, nil
}

// ParseSchema parses a field-name -> type-descriptor mapping, accumulating
// every parse failure instead of stopping at the first one.
func ParseSchema(raw map[string]string) (map[string]FieldType, []error) {
	out := make(map[string]FieldType, len(raw))
	var errs []error
	for name, desc := range raw {
		ft, err := ParseType(desc)
		if err != nil {
			errs = append(errs, fmt.Errorf("field %q: %w", name, err))
			continue
		}
		out[name] = ft
	}
	return out, errs
}

// String renders a FieldType back to its mini-type grammar descriptor.
func (ft FieldType) String() string {
	if ft.IsList {
		return "list[" + ft.Elem + "]"
	}
	return ft.Scalar
}

// Coerce attempts to coerce value to ft, rejecting values that cannot be
// coerced rather than strict-matching (spec.md §9 Schema coercion).
func Coerce(ft FieldType, value interface{}) (interface{}, error) {
	if ft.IsList {
		list, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("expected list, got %T", value)
		}
		out := make([]interface{}, len(list))
		for i, item := range list {
			coerced, err := coerceScalar(ft.Elem, item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = coerced
		}
		return out, nil
	}
	return coerceScalar(ft.Scalar, value)
}

func coerceScalar(scalar string, value interface{}) (interface{}, error) {
	switch scalar {
	case "str":
		switch v := value.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to str", value)
		}
	case "int":
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != float64(int64(v)) {
				return nil, fmt.Errorf("cannot coerce non-integral float %v to int", v)
			}
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to int", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to int", value)
		}
	case "float":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to float", v)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to float", value)
		}
	case "bool":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to bool", v)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to bool", value)
		}
	case "dict":
		if m, ok := value.(map[string]interface{}); ok {
			return m, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to dict", value)
	default:
		return nil, fmt.Errorf("unknown scalar type %q", scalar)
	}
}
