package util

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ValidationError describes the first field of a payload that failed validation.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Property is the schema of a single payload field.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Schema is the minimal JSON-schema subset used to check untyped payloads.
type Schema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// SchemaFor derives a Schema from a struct using its json and description
// tags. Fields without omitempty that are not pointers are required.
func SchemaFor(v any) Schema {
	s := Schema{Properties: map[string]Property{}}

	t := reflect.TypeOf(v)
	if t == nil {
		return s
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return s
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name := field.Name
		if n, _, _ := strings.Cut(tag, ","); n != "" {
			name = n
		}
		s.Properties[name] = Property{Type: jsonType(field.Type), Description: field.Tag.Get("description")}
		if !hasOmitEmpty(tag) && field.Type.Kind() != reflect.Ptr {
			s.Required = append(s.Required, name)
		}
	}
	return s
}

// Validate checks params against the schema: required fields must be present
// and non-blank, known fields must match their declared type. Unknown fields
// are allowed.
func (s Schema) Validate(params map[string]any) error {
	for _, name := range s.Required {
		v, ok := params[name]
		if !ok || v == nil {
			return &ValidationError{Field: name, Message: "required field is missing"}
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			return &ValidationError{Field: name, Value: v, Message: "required field is empty"}
		}
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		prop, ok := s.Properties[name]
		if !ok {
			continue
		}
		if v := params[name]; !isValidType(v, prop.Type) {
			return &ValidationError{Field: name, Value: v, Message: fmt.Sprintf("expected type %s, got %T", prop.Type, v)}
		}
	}
	return nil
}

func jsonType(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return jsonType(t.Elem())
	default:
		return "string"
	}
}

func hasOmitEmpty(tag string) bool {
	parts := strings.Split(tag, ",")
	for _, part := range parts[1:] {
		if strings.TrimSpace(part) == "omitempty" {
			return true
		}
	}
	return false
}

func isValidType(value any, expected string) bool {
	if value == nil {
		return true
	}

	switch expected {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64: // decoded JSON numbers
			return v == float64(int64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
			float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		rv := reflect.ValueOf(value)
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	case "object":
		return reflect.ValueOf(value).Kind() == reflect.Map
	default:
		return true
	}
}
