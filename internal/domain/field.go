package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// FieldType represents the declared storage type of a versioned field
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeJSON      FieldType = "json"
)

// FieldDefinition names a tracked column and its declared type
type FieldDefinition struct {
	Name string    `json:"name" mapstructure:"name"`
	Type FieldType `json:"type" mapstructure:"type"`
}

// Valid reports whether the field type is one of the supported kinds.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeString, FieldTypeInteger, FieldTypeFloat, FieldTypeBoolean, FieldTypeTimestamp, FieldTypeJSON:
		return true
	}
	return false
}

// ParseFieldType normalises a configured type name. Empty input maps to string.
func ParseFieldType(value string) (FieldType, error) {
	normalized := FieldType(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case "":
		return FieldTypeString, nil
	case "int", "bigint":
		return FieldTypeInteger, nil
	case "double", "numeric", "decimal":
		return FieldTypeFloat, nil
	case "bool":
		return FieldTypeBoolean, nil
	case "datetime", "time":
		return FieldTypeTimestamp, nil
	}
	if !normalized.Valid() {
		return "", fmt.Errorf("unsupported field type %q", value)
	}
	return normalized, nil
}

// Coerce converts a value into the canonical Go representation for the field type:
// string, int64, float64, bool, UTC time.Time, or compact JSON text. nil stays nil.
func (t FieldType) Coerce(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if n, ok := value.(json.Number); ok && t != FieldTypeJSON {
		value = n.String()
	}
	switch t {
	case FieldTypeString, "":
		if b, ok := value.([]byte); ok {
			return string(b), nil
		}
		return cast.ToStringE(value)
	case FieldTypeInteger:
		if s, ok := value.(string); ok {
			s = strings.TrimSpace(s)
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, nil
			}
			// "3.0" is a valid rendering of an integer value
			f, err := cast.ToFloat64E(s)
			if err != nil {
				return nil, err
			}
			return floatToInteger(f)
		}
		if f, ok := value.(float64); ok {
			return floatToInteger(f)
		}
		return cast.ToInt64E(value)
	case FieldTypeFloat:
		if s, ok := value.(string); ok {
			return cast.ToFloat64E(strings.TrimSpace(s))
		}
		return cast.ToFloat64E(value)
	case FieldTypeBoolean:
		return cast.ToBoolE(value)
	case FieldTypeTimestamp:
		ts, err := cast.ToTimeE(value)
		if err != nil {
			return nil, err
		}
		return ts.UTC(), nil
	case FieldTypeJSON:
		return canonicalJSON(value)
	}
	return nil, fmt.Errorf("unsupported field type %q", t)
}

// maxExactFloatInteger bounds the integers a float64 holds without rounding.
const maxExactFloatInteger = 1 << 53

func floatToInteger(f float64) (int64, error) {
	if f >= maxExactFloatInteger || f <= -maxExactFloatInteger {
		return 0, fmt.Errorf("value %v cannot be represented exactly as an integer", f)
	}
	if f != float64(int64(f)) {
		return 0, fmt.Errorf("value %v is not an integer", f)
	}
	return int64(f), nil
}

func canonicalJSON(value any) (string, error) {
	var raw []byte
	switch typed := value.(type) {
	case string:
		raw = []byte(typed)
	case []byte:
		raw = typed
	case json.RawMessage:
		raw = typed
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return "", fmt.Errorf("failed to encode json value: %w", err)
		}
		raw = encoded
	}

	var decoded any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &decoded); err != nil {
		return "", fmt.Errorf("invalid json value: %w", err)
	}
	// Marshal sorts map keys, which makes the text comparable.
	encoded, err := json.Marshal(decoded)
	if err != nil {
		return "", fmt.Errorf("failed to encode json value: %w", err)
	}
	return string(encoded), nil
}

// FieldNames returns the names of the definitions in declaration order.
func FieldNames(fields []FieldDefinition) []string {
	names := make([]string, len(fields))
	for i, field := range fields {
		names[i] = field.Name
	}
	return names
}

// LookupField finds a definition by name.
func LookupField(fields []FieldDefinition, name string) (FieldDefinition, bool) {
	for _, field := range fields {
		if field.Name == name {
			return field, true
		}
	}
	return FieldDefinition{}, false
}

// FormatValue renders a canonical value for tabular output.
func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	case float64:
		return cast.ToString(typed)
	default:
		return fmt.Sprint(typed)
	}
}
