package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions. These ensure the JSONB types implement
// both sql.Scanner and driver.Valuer, catching signature drift at compile
// time. Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*AnswerMap)(nil)
	_ driver.Valuer = AnswerMap(nil)
	_ sql.Scanner   = (*TemplateSchema)(nil)
	_ driver.Valuer = TemplateSchema{}
)

// scanJSONB scans a JSONB database value into a Go pointer. It handles nil
// values, []byte, and string representations from different drivers.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// valueJSONB converts a Go value to a JSONB-compatible driver.Value.
func valueJSONB(v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// AnswerMap holds questionnaire answers keyed by question key. Boolean
// questions carry bool values; text questions carry string values.
type AnswerMap map[string]any

// Scan implements sql.Scanner for the answers JSONB column.
func (m *AnswerMap) Scan(value any) error { return scanJSONB(m, value) }

// Value implements driver.Valuer for the answers JSONB column.
func (m AnswerMap) Value() (driver.Value, error) { return valueJSONB(m) }

// Bool returns the boolean answer for key, treating a missing or
// non-boolean value as false (an unanswered boolean question is a miss).
func (m AnswerMap) Bool(key string) bool {
	v, ok := m[key].(bool)
	return ok && v
}

// Text returns the free-text answer for key, or "" when absent.
func (m AnswerMap) Text(key string) string {
	v, _ := m[key].(string)
	return v
}

// TemplateSchema is the JSON-encoded question list of a check-in template.
type TemplateSchema struct {
	Fields []TemplateField `json:"fields"`
}

// Scan implements sql.Scanner for the schema JSONB column.
func (s *TemplateSchema) Scan(value any) error { return scanJSONB(s, value) }

// Value implements driver.Valuer for the schema JSONB column.
func (s TemplateSchema) Value() (driver.Value, error) { return valueJSONB(s) }

// BooleanFields returns the boolean-typed fields in schema order.
func (s TemplateSchema) BooleanFields() []TemplateField {
	var out []TemplateField
	for _, f := range s.Fields {
		if f.Type == FieldBoolean {
			out = append(out, f)
		}
	}
	return out
}

// TextFields returns the text-typed fields in schema order.
func (s TemplateSchema) TextFields() []TemplateField {
	var out []TemplateField
	for _, f := range s.Fields {
		if f.Type == FieldText {
			out = append(out, f)
		}
	}
	return out
}
