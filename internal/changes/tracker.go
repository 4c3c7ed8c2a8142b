// Package changes detects which tracked fields differ between two states of a record.
package changes

import (
	"fmt"
	"reflect"
	"time"

	"github.com/rpattn/versioned/internal/domain"
)

// Tracker compares field values after normalising them to their declared types, so a
// float 1.0 and the text "1.0" are equal for a float column.
type Tracker struct {
	fields []domain.FieldDefinition
}

// NewTracker creates a tracker over the given field definitions.
func NewTracker(fields []domain.FieldDefinition) *Tracker {
	defs := make([]domain.FieldDefinition, len(fields))
	copy(defs, fields)
	return &Tracker{fields: defs}
}

// Fields returns the tracked definitions.
func (t *Tracker) Fields() []domain.FieldDefinition {
	defs := make([]domain.FieldDefinition, len(t.fields))
	copy(defs, t.fields)
	return defs
}

// ChangedFields lists the tracked fields whose values differ, in declaration order.
// A nil before or after state is ambiguous and yields no changes.
func (t *Tracker) ChangedFields(before, after map[string]any) []string {
	if before == nil || after == nil {
		return nil
	}
	var changed []string
	for _, field := range t.fields {
		if !Equal(field.Type, before[field.Name], after[field.Name]) {
			changed = append(changed, field.Name)
		}
	}
	return changed
}

// IsChanged reports whether any tracked field differs.
func (t *Tracker) IsChanged(before, after map[string]any) bool {
	return len(t.ChangedFields(before, after)) > 0
}

// Equal compares two values of the given declared type. Values that cannot be
// coerced fall back to a comparison of their raw form.
func Equal(fieldType domain.FieldType, a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	left, errA := fieldType.Coerce(a)
	right, errB := fieldType.Coerce(b)
	if errA != nil || errB != nil {
		if reflect.DeepEqual(a, b) {
			return true
		}
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	if lt, ok := left.(time.Time); ok {
		rt, ok := right.(time.Time)
		return ok && lt.Equal(rt)
	}
	return reflect.DeepEqual(left, right)
}
