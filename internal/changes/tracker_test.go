package changes

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/rpattn/versioned/internal/domain"
)

var landmarkFields = []domain.FieldDefinition{
	{Name: "name", Type: domain.FieldTypeString},
	{Name: "latitude", Type: domain.FieldTypeFloat},
	{Name: "longitude", Type: domain.FieldTypeFloat},
	{Name: "doesnt_trigger_version", Type: domain.FieldTypeString},
}

func washington() map[string]any {
	return map[string]any{
		"name":                   "Washington, D.C.",
		"latitude":               38.895,
		"longitude":              -77.036667,
		"doesnt_trigger_version": "This is not important",
	}
}

func TestChangedFieldsUnaltered(t *testing.T) {
	tracker := NewTracker(landmarkFields)
	if changed := tracker.ChangedFields(washington(), washington()); len(changed) != 0 {
		t.Fatalf("expected no changes, got %v", changed)
	}
}

func TestChangedFieldsStringifiedValuesAreUnchanged(t *testing.T) {
	tracker := NewTracker(landmarkFields)
	after := map[string]any{}
	for key, value := range washington() {
		after[key] = domain.FormatValue(value)
	}
	if tracker.IsChanged(washington(), after) {
		t.Fatalf("stringified values reported as changed: %v", tracker.ChangedFields(washington(), after))
	}
}

func TestChangedFieldsNumericRepresentation(t *testing.T) {
	tracker := NewTracker([]domain.FieldDefinition{
		{Name: "score", Type: domain.FieldTypeFloat},
		{Name: "count", Type: domain.FieldTypeInteger},
	})
	before := map[string]any{"score": 1.0, "count": int64(3)}
	after := map[string]any{"score": "1.0", "count": "3"}
	if changed := tracker.ChangedFields(before, after); len(changed) != 0 {
		t.Fatalf("expected numeric forms to compare equal, got %v", changed)
	}

	after["score"] = "1.5"
	changed := tracker.ChangedFields(before, after)
	if !reflect.DeepEqual(changed, []string{"score"}) {
		t.Fatalf("changed = %v, want [score]", changed)
	}
}

func TestChangedFieldsLargeIntegers(t *testing.T) {
	tracker := NewTracker([]domain.FieldDefinition{{Name: "n", Type: domain.FieldTypeInteger}})
	before := map[string]any{"n": int64(9007199254740992)}

	changed := tracker.ChangedFields(before, map[string]any{"n": json.Number("9007199254740993")})
	if !reflect.DeepEqual(changed, []string{"n"}) {
		t.Fatalf("changed = %v, want [n]", changed)
	}
	if tracker.IsChanged(before, map[string]any{"n": "9007199254740992"}) {
		t.Fatal("same large integer in text form reported as changed")
	}
}

func TestChangedFieldsDeclarationOrder(t *testing.T) {
	tracker := NewTracker(landmarkFields)
	after := washington()
	after["doesnt_trigger_version"] = "changed"
	after["name"] = "Washington"
	after["longitude"] = 1.0

	changed := tracker.ChangedFields(washington(), after)
	want := []string{"name", "longitude", "doesnt_trigger_version"}
	if !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
}

func TestChangedFieldsAmbiguousInput(t *testing.T) {
	tracker := NewTracker(landmarkFields)
	if changed := tracker.ChangedFields(nil, washington()); changed != nil {
		t.Fatalf("expected nil for absent before state, got %v", changed)
	}
	if tracker.IsChanged(washington(), nil) {
		t.Fatal("absent after state must not report a change")
	}
}

func TestEqual(t *testing.T) {
	instant := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		fieldType domain.FieldType
		a, b      any
		want      bool
	}{
		{"nil both", domain.FieldTypeString, nil, nil, true},
		{"nil one side", domain.FieldTypeString, nil, "", false},
		{"bool from int", domain.FieldTypeBoolean, true, int64(1), true},
		{"bool differs", domain.FieldTypeBoolean, true, "false", false},
		{"timestamp text", domain.FieldTypeTimestamp, instant, "2026-03-01T12:00:00Z", true},
		{"timestamp zone", domain.FieldTypeTimestamp, instant, instant.In(time.FixedZone("X", 3600)), true},
		{"json key order", domain.FieldTypeJSON, `{"a":1,"b":2}`, map[string]any{"b": 2, "a": 1}, true},
		{"json differs", domain.FieldTypeJSON, `{"a":1}`, `{"a":2}`, false},
		{"integer float text", domain.FieldTypeInteger, int64(7), "7.0", true},
		{"uncoercible raw equal", domain.FieldTypeInteger, "seven", "seven", true},
		{"uncoercible raw differ", domain.FieldTypeInteger, "seven", int64(7), false},
		{"string case sensitive", domain.FieldTypeString, "Title", "title", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Equal(tc.fieldType, tc.a, tc.b); got != tc.want {
				t.Fatalf("Equal(%v, %#v, %#v) = %v, want %v", tc.fieldType, tc.a, tc.b, got, tc.want)
			}
		})
	}
}
