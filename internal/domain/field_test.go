package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFieldTypeCoerce(t *testing.T) {
	tests := []struct {
		name      string
		fieldType FieldType
		input     any
		want      any
	}{
		{"string from bytes", FieldTypeString, []byte("abc"), "abc"},
		{"string from int", FieldTypeString, 12, "12"},
		{"integer from text", FieldTypeInteger, " 42 ", int64(42)},
		{"integer from float text", FieldTypeInteger, "42.0", int64(42)},
		{"integer from float", FieldTypeInteger, float64(42), int64(42)},
		{"float from text", FieldTypeFloat, "1.0", float64(1)},
		{"float from int", FieldTypeFloat, int64(2), float64(2)},
		{"boolean from int", FieldTypeBoolean, int64(0), false},
		{"boolean from text", FieldTypeBoolean, "true", true},
		{"json canonical", FieldTypeJSON, `{ "b": [1, 2], "a": null }`, `{"a":null,"b":[1,2]}`},
		{"integer from json number", FieldTypeInteger, json.Number("7"), int64(7)},
		{"json from json number", FieldTypeJSON, json.Number("7"), "7"},
		{"integer above float precision", FieldTypeInteger, "9007199254740993", int64(9007199254740993)},
		{"integer json number above float precision", FieldTypeInteger, json.Number("9007199254740993"), int64(9007199254740993)},
		{"negative integer at int64 limit", FieldTypeInteger, "-9223372036854775808", int64(-9223372036854775808)},
		{"nil", FieldTypeFloat, nil, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.fieldType.Coerce(tc.input)
			if err != nil {
				t.Fatalf("Coerce(%#v) error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("Coerce(%#v) = %#v, want %#v", tc.input, got, tc.want)
			}
		})
	}
}

func TestFieldTypeCoerceRejectsFractionalInteger(t *testing.T) {
	if _, err := FieldTypeInteger.Coerce("1.5"); err == nil {
		t.Fatal("expected error for fractional integer text")
	}
	if _, err := FieldTypeInteger.Coerce(1.5); err == nil {
		t.Fatal("expected error for fractional integer value")
	}
}

func TestFieldTypeCoerceRejectsRoundedInteger(t *testing.T) {
	for _, input := range []any{"9007199254740993.0", "1e19", float64(1 << 60)} {
		if got, err := FieldTypeInteger.Coerce(input); err == nil {
			t.Fatalf("Coerce(%#v) = %#v, expected error for value beyond float precision", input, got)
		}
	}
}

func TestFieldTypeCoerceTimestamp(t *testing.T) {
	got, err := FieldTypeTimestamp.Coerce("2026-02-22T16:40:00+01:00")
	if err != nil {
		t.Fatalf("coerce timestamp: %v", err)
	}
	ts, ok := got.(time.Time)
	if !ok {
		t.Fatalf("expected time.Time, got %T", got)
	}
	want := time.Date(2026, time.February, 22, 15, 40, 0, 0, time.UTC)
	if !ts.Equal(want) || ts.Location() != time.UTC {
		t.Fatalf("timestamp = %v, want %v in UTC", ts, want)
	}
}

func TestParseFieldType(t *testing.T) {
	cases := map[string]FieldType{
		"":          FieldTypeString,
		"STRING":    FieldTypeString,
		"int":       FieldTypeInteger,
		"double":    FieldTypeFloat,
		"bool":      FieldTypeBoolean,
		"datetime":  FieldTypeTimestamp,
		" json ":    FieldTypeJSON,
		"timestamp": FieldTypeTimestamp,
	}
	for input, want := range cases {
		got, err := ParseFieldType(input)
		if err != nil {
			t.Fatalf("ParseFieldType(%q) error: %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseFieldType(%q) = %q, want %q", input, got, want)
		}
	}
	if _, err := ParseFieldType("geometry"); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestRecordPersistedBaseline(t *testing.T) {
	rec := NewRecord("Page", map[string]any{"title": "first"})
	if !rec.IsNewRecord() {
		t.Fatal("new record should report IsNewRecord")
	}
	if rec.Persisted() != nil {
		t.Fatal("unsaved record should have no persisted state")
	}

	rec.MarkPersisted()
	rec.Set("title", "second")

	if rec.IsNewRecord() {
		t.Fatal("record should be stored after MarkPersisted")
	}
	if got := rec.Persisted()["title"]; got != "first" {
		t.Fatalf("persisted title = %v, want first", got)
	}

	clone := rec.Clone()
	clone.Set("title", "third")
	if rec.Get("title") != "second" {
		t.Fatalf("clone mutated source record: %v", rec.Get("title"))
	}
}
