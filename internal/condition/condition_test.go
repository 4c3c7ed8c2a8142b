package condition

import (
	"testing"

	"github.com/rpattn/versioned/internal/domain"
)

var landmarkFields = []domain.FieldDefinition{
	{Name: "name", Type: domain.FieldTypeString},
	{Name: "latitude", Type: domain.FieldTypeFloat},
	{Name: "longitude", Type: domain.FieldTypeFloat},
}

func landmark(name string, latitude float64) domain.Record {
	rec := domain.NewRecord("Landmark", map[string]any{"name": name, "latitude": latitude, "longitude": 2.0})
	rec.Version = 3
	return rec
}

func TestCompileExpr(t *testing.T) {
	pred, err := Compile(EngineExpr, `name != "draft" && latitude > 1.5`, landmarkFields)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !pred(landmark("Washington", 2.5)) {
		t.Fatal("expected predicate to hold")
	}
	if pred(landmark("draft", 2.5)) {
		t.Fatal("expected predicate to fail for draft")
	}
	if pred(landmark("Washington", 1.0)) {
		t.Fatal("expected predicate to fail for low latitude")
	}
}

func TestCompileExprSeesRecordKindAndVersion(t *testing.T) {
	pred, err := Compile(EngineExpr, `kind == "Landmark" && version == 3 && record["name"] == "Washington"`, landmarkFields)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !pred(landmark("Washington", 0)) {
		t.Fatal("expected predicate to hold")
	}
}

func TestCompileCEL(t *testing.T) {
	pred, err := Compile(EngineCEL, `name != "draft" && kind == "Landmark" && version == 3`, landmarkFields)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !pred(landmark("Washington", 0)) {
		t.Fatal("expected predicate to hold")
	}
	if pred(landmark("draft", 0)) {
		t.Fatal("expected predicate to fail for draft")
	}
}

func TestCompileJS(t *testing.T) {
	pred, err := Compile(EngineJS, `name !== "draft" && latitude > 1.5 && kind === "Landmark" && version === 3`, landmarkFields)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !pred(landmark("Washington", 2.5)) {
		t.Fatal("expected predicate to hold")
	}
	if pred(landmark("draft", 2.5)) {
		t.Fatal("expected predicate to fail for draft")
	}

	throws, err := Compile(EngineJS, `undefinedThing.field`, landmarkFields)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if throws(landmark("Washington", 2.5)) {
		t.Fatal("runtime error should not capture")
	}
}

func TestNonBooleanResultIsFalse(t *testing.T) {
	pred, err := Compile(EngineExpr, `name`, landmarkFields)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if pred(landmark("Washington", 0)) {
		t.Fatal("non-boolean result should not capture")
	}
}

func TestCompileRejectsBadInput(t *testing.T) {
	if _, err := Compile(EngineExpr, "  ", landmarkFields); err == nil {
		t.Fatal("expected error for empty expression")
	}
	if _, err := Compile(EngineCEL, `name ==`, landmarkFields); err == nil {
		t.Fatal("expected error for malformed expression")
	}
	if _, err := Compile(Engine("lua"), `true`, landmarkFields); err == nil {
		t.Fatal("expected error for unknown engine")
	}
}

func TestParseEngine(t *testing.T) {
	if got, err := ParseEngine(""); err != nil || got != EngineExpr {
		t.Fatalf("ParseEngine(\"\") = %q, %v", got, err)
	}
	if got, err := ParseEngine(" CEL "); err != nil || got != EngineCEL {
		t.Fatalf("ParseEngine(CEL) = %q, %v", got, err)
	}
	if got, err := ParseEngine("javascript"); err != nil || got != EngineJS {
		t.Fatalf("ParseEngine(javascript) = %q, %v", got, err)
	}
	if _, err := ParseEngine("lua"); err == nil {
		t.Fatal("expected error for lua")
	}
}
