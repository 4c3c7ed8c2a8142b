package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/versioned/internal/domain"
)

var exportFields = []domain.FieldDefinition{
	{Name: "title", Type: domain.FieldTypeString},
	{Name: "views", Type: domain.FieldTypeInteger},
}

func sampleVersions() []domain.Version {
	at := time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC)
	return []domain.Version{
		{Sequence: 1, VersionType: "LockedPage", CreatedAt: at, Fields: map[string]any{"title": "first, with comma", "views": int64(1)}},
		{Sequence: 2, VersionType: "LockedPage", CreatedAt: at.Add(time.Hour), Fields: map[string]any{"title": nil, "views": int64(2)}},
	}
}

func TestWriteHistoryCSV(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteHistory(&buf, FormatCSV, exportFields, sampleVersions())
	if err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Fatalf("reported %d bytes, wrote %d", n, buf.Len())
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if got := rows[0]; got[0] != "sequence" || got[3] != "title" || got[4] != "views" {
		t.Fatalf("header = %v", got)
	}
	if rows[1][3] != "first, with comma" || rows[1][2] != "2026-05-04T10:00:00Z" {
		t.Fatalf("row 1 = %v", rows[1])
	}
	if rows[2][0] != "2" || rows[2][3] != "" || rows[2][4] != "2" {
		t.Fatalf("row 2 = %v", rows[2])
	}
}

func TestWriteHistoryXLSX(t *testing.T) {
	var buf bytes.Buffer
	if _, err := WriteHistory(&buf, FormatXLSX, exportFields, sampleVersions()); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0][1] != "version_type" || rows[1][3] != "first, with comma" || rows[2][4] != "2" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestParseFormatAndFileName(t *testing.T) {
	if f, err := ParseFormat("XLSX"); err != nil || f != FormatXLSX {
		t.Fatalf("ParseFormat(XLSX) = %q, %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatCSV {
		t.Fatalf("ParseFormat(\"\") = %q, %v", f, err)
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Fatal("expected error for pdf")
	}

	id := uuid.MustParse("2f1c6a4e-9a7b-4c1d-8e2f-3a4b5c6d7e8f")
	if got, want := FileName("LockedPage", id, FormatCSV), "locked-page-2f1c6a4e-9a7b-4c1d-8e2f-3a4b5c6d7e8f-history.csv"; got != want {
		t.Fatalf("FileName = %q, want %q", got, want)
	}
}
