// Package export renders a record's version history as CSV or XLSX.
package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/versioned/internal/domain"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const sheetName = "History"

// ParseFormat resolves a format name; empty selects CSV.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", value)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// FileName builds a download name such as locked-page-<id>-history.csv.
func FileName(entity string, id uuid.UUID, format Format) string {
	return fmt.Sprintf("%s-%s-history.%s", sanitizeFileComponent(entity), id, format)
}

// Headers lists the exported columns: bookkeeping first, then tracked fields.
func Headers(fields []domain.FieldDefinition) []string {
	headers := []string{"sequence", "version_type", "created_at"}
	return append(headers, domain.FieldNames(fields)...)
}

// WriteHistory writes versions in the given format and returns the bytes written.
func WriteHistory(w io.Writer, format Format, fields []domain.FieldDefinition, versions []domain.Version) (int64, error) {
	buffered := bufio.NewWriter(w)
	counter := &countingWriter{writer: buffered}

	var err error
	switch format {
	case FormatCSV:
		err = writeCSV(counter, fields, versions)
	case FormatXLSX:
		err = writeXLSX(counter, fields, versions)
	default:
		err = fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return counter.count, err
	}
	if err := buffered.Flush(); err != nil {
		return counter.count, fmt.Errorf("flush export: %w", err)
	}
	return counter.count, nil
}

func writeCSV(w io.Writer, fields []domain.FieldDefinition, versions []domain.Version) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(Headers(fields)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	row := make([]string, 3+len(fields))
	for _, v := range versions {
		row[0] = fmt.Sprint(v.Sequence)
		row[1] = v.VersionType
		row[2] = domain.FormatValue(v.CreatedAt)
		for i, field := range fields {
			row[3+i] = domain.FormatValue(v.Get(field.Name))
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("write version %d: %w", v.Sequence, err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeXLSX(w io.Writer, fields []domain.FieldDefinition, versions []domain.Version) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("open sheet writer: %w", err)
	}

	headers := Headers(fields)
	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, v := range versions {
		row := make([]interface{}, 0, len(headers))
		row = append(row, v.Sequence, v.VersionType, domain.FormatValue(v.CreatedAt))
		for _, field := range fields {
			row = append(row, cellValue(v.Get(field.Name)))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write version %d: %w", v.Sequence, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// cellValue keeps numbers and booleans native so spreadsheets can compute on them.
func cellValue(value any) interface{} {
	switch value.(type) {
	case int64, float64, bool:
		return value
	default:
		return domain.FormatValue(value)
	}
}

func sanitizeFileComponent(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "export"
	}
	builder := strings.Builder{}
	for i, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				builder.WriteRune('-')
			}
			builder.WriteRune(r + ('a' - 'A'))
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}

type countingWriter struct {
	writer io.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}
