package core

// csvio.go reads supplier catalog files and renders failed-row reports.
//
// Catalog files are ';' separated and ISO-8859-1 encoded. The reader decodes
// to UTF-8 on the fly; the CSV report writer encodes back to ISO-8859-1 with
// minimal quoting so a rejected row comes out byte for byte as it went in.

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Separator is the catalog file column separator.
const Separator = ';'

// CatalogReader streams data rows from a catalog file.
type CatalogReader struct {
	csv     *csv.Reader
	counter *CountingReader
	header  []string
	index   HeaderIndex
}

// NewCatalogReader reads the header record and prepares row streaming.
// Returns ErrEmptyFile when there is no header and ErrHeaderNotFound when the
// header names none of the importable columns.
func NewCatalogReader(r io.Reader) (*CatalogReader, error) {
	counter := NewCountingReader(r)
	decoded := transform.NewReader(NewBOMSkippingReader(counter), charmap.ISO8859_1.NewDecoder())

	cr := csv.NewReader(bufio.NewReader(decoded))
	cr.Comma = Separator
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := MakeHeaderIndex(header)
	found := false
	for col := range index {
		if IsImportable(col) {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrHeaderNotFound
	}

	return &CatalogReader{csv: cr, counter: counter, header: header, index: index}, nil
}

// Header returns the header record as read from the file.
func (r *CatalogReader) Header() []string { return r.header }

// BytesRead returns the number of raw file bytes consumed so far.
func (r *CatalogReader) BytesRead() int64 { return r.counter.BytesRead() }

// Next returns the next data row. Lines whose fields are all blank are
// skipped. Returns io.EOF after the last row.
func (r *CatalogReader) Next() (RawRow, error) {
	for {
		record, err := r.csv.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return RawRow{}, io.EOF
			}
			return RawRow{}, fmt.Errorf("read row: %w", err)
		}
		if isEmptyRecord(record) {
			continue
		}
		line, _ := r.csv.FieldPos(0)
		return NewRawRow(line, record, r.index), nil
	}
}

func isEmptyRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// FailedReportName names the failed-row report of a catalog file:
// "<name without extension> - failed<ext>".
func FailedReportName(fileName, ext string) string {
	base := filepath.Base(strings.ReplaceAll(fileName, `\`, "/"))
	if base == "." || base == "/" {
		base = "catalog"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + " - failed" + ext
}

// WriteFailedCSV writes header and the original fields of every failed row
// in the catalog file dialect (';' separated, ISO-8859-1, '\n' line ends).
// Characters that ISO-8859-1 cannot represent are replaced.
func WriteFailedCSV(w io.Writer, header []string, failures []RowFailure) error {
	enc := encoding.ReplaceUnsupported(charmap.ISO8859_1.NewEncoder())
	tw := transform.NewWriter(w, enc)
	bw := bufio.NewWriter(tw)

	if err := writeRecord(bw, header); err != nil {
		return err
	}
	for _, f := range failures {
		if err := writeRecord(bw, f.Row); err != nil {
			return err
		}
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

func writeRecord(w *bufio.Writer, record []string) error {
	for i, field := range record {
		if i > 0 {
			if err := w.WriteByte(Separator); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(quoteField(field)); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

// quoteField quotes a field only when reading it back would otherwise split
// or alter it.
func quoteField(field string) string {
	if !strings.ContainsAny(field, ";\r\n") && !strings.HasPrefix(field, `"`) {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

// Failed-row workbook layout.
const (
	failedSheet = "Failed rows"
	infoWidth   = 14
	errorWidth  = 60
)

// WriteFailedXLSX writes failed rows as an Excel workbook: the original
// columns followed by line number, error kind and error message.
func WriteFailedXLSX(w io.Writer, header []string, failures []RowFailure) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", failedSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	errorStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C65911"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create error style: %w", err)
	}

	cols := len(header)
	titles := append(append([]string{}, header...), "Line", "Error kind", "Error")
	for i, title := range titles {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(failedSheet, cell, title); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		style := headerStyle
		if i >= cols {
			style = errorStyle
		}
		if err := f.SetCellStyle(failedSheet, cell, cell, style); err != nil {
			return fmt.Errorf("style header: %w", err)
		}
	}

	first, _ := excelize.ColumnNumberToName(cols + 1)
	kind, _ := excelize.ColumnNumberToName(cols + 2)
	msg, _ := excelize.ColumnNumberToName(cols + 3)
	_ = f.SetColWidth(failedSheet, first, kind, infoWidth)
	_ = f.SetColWidth(failedSheet, msg, msg, errorWidth)

	for r, failure := range failures {
		row := make([]any, 0, cols+3)
		for i := 0; i < cols; i++ {
			v := ""
			if i < len(failure.Row) {
				v = failure.Row[i]
			}
			row = append(row, v)
		}
		row = append(row, failure.Line, string(failure.Kind), failure.Message)

		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(failedSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", failure.Line, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
