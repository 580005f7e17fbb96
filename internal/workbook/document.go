// Package workbook parses and serializes spreadsheet documents and exposes
// a typed cell model over them.
package workbook

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"cellvault/internal/failure"
)

var zipSignature = []byte("PK\x03\x04")

// Document is a parsed workbook. It is not safe for concurrent mutation and
// is never retained beyond a single request.
type Document struct {
	f *excelize.File
}

// Parse decodes an xlsx byte buffer. Truncated or foreign content fails with
// KindCorruptDocument and no Document is returned.
func Parse(b []byte) (*Document, error) {
	if len(b) < len(zipSignature) || !bytes.Equal(b[:len(zipSignature)], zipSignature) {
		return nil, failure.New(failure.KindCorruptDocument, "document is not an xlsx archive")
	}
	f, err := excelize.OpenReader(bytes.NewReader(b))
	if err != nil {
		return nil, failure.Wrap(failure.KindCorruptDocument, err, "parse document")
	}
	if len(f.GetSheetList()) == 0 {
		_ = f.Close()
		return nil, failure.New(failure.KindCorruptDocument, "document has no sheets")
	}
	return &Document{f: f}, nil
}

// New returns an empty document whose only sheet is named sheet.
func New(sheet string) (*Document, error) {
	f := excelize.NewFile()
	if sheet != "" && sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return &Document{f: f}, nil
}

// Bytes serializes the document.
func (d *Document) Bytes() ([]byte, error) {
	buf, err := d.f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize document: %w", err)
	}
	return buf.Bytes(), nil
}

// Close releases temporary resources held by the parser.
func (d *Document) Close() error { return d.f.Close() }

// SheetNames returns sheet names in workbook order.
func (d *Document) SheetNames() []string { return d.f.GetSheetList() }

// AddSheet appends an empty sheet.
func (d *Document) AddSheet(name string) error {
	_, err := d.f.NewSheet(name)
	return err
}

// HasSheet reports whether name exists (exact match).
func (d *Document) HasSheet(name string) bool { return d.sheetIndex(name) >= 0 }

func (d *Document) sheetIndex(name string) int {
	for i, s := range d.f.GetSheetList() {
		if s == name {
			return i
		}
	}
	return -1
}

// Get returns the scalar at addr.
func (d *Document) Get(addr Address) (Value, error) {
	return d.cell(addr.Sheet, addr.Cell())
}

func (d *Document) cell(sheet, name string) (Value, error) {
	raw, err := d.f.GetCellValue(sheet, name, excelize.Options{RawCellValue: true})
	if err != nil {
		return Value{}, err
	}
	typ, err := d.f.GetCellType(sheet, name)
	if err != nil {
		return Value{}, err
	}
	if raw == "" {
		formula, _ := d.f.GetCellFormula(sheet, name)
		if formula == "" {
			return Value{}, nil
		}
		calc, err := d.f.CalcCellValue(sheet, name, excelize.Options{RawCellValue: true})
		if err != nil || calc == "" {
			return Value{}, nil
		}
		return CoerceString(calc), nil
	}
	switch typ {
	case excelize.CellTypeBool:
		if raw == "1" || raw == "TRUE" {
			return TextValue("TRUE"), nil
		}
		return TextValue("FALSE"), nil
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula,
		excelize.CellTypeError, excelize.CellTypeDate:
		return TextValue(raw), nil
	default:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return NumberValue(f), nil
		}
		return TextValue(raw), nil
	}
}

// Set writes v at addr, replacing any formula previously stored there. Text
// longer than MaxTextChars is refused rather than truncated.
func (d *Document) Set(addr Address, v Value) error {
	if err := v.Check(); err != nil {
		return err
	}
	name := addr.Cell()
	if formula, _ := d.f.GetCellFormula(addr.Sheet, name); formula != "" {
		if err := d.f.SetCellFormula(addr.Sheet, name, ""); err != nil {
			return err
		}
	}
	switch v.Kind {
	case Number:
		return d.f.SetCellFloat(addr.Sheet, name, v.Number, -1, 64)
	case Text:
		return d.f.SetCellStr(addr.Sheet, name, v.Text)
	default:
		return d.f.SetCellValue(addr.Sheet, name, nil)
	}
}

// Extent returns the populated row and column counts of sheet.
func (d *Document) Extent(sheet string) (rows, cols int, err error) {
	all, err := d.f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return 0, 0, err
	}
	for _, r := range all {
		if len(r) > cols {
			cols = len(r)
		}
	}
	return len(all), cols, nil
}

// Grid returns the dense rows×cols region anchored at A1. Cells beyond the
// populated extent are empty.
func (d *Document) Grid(sheet string, rows, cols int) ([][]Value, error) {
	if !d.HasSheet(sheet) {
		return nil, &failure.Error{Kind: failure.KindNotFound, Message: fmt.Sprintf("sheet %q not found", sheet), Err: ErrSheetNotFound}
	}
	maxRows, maxCols, err := d.Extent(sheet)
	if err != nil {
		return nil, err
	}
	out := make([][]Value, rows)
	for r := 0; r < rows; r++ {
		out[r] = make([]Value, cols)
		if r >= maxRows {
			continue
		}
		for c := 0; c < cols && c < maxCols; c++ {
			name, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			if out[r][c], err = d.cell(sheet, name); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Sheet returns the populated extent of sheet as a grid.
func (d *Document) Sheet(sheet string) ([][]Value, error) {
	if !d.HasSheet(sheet) {
		return nil, &failure.Error{Kind: failure.KindNotFound, Message: fmt.Sprintf("sheet %q not found", sheet), Err: ErrSheetNotFound}
	}
	rows, cols, err := d.Extent(sheet)
	if err != nil {
		return nil, err
	}
	return d.Grid(sheet, rows, cols)
}

// Snapshot captures every sheet's populated grid, keyed by sheet name. Two
// documents are equal when their snapshots are equal.
func (d *Document) Snapshot() (map[string][][]Value, error) {
	out := make(map[string][][]Value)
	for _, s := range d.SheetNames() {
		g, err := d.Sheet(s)
		if err != nil {
			return nil, err
		}
		out[s] = g
	}
	return out, nil
}
