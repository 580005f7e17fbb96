package workbook

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"cellvault/internal/failure"
)

var (
	// ErrSheetNotFound is wrapped by Resolve when the sheet name is unknown.
	ErrSheetNotFound = errors.New("sheet not found")
	// ErrInvalidCellReference is wrapped by ParseRef for malformed references.
	ErrInvalidCellReference = errors.New("invalid cell reference")
)

var refPattern = regexp.MustCompile(`^([A-Za-z]{1,3})([0-9]+)$`)

// CellRef is a 1-based (column, row) coordinate.
type CellRef struct {
	Col int
	Row int
}

// String returns the canonical A1 form.
func (r CellRef) String() string {
	name, err := excelize.CoordinatesToCellName(r.Col, r.Row)
	if err != nil {
		return fmt.Sprintf("R%dC%d", r.Row, r.Col)
	}
	return name
}

// ParseRef parses column-letter plus 1-based row notation ("A1", "ab12").
// Columns map base-26 with no zero digit: A=1, Z=26, AA=27.
func ParseRef(ref string) (CellRef, error) {
	m := refPattern.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return CellRef{}, invalidRef(ref, "expected column letters followed by a row number")
	}
	col := 0
	for _, c := range strings.ToUpper(m[1]) {
		col = col*26 + int(c-'A'+1)
	}
	if col > excelize.MaxColumns {
		return CellRef{}, invalidRef(ref, "column out of range")
	}
	row, err := strconv.Atoi(m[2])
	if err != nil || row <= 0 || row > excelize.TotalRows {
		return CellRef{}, invalidRef(ref, "row out of range")
	}
	return CellRef{Col: col, Row: row}, nil
}

func invalidRef(ref, reason string) error {
	return &failure.Error{Kind: failure.KindValidation, Message: fmt.Sprintf("invalid cell reference %q: %s", ref, reason), Err: ErrInvalidCellReference}
}

// Address is a resolved cell location.
type Address struct {
	Sheet      string
	SheetIndex int
	Ref        CellRef
}

// Cell returns the canonical cell name.
func (a Address) Cell() string { return a.Ref.String() }

// Resolve validates the sheet and reference against d. Reference errors are
// reported before sheet errors are considered so callers see the input problem first.
func Resolve(d *Document, sheet, ref string) (Address, error) {
	cr, err := ParseRef(ref)
	if err != nil {
		return Address{}, err
	}
	idx := d.sheetIndex(sheet)
	if idx < 0 {
		return Address{}, &failure.Error{Kind: failure.KindNotFound, Message: fmt.Sprintf("sheet %q not found", sheet), Err: ErrSheetNotFound}
	}
	return Address{Sheet: sheet, SheetIndex: idx, Ref: cr}, nil
}
