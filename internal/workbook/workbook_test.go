package workbook

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"cellvault/internal/failure"
)

func sampleBytes(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", 100))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "label"))
	require.NoError(t, f.SetCellValue("Sheet1", "C1", true))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", 2.5))
	require.NoError(t, f.SetCellFormula("Sheet1", "B2", "A1*2"))
	_, err := f.NewSheet("Totals")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Totals", "A1", "sum"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func mustResolve(t *testing.T, d *Document, sheet, ref string) Address {
	t.Helper()
	a, err := Resolve(d, sheet, ref)
	require.NoError(t, err)
	return a
}

func TestParseRejectsForeignBytes(t *testing.T) {
	for _, b := range [][]byte{nil, []byte("PK"), []byte("%PDF-1.7 not a sheet"), []byte("PK\x03\x04truncated")} {
		d, err := Parse(b)
		assert.Nil(t, d)
		assert.Equal(t, failure.KindCorruptDocument, failure.KindOf(err))
	}
}

func TestParseAndReadCells(t *testing.T) {
	d, err := Parse(sampleBytes(t))
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, []string{"Sheet1", "Totals"}, d.SheetNames())
	assert.True(t, d.HasSheet("Totals"))
	assert.False(t, d.HasSheet("totals"))

	cases := map[string]Value{
		"A1": NumberValue(100),
		"B1": TextValue("label"),
		"C1": TextValue("TRUE"),
		"A2": NumberValue(2.5),
		"B2": NumberValue(200),
		"Z9": {},
	}
	for ref, want := range cases {
		got, err := d.Get(mustResolve(t, d, "Sheet1", ref))
		require.NoError(t, err)
		assert.True(t, want.Equal(got), "%s: want %+v got %+v", ref, want, got)
	}
}

func TestRoundTripPreservesSnapshot(t *testing.T) {
	d, err := Parse(sampleBytes(t))
	require.NoError(t, err)
	defer d.Close()
	before, err := d.Snapshot()
	require.NoError(t, err)

	b, err := d.Bytes()
	require.NoError(t, err)
	again, err := Parse(b)
	require.NoError(t, err)
	defer again.Close()
	after, err := again.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSetAndCoercionSurviveSerialization(t *testing.T) {
	d, err := Parse(sampleBytes(t))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Set(mustResolve(t, d, "Sheet1", "A1"), CoerceString("")))
	require.NoError(t, d.Set(mustResolve(t, d, "Sheet1", "B1"), CoerceString("42")))
	require.NoError(t, d.Set(mustResolve(t, d, "Sheet1", "B2"), CoerceString("abc")))
	b, err := d.Bytes()
	require.NoError(t, err)

	re, err := Parse(b)
	require.NoError(t, err)
	defer re.Close()
	a1, _ := re.Get(mustResolve(t, re, "Sheet1", "A1"))
	b1, _ := re.Get(mustResolve(t, re, "Sheet1", "B1"))
	b2, _ := re.Get(mustResolve(t, re, "Sheet1", "B2"))
	assert.True(t, a1.IsEmpty())
	assert.Equal(t, NumberValue(42), b1)
	assert.Equal(t, TextValue("abc"), b2)
}

func TestGridPadsBeyondExtent(t *testing.T) {
	d, err := Parse(sampleBytes(t))
	require.NoError(t, err)
	defer d.Close()
	g, err := d.Grid("Totals", 3, 4)
	require.NoError(t, err)
	require.Len(t, g, 3)
	for _, row := range g {
		require.Len(t, row, 4)
	}
	assert.Equal(t, TextValue("sum"), g[0][0])
	assert.True(t, g[2][3].IsEmpty())

	_, err = d.Grid("Nope", 1, 1)
	assert.True(t, errors.Is(err, ErrSheetNotFound))
}

func TestNewDocument(t *testing.T) {
	d, err := New("Data")
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.AddSheet("Extra"))
	assert.Equal(t, []string{"Data", "Extra"}, d.SheetNames())
	b, err := d.Bytes()
	require.NoError(t, err)
	_, err = Parse(b)
	require.NoError(t, err)
}

func TestParseRef(t *testing.T) {
	good := map[string]CellRef{
		"A1":      {Col: 1, Row: 1},
		"z26":     {Col: 26, Row: 26},
		"AA1":     {Col: 27, Row: 1},
		"AB12":    {Col: 28, Row: 12},
		"XFD1":    {Col: 16384, Row: 1},
		"A1048576": {Col: 1, Row: 1048576},
	}
	for in, want := range good {
		got, err := ParseRef(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	assert.Equal(t, "AB12", CellRef{Col: 28, Row: 12}.String())

	for _, bad := range []string{"", "A", "1", "A0", "A-1", "1A", "A1B", "XFE1", "A1048577", "AAAA1", "$A$1"} {
		_, err := ParseRef(bad)
		require.Error(t, err, bad)
		assert.True(t, errors.Is(err, ErrInvalidCellReference), bad)
		assert.Equal(t, failure.KindValidation, failure.KindOf(err), bad)
	}
}

func TestResolveDistinguishesErrors(t *testing.T) {
	d, err := New("Sheet1")
	require.NoError(t, err)
	defer d.Close()

	_, err = Resolve(d, "Missing", "A1")
	assert.True(t, errors.Is(err, ErrSheetNotFound))
	assert.Equal(t, failure.KindNotFound, failure.KindOf(err))

	_, err = Resolve(d, "Sheet1", "0A")
	assert.True(t, errors.Is(err, ErrInvalidCellReference))

	a, err := Resolve(d, "Sheet1", "c3")
	require.NoError(t, err)
	assert.Equal(t, "C3", a.Cell())
	assert.Equal(t, 0, a.SheetIndex)
}

func TestCoerce(t *testing.T) {
	assert.True(t, Coerce(nil).IsEmpty())
	assert.True(t, Coerce("").IsEmpty())
	assert.Equal(t, NumberValue(42), Coerce("42"))
	assert.Equal(t, NumberValue(-1.5), Coerce("-1.5"))
	assert.Equal(t, TextValue("abc"), Coerce("abc"))
	assert.Equal(t, TextValue("NaN"), Coerce("NaN"))
	assert.Equal(t, TextValue("Inf"), Coerce("Inf"))
	assert.Equal(t, NumberValue(7), Coerce(7))
	assert.Equal(t, NumberValue(3.25), Coerce(3.25))
	assert.Equal(t, NumberValue(10), Coerce(json.Number("10")))
	assert.Equal(t, TextValue("true"), Coerce(true))
	assert.Equal(t, TextValue(`{"a":1}`), Coerce(map[string]any{"a": 1}))
	assert.Equal(t, TextValue(`[1,"x"]`), Coerce([]any{1, "x"}))
	assert.Equal(t, TextValue("+Inf"), Coerce(math.Inf(1)))
}

func TestValueJSONAndString(t *testing.T) {
	b, err := json.Marshal([]Value{NumberValue(150), TextValue("x"), {}})
	require.NoError(t, err)
	assert.JSONEq(t, `[150,"x",null]`, string(b))

	var vs []Value
	require.NoError(t, json.Unmarshal([]byte(`["150", 3, null, "", {"k":"v"}]`), &vs))
	assert.Equal(t, []Value{NumberValue(150), NumberValue(3), {}, {}, TextValue(`{"k":"v"}`)}, vs)

	assert.Equal(t, "100", NumberValue(100).String())
	assert.Equal(t, "0.1", NumberValue(0.1).String())
	assert.Equal(t, "", Value{}.String())
	assert.Equal(t, "number", Number.String())
	assert.Equal(t, "text", Text.String())
	assert.Equal(t, "empty", Empty.String())
	assert.False(t, NumberValue(1).Equal(TextValue("1")))
}

func TestSetRefusesTextBeyondCellCapacity(t *testing.T) {
	d, err := New("Sheet1")
	require.NoError(t, err)
	defer d.Close()
	a1, err := Resolve(d, "Sheet1", "A1")
	require.NoError(t, err)

	full := TextValue(strings.Repeat("é", MaxTextChars))
	require.NoError(t, full.Check())
	require.NoError(t, d.Set(a1, full))

	over := TextValue(strings.Repeat("x", MaxTextChars+1))
	assert.ErrorIs(t, over.Check(), ErrTextTooLong)
	assert.ErrorIs(t, d.Set(a1, over), ErrTextTooLong)
	got, err := d.Get(a1)
	require.NoError(t, err)
	assert.Equal(t, full, got)
}
