package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellvault/internal/failure"
	"cellvault/internal/workbook"
)

var grid = [][]workbook.Value{
	{workbook.TextValue("name"), workbook.TextValue("qty")},
	{workbook.TextValue("bolts, m4"), workbook.NumberValue(12.5)},
	{workbook.TextValue("<nuts>"), {}},
}

func TestRenderCSV(t *testing.T) {
	a, err := Render(FormatCSV, "Stock", grid)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", a.ContentType)
	assert.Equal(t, "Stock.csv", a.Filename)
	assert.Equal(t, 3, a.Rows)
	assert.Equal(t, "name,qty\n\"bolts, m4\",12.5\n<nuts>,\n", string(a.Payload))
}

func TestRenderText(t *testing.T) {
	a, err := Render("TXT", "Stock", grid)
	require.NoError(t, err)
	assert.Equal(t, "Stock.txt", a.Filename)
	assert.Equal(t, "name | qty\nbolts, m4 | 12.5\n<nuts> | \n", string(a.Payload))
}

func TestRenderHTMLEscapes(t *testing.T) {
	a, err := Render(FormatHTML, "A&B", grid)
	require.NoError(t, err)
	body := string(a.Payload)
	assert.Contains(t, body, "<title>A&amp;B</title>")
	assert.Contains(t, body, "<td>&lt;nuts&gt;</td><td></td>")
	assert.Contains(t, body, "<td>12.5</td>")
}

func TestRenderUnknownFormat(t *testing.T) {
	_, err := Render("pdf", "Stock", grid)
	assert.Equal(t, failure.KindValidation, failure.KindOf(err))
	assert.Len(t, Formats(), 3)
}
