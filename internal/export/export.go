// Package export renders a sheet's populated cells as CSV, a plain-text table
// or an HTML table.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html"
	"strings"

	"cellvault/internal/failure"
	"cellvault/internal/workbook"
)

// Format identifies an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatText Format = "txt"
	FormatHTML Format = "html"
)

// Renderer turns a sheet grid into bytes.
type Renderer interface {
	ContentType() string
	Extension() string
	Render(title string, rows [][]workbook.Value) ([]byte, error)
}

// Artifact is a rendered export ready to be served.
type Artifact struct {
	Format      Format
	ContentType string
	Filename    string
	Rows        int
	Payload     []byte
}

var renderers = map[Format]Renderer{
	FormatCSV:  Delimited{},
	FormatText: TextTable{Separator: " | "},
	FormatHTML: HTMLTable{},
}

// Formats lists the supported encodings.
func Formats() []Format { return []Format{FormatCSV, FormatText, FormatHTML} }

// Render encodes rows for sheet in the requested format.
func Render(format Format, sheet string, rows [][]workbook.Value) (Artifact, error) {
	format = Format(strings.ToLower(string(format)))
	r, ok := renderers[format]
	if !ok {
		return Artifact{}, failure.New(failure.KindValidation, "unsupported export format %q", format)
	}
	payload, err := r.Render(sheet, rows)
	if err != nil {
		return Artifact{}, failure.Wrap(failure.KindInternal, err, "render %s export of %s", format, sheet)
	}
	return Artifact{
		Format:      format,
		ContentType: r.ContentType(),
		Filename:    fmt.Sprintf("%s.%s", sheet, r.Extension()),
		Rows:        len(rows),
		Payload:     payload,
	}, nil
}

// Delimited writes RFC 4180 CSV, one record per sheet row.
type Delimited struct{}

func (Delimited) ContentType() string { return "text/csv" }
func (Delimited) Extension() string   { return "csv" }

func (Delimited) Render(_ string, rows [][]workbook.Value) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	for _, row := range rows {
		if err := w.Write(cells(row)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TextTable joins each row's cells with Separator.
type TextTable struct {
	Separator string
}

func (TextTable) ContentType() string { return "text/plain; charset=utf-8" }
func (TextTable) Extension() string   { return "txt" }

func (t TextTable) Render(_ string, rows [][]workbook.Value) ([]byte, error) {
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(strings.Join(cells(row), t.Separator))
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// HTMLTable renders a standalone HTML page with one table.
type HTMLTable struct{}

func (HTMLTable) ContentType() string { return "text/html; charset=utf-8" }
func (HTMLTable) Extension() string   { return "html" }

func (HTMLTable) Render(title string, rows [][]workbook.Value) ([]byte, error) {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title></head><body><table><tbody>")
	for _, row := range rows {
		b.WriteString("<tr>")
		for _, c := range cells(row) {
			b.WriteString("<td>")
			b.WriteString(html.EscapeString(c))
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table></body></html>")
	return []byte(b.String()), nil
}

func cells(row []workbook.Value) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = v.String()
	}
	return out
}
