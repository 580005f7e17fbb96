package core

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"cellvault/internal/blob"
	"cellvault/internal/export"
	"cellvault/internal/failure"
	"cellvault/internal/workbook"
)

// Metadata describes the stored document.
type Metadata struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	Version      string    `json:"version,omitempty"`
}

// CellView is a single resolved cell.
type CellView struct {
	Sheet string         `json:"sheet"`
	Cell  string         `json:"cell"`
	Value workbook.Value `json:"value"`
}

// PreviewView is a dense rows x cols window anchored at A1.
type PreviewView struct {
	Sheet   string             `json:"sheet"`
	Preview [][]workbook.Value `json:"preview"`
}

// Metadata lists the document's folder and reports the matching entry.
func (s *Service) Metadata(ctx context.Context) (md Metadata, err error) {
	ctx, done := s.observe(ctx, "read.metadata")
	defer func() { done(err) }()
	key := s.doc.ObjectKey()
	prefix := ""
	if dir := path.Dir(key); dir != "." {
		prefix = dir + "/"
	}
	infos, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return Metadata{}, s.storageError(ctx, err)
	}
	for _, info := range infos {
		if info.Key == key {
			return Metadata{Name: path.Base(key), Size: info.Size, LastModified: info.LastModified, Version: info.ETag}, nil
		}
	}
	return Metadata{}, failure.New(failure.KindNotFound, "document %s not found", s.doc)
}

// Sheets returns sheet names in workbook order.
func (s *Service) Sheets(ctx context.Context) (names []string, err error) {
	ctx, done := s.observe(ctx, "read.sheets")
	defer func() { done(err) }()
	err = s.withDocument(ctx, func(d *workbook.Document) error {
		names = d.SheetNames()
		return nil
	})
	return names, err
}

// Cell reads one cell. Cells outside the populated range read as empty.
func (s *Service) Cell(ctx context.Context, sheet, ref string) (view CellView, err error) {
	ctx, done := s.observe(ctx, "read.cell")
	defer func() { done(err) }()
	if strings.TrimSpace(sheet) == "" || strings.TrimSpace(ref) == "" {
		return CellView{}, failure.New(failure.KindValidation, "sheet and cell are required")
	}
	err = s.withDocument(ctx, func(d *workbook.Document) error {
		addr, err := workbook.Resolve(d, sheet, ref)
		if err != nil {
			return err
		}
		v, err := d.Get(addr)
		if err != nil {
			return failure.Wrap(failure.KindInternal, err, "read %s!%s", sheet, addr.Cell())
		}
		view = CellView{Sheet: sheet, Cell: addr.Cell(), Value: v}
		return nil
	})
	return view, err
}

// Preview returns a dense grid. Non-positive sizes take the defaults and
// sizes above the configured maxima are clamped.
func (s *Service) Preview(ctx context.Context, sheet string, rows, cols int) (view PreviewView, err error) {
	ctx, done := s.observe(ctx, "read.preview")
	defer func() { done(err) }()
	if strings.TrimSpace(sheet) == "" {
		return PreviewView{}, failure.New(failure.KindValidation, "sheet is required")
	}
	rows = bound(rows, DefaultPreviewRows, s.limits.MaxPreviewRows)
	cols = bound(cols, DefaultPreviewCols, s.limits.MaxPreviewCols)
	err = s.withDocument(ctx, func(d *workbook.Document) error {
		grid, err := d.Grid(sheet, rows, cols)
		if err != nil {
			return err
		}
		view = PreviewView{Sheet: sheet, Preview: grid}
		return nil
	})
	return view, err
}

func bound(n, def, max int) int {
	if n <= 0 {
		n = def
	}
	if n > max {
		n = max
	}
	return n
}

// Download returns the raw document bytes.
func (s *Service) Download(ctx context.Context) (info blob.Info, b []byte, err error) {
	ctx, done := s.observe(ctx, "read.download")
	defer func() { done(err) }()
	return s.fetch(ctx)
}

// PublicURL returns a time-limited GET URL for the document.
func (s *Service) PublicURL(ctx context.Context) (u string, err error) {
	ctx, done := s.observe(ctx, "read.public_url")
	defer func() { done(err) }()
	if _, err := s.blobs.Head(ctx, s.doc.ObjectKey()); err != nil {
		return "", s.storageError(ctx, err)
	}
	u, err = s.blobs.PresignURL(ctx, s.doc.ObjectKey(), blob.SignedURLOptions{Method: "GET", Expiry: s.limits.PresignExpiry})
	if errors.Is(err, blob.ErrUnsupported) {
		return "", failure.Wrap(failure.KindUnsupported, err, "%s driver cannot issue public URLs", s.blobs.Driver())
	}
	if err != nil {
		return "", s.storageError(ctx, err)
	}
	return u, nil
}

// Export renders the populated part of sheet in format.
func (s *Service) Export(ctx context.Context, format export.Format, sheet string) (a export.Artifact, err error) {
	ctx, done := s.observe(ctx, "read.export")
	defer func() { done(err) }()
	if strings.TrimSpace(sheet) == "" {
		return export.Artifact{}, failure.New(failure.KindValidation, "sheet is required")
	}
	err = s.withDocument(ctx, func(d *workbook.Document) error {
		rows, err := d.Sheet(sheet)
		if err != nil {
			return err
		}
		a, err = export.Render(format, sheet, rows)
		return err
	})
	return a, err
}
