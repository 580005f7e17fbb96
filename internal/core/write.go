package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"cellvault/internal/audit"
	"cellvault/internal/blob"
	"cellvault/internal/failure"
	"cellvault/internal/identity"
	"cellvault/internal/mutation"
	"cellvault/internal/workbook"
)

// ApplyChanges commits a batch on behalf of id. Admins and editors only.
func (s *Service) ApplyChanges(ctx context.Context, id identity.Identity, changes []mutation.ChangeRequest) (mutation.Outcome, error) {
	if !id.Authenticated() {
		return mutation.Outcome{}, failure.New(failure.KindUnauthorized, "authentication required")
	}
	if !id.CanMutate() {
		return mutation.Outcome{}, failure.New(failure.KindForbidden, "user %s may not edit the document", id.UserID)
	}
	if len(changes) == 0 {
		return mutation.Outcome{}, failure.New(failure.KindValidation, "no changes provided")
	}
	if len(changes) > s.limits.MaxChanges {
		return mutation.Outcome{}, failure.New(failure.KindValidation, "too many changes: %d (max %d)", len(changes), s.limits.MaxChanges)
	}
	for i := range changes {
		if err := s.validate.Struct(changes[i]); err != nil {
			return mutation.Outcome{}, failure.Wrap(failure.KindValidation, err, "change %d: %s", i, describe(err))
		}
	}
	return s.coord.Apply(ctx, s.doc, mutation.Actor{UserID: id.UserID, Email: id.Email}, changes)
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Sprintf("%s is %s", verrs[0].Field(), verrs[0].Tag())
	}
	return err.Error()
}

// QueryAudit returns the newest audit records for the document. Non-admins
// only ever see their own records; admins may narrow by user.
func (s *Service) QueryAudit(ctx context.Context, id identity.Identity, user string, limit int) (recs []audit.Record, err error) {
	ctx, done := s.observe(ctx, "read.audit")
	defer func() { done(err) }()
	if !id.Authenticated() {
		return nil, failure.New(failure.KindUnauthorized, "authentication required")
	}
	if limit < 0 || limit > audit.MaxLimit {
		return nil, failure.New(failure.KindValidation, "limit must be between 1 and %d", audit.MaxLimit)
	}
	f := audit.Filter{DocumentKey: s.doc.String(), Limit: limit, UserID: user}
	if !id.IsAdmin() {
		f.UserID = id.UserID
	}
	recs, err = s.sink.Query(ctx, f)
	if err != nil {
		return nil, failure.Wrap(failure.KindStorageUnavailable, err, "query audit trail")
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	return recs, nil
}

// Seed uploads an initial document after checking it parses. Without
// overwrite an existing document is left alone and Conflict is returned.
func (s *Service) Seed(ctx context.Context, data []byte, overwrite bool) (blob.Info, error) {
	d, err := workbook.Parse(data)
	if err != nil {
		return blob.Info{}, err
	}
	_ = d.Close()
	if !overwrite {
		_, err := s.blobs.Head(ctx, s.doc.ObjectKey())
		switch {
		case err == nil:
			return blob.Info{}, failure.New(failure.KindConflict, "document %s already exists", s.doc)
		case !errors.Is(err, blob.ErrNotFound):
			return blob.Info{}, s.storageError(ctx, err)
		}
	}
	info, err := s.blobs.Put(ctx, s.doc.ObjectKey(), bytes.NewReader(data), blob.PutOptions{ContentType: mutation.ContentTypeXLSX})
	if err != nil {
		return blob.Info{}, s.storageError(ctx, err)
	}
	s.logger.Info("document seeded", "document", s.doc.String(), "size", info.Size, "version", info.ETag)
	return info, nil
}
