// Package failure defines the structured error taxonomy shared by every
// layer. Errors carry a Kind that adapters map to transport status codes.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindBusy               Kind = "busy"
	KindTimeout            Kind = "timeout"
	KindConflict           Kind = "conflict"
	KindCanceled           Kind = "canceled"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindCorruptDocument    Kind = "corrupt_document"
	KindAuditWriteFailed   Kind = "audit_write_failed"
	KindPartialCommit      Kind = "partial_commit"
	KindVerificationFailed Kind = "verification_failed"
	KindUnsupported        Kind = "unsupported"
	KindInternal           Kind = "internal"
)

// Error is a classified failure. Err is optional and participates in unwrapping.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind so errors.Is(err, failure.New(KindBusy, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New returns an *Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind of err. Context errors map to Timeout and
// Canceled; anything unclassified is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// HTTPStatus maps a Kind onto an HTTP status class.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindBusy, KindTimeout, KindConflict:
		return http.StatusConflict
	case KindCanceled:
		return http.StatusRequestTimeout
	case KindPartialCommit:
		return http.StatusBadGateway
	case KindUnsupported:
		return http.StatusNotImplemented
	case KindVerificationFailed:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
