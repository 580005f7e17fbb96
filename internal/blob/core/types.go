// Package core holds the blob contract shared by the facade and the drivers
// under internal/infra/blob.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver names a backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverGCS        Driver = "gcs"
	DriverMemory     Driver = "memory"
)

// PutOptions tunes a Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
	// IfMatch makes the write conditional on the stored ETag. Empty means
	// unconditional replace.
	IfMatch string
}

// SignedURLOptions tunes PresignURL. Only GET is supported by the drivers.
type SignedURLOptions struct {
	Method  string
	Expiry  time.Duration
	Headers map[string]string
}

// Info describes a stored object. ETag is an opaque version token that
// changes on every successful Put, even when the bytes do not.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is a flat key/object namespace.
//
// Put replaces the whole object atomically: readers observe either the
// previous or the new bytes, never a mix.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

var (
	ErrUnsupported        = errors.New("blob: unsupported operation")
	ErrNotFound           = errors.New("blob: not found")
	ErrPreconditionFailed = errors.New("blob: precondition failed")
)
