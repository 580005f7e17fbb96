package blob

import (
	"context"

	infraFS "cellvault/internal/infra/blob/fs"
	infraGCS "cellvault/internal/infra/blob/gcs"
	memorystore "cellvault/internal/infra/blob/memory"
	infraS3 "cellvault/internal/infra/blob/s3"
)

type (
	// S3Config configures the S3 / MinIO driver.
	S3Config = infraS3.Config
	// GCSConfig configures the Google Cloud Storage driver.
	GCSConfig = infraGCS.Config
)

// NewFilesystem returns a store confined to the directory root.
func NewFilesystem(root string) (Store, error) { return infraFS.New(root) }

// NewMemory returns a process-local store.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return infraS3.New(ctx, cfg) }

// NewMockS3ForTests returns an S3 store wired to an in-process fake endpoint.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }

// NewGCS constructs a Google Cloud Storage backed store.
func NewGCS(ctx context.Context, cfg GCSConfig) (Store, error) { return infraGCS.New(ctx, cfg) }
