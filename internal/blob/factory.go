package blob

import (
	"context"
	"fmt"
)

// Config selects and configures a blob.Store implementation.
//
//	Driver: fs|s3|gcs|memory (default fs)
//	FSRoot: directory root when Driver=fs (default ./blobdata)
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
	GCS    GCSConfig
}

// Open constructs the store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverGCS:
		return NewGCS(ctx, cfg.GCS)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
