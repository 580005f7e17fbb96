package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CELLVAULT_"

type lookupFunc func(string) (string, bool)

// applyEnv overlays CELLVAULT_* variables onto cfg.
//
//	CELLVAULT_HTTP_ADDR, CELLVAULT_DOCUMENT_BUCKET, CELLVAULT_DOCUMENT_NAME
//	CELLVAULT_BLOB_DRIVER: fs|memory|s3|gcs, CELLVAULT_BLOB_FS_ROOT
//	CELLVAULT_S3_{BUCKET,REGION,ENDPOINT,ACCESS_KEY_ID,SECRET_ACCESS_KEY,PATH_STYLE}
//	CELLVAULT_GCS_{BUCKET,CREDENTIALS_FILE,ENDPOINT}
//	CELLVAULT_AUDIT_DRIVER: memory|sqlite|postgres|badger
//	CELLVAULT_SQLITE_PATH, CELLVAULT_POSTGRES_DSN, CELLVAULT_BADGER_PATH
//	CELLVAULT_LOCK_POLICY: queue|fail_fast, CELLVAULT_LOCK_WAIT_TIMEOUT
//	CELLVAULT_CONDITIONAL_WRITES, CELLVAULT_VERIFY
//	CELLVAULT_ACTIVITY_ENABLED, CELLVAULT_ACTIVITY_PREFIX
//	CELLVAULT_IDENTITY_MODE, CELLVAULT_IDENTITY_REMOTE_URL, CELLVAULT_IDENTITY_API_KEY
//	CELLVAULT_LOG_LEVEL, CELLVAULT_LOG_FORMAT, CELLVAULT_MAX_CHANGES
//	CELLVAULT_METRICS_RECORDER, CELLVAULT_TRACING
func applyEnv(cfg *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"HTTP_ADDR":            &cfg.HTTP.Addr,
		"DOCUMENT_BUCKET":      &cfg.Document.Bucket,
		"DOCUMENT_NAME":        &cfg.Document.Name,
		"BLOB_DRIVER":          &cfg.Blob.Driver,
		"BLOB_FS_ROOT":         &cfg.Blob.FSRoot,
		"S3_BUCKET":            &cfg.Blob.S3.Bucket,
		"S3_REGION":            &cfg.Blob.S3.Region,
		"S3_ENDPOINT":          &cfg.Blob.S3.Endpoint,
		"S3_ACCESS_KEY_ID":     &cfg.Blob.S3.AccessKeyID,
		"S3_SECRET_ACCESS_KEY": &cfg.Blob.S3.SecretAccessKey,
		"GCS_BUCKET":           &cfg.Blob.GCS.Bucket,
		"GCS_CREDENTIALS_FILE": &cfg.Blob.GCS.CredentialsFile,
		"GCS_ENDPOINT":         &cfg.Blob.GCS.Endpoint,
		"AUDIT_DRIVER":         &cfg.Audit.Driver,
		"SQLITE_PATH":          &cfg.Audit.SQLitePath,
		"POSTGRES_DSN":         &cfg.Audit.PostgresDSN,
		"BADGER_PATH":          &cfg.Audit.BadgerPath,
		"LOCK_POLICY":          &cfg.Lock.Policy,
		"ACTIVITY_PREFIX":      &cfg.Activity.Prefix,
		"IDENTITY_MODE":        &cfg.Identity.Mode,
		"IDENTITY_REMOTE_URL":  &cfg.Identity.RemoteURL,
		"IDENTITY_API_KEY":     &cfg.Identity.APIKey,
		"LOG_LEVEL":            &cfg.Log.Level,
		"LOG_FORMAT":           &cfg.Log.Format,
		"METRICS_RECORDER":     &cfg.Metrics.Recorder,
		"TRACING":              &cfg.Metrics.Tracing,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	bools := map[string]*bool{
		"S3_PATH_STYLE":      &cfg.Blob.S3.PathStyle,
		"CONDITIONAL_WRITES": &cfg.Mutation.ConditionalWrites,
		"VERIFY":             &cfg.Mutation.Verify,
		"ACTIVITY_ENABLED":   &cfg.Activity.Enabled,
	}
	for name, dst := range bools {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
	}
	if v, ok := lookup(EnvPrefix + "LOCK_WAIT_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sLOCK_WAIT_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Lock.WaitTimeout = d
	}
	if v, ok := lookup(EnvPrefix + "MAX_CHANGES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_CHANGES: %w", EnvPrefix, err)
		}
		cfg.Limits.MaxChanges = n
	}
	return nil
}
