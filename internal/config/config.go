// Package config loads cellvault settings from an optional YAML file and
// CELLVAULT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"cellvault/internal/audit"
	"cellvault/internal/blob"
	"cellvault/internal/identity"
)

// Config is the full service configuration.
type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Document Document `yaml:"document"`
	Blob     Blob     `yaml:"blob"`
	Audit    Audit    `yaml:"audit"`
	Lock     Lock     `yaml:"lock"`
	Mutation Mutation `yaml:"mutation"`
	Activity Activity `yaml:"activity"`
	Identity Identity `yaml:"identity"`
	Log      Log      `yaml:"log"`
	Limits   Limits   `yaml:"limits"`
	Metrics  Metrics  `yaml:"metrics"`
}

type HTTP struct {
	Addr         string        `yaml:"addr" validate:"required"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" validate:"gt=0"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

type Document struct {
	Bucket string `yaml:"bucket"`
	Name   string `yaml:"name" validate:"required"`
}

type Blob struct {
	Driver string `yaml:"driver" validate:"oneof=fs memory s3 gcs"`
	FSRoot string `yaml:"fs_root"`
	S3     S3     `yaml:"s3"`
	GCS    GCS    `yaml:"gcs"`
}

type S3 struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket" validate:"required_if=Enabled true"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
	Enabled         bool   `yaml:"-"`
}

type GCS struct {
	Bucket          string `yaml:"bucket" validate:"required_if=Enabled true"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
	Anonymous       bool   `yaml:"anonymous"`
	Enabled         bool   `yaml:"-"`
}

type Audit struct {
	Driver      string `yaml:"driver" validate:"oneof=memory sqlite postgres badger"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
	BadgerPath  string `yaml:"badger_path"`
}

type Lock struct {
	Policy      string        `yaml:"policy" validate:"oneof=queue fail_fast"`
	WaitTimeout time.Duration `yaml:"wait_timeout" validate:"gt=0"`
}

type Mutation struct {
	ConditionalWrites bool `yaml:"conditional_writes"`
	Verify            bool `yaml:"verify"`
}

type Activity struct {
	Enabled bool   `yaml:"enabled"`
	Prefix  string `yaml:"prefix"`
}

type Identity struct {
	Mode      string                 `yaml:"mode" validate:"oneof=static remote"`
	Tokens    []identity.StaticToken `yaml:"tokens" validate:"dive"`
	RemoteURL string                 `yaml:"remote_url" validate:"omitempty,url"`
	APIKey    string                 `yaml:"api_key"`
}

type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

type Limits struct {
	MaxChanges     int `yaml:"max_changes" validate:"gt=0"`
	MaxPreviewRows int `yaml:"max_preview_rows" validate:"gt=0"`
	MaxPreviewCols int `yaml:"max_preview_cols" validate:"gt=0"`
}

// Metrics selects the recorder and span exporter.
type Metrics struct {
	Recorder string `yaml:"recorder" validate:"oneof=prometheus expvar none"`
	Tracing  string `yaml:"tracing" validate:"oneof=none stdout json"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTP:     HTTP{Addr: ":8080", MaxBodyBytes: 2 << 20, ReadTimeout: 30 * time.Second},
		Document: Document{Bucket: "excel", Name: "master.xlsx"},
		Blob:     Blob{Driver: string(blob.DriverFilesystem), FSRoot: "./blobdata"},
		Audit:    Audit{Driver: string(audit.DriverSQLite), SQLitePath: "./cellvault-audit.db", BadgerPath: "./cellvault-audit.badger"},
		Lock:     Lock{Policy: "queue", WaitTimeout: 10 * time.Second},
		Mutation: Mutation{Verify: true},
		Activity: Activity{Enabled: true, Prefix: "logs/excel_access"},
		Identity: Identity{Mode: "static"},
		Log:      Log{Level: "info", Format: "json"},
		Limits:   Limits{MaxChanges: 500, MaxPreviewRows: 1000, MaxPreviewCols: 100},
		Metrics:  Metrics{Recorder: "prometheus", Tracing: "none"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads path (skipped when empty or missing), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	c.Blob.S3.Enabled = c.Blob.Driver == string(blob.DriverS3)
	c.Blob.GCS.Enabled = c.Blob.Driver == string(blob.DriverGCS)
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Identity.Mode == "remote" && c.Identity.RemoteURL == "" {
		return errors.New("invalid config: identity.remote_url is required when identity.mode is remote")
	}
	return nil
}

// BlobConfig maps the blob section onto the driver factory config.
func (c Config) BlobConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          c.Blob.S3.Region,
			Bucket:          c.Blob.S3.Bucket,
			Endpoint:        c.Blob.S3.Endpoint,
			AccessKeyID:     c.Blob.S3.AccessKeyID,
			SecretAccessKey: c.Blob.S3.SecretAccessKey,
			PathStyle:       c.Blob.S3.PathStyle,
		},
		GCS: blob.GCSConfig{
			Bucket:          c.Blob.GCS.Bucket,
			CredentialsFile: c.Blob.GCS.CredentialsFile,
			Endpoint:        c.Blob.GCS.Endpoint,
			Anonymous:       c.Blob.GCS.Anonymous,
		},
	}
}

// AuditConfig maps the audit section onto the sink factory config.
func (c Config) AuditConfig() audit.Config {
	return audit.Config{
		Driver:      audit.Driver(c.Audit.Driver),
		SQLitePath:  c.Audit.SQLitePath,
		PostgresDSN: c.Audit.PostgresDSN,
		BadgerPath:  c.Audit.BadgerPath,
	}
}
