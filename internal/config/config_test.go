package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellvault/internal/audit"
	"cellvault/internal/blob"
	"cellvault/internal/identity"
)

func TestDefaultsValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, int64(2<<20), cfg.HTTP.MaxBodyBytes)
	assert.Equal(t, "excel", cfg.Document.Bucket)
	assert.Equal(t, "master.xlsx", cfg.Document.Name)
	assert.Equal(t, 10*time.Second, cfg.Lock.WaitTimeout)
	assert.True(t, cfg.Mutation.Verify)
	assert.Equal(t, 500, cfg.Limits.MaxChanges)
	assert.Equal(t, blob.DriverFilesystem, cfg.BlobConfig().Driver)
	assert.Equal(t, audit.DriverSQLite, cfg.AuditConfig().Driver)
}

func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cellvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
blob:
  driver: s3
  s3:
    bucket: sheets
    path_style: true
audit:
  driver: badger
  badger_path: /var/lib/cellvault/audit
lock:
  policy: fail_fast
  wait_timeout: 3s
identity:
  mode: static
  tokens:
    - token: t-admin
      user_id: admin
      role: admin
`), 0o600))
	t.Setenv("CELLVAULT_HTTP_ADDR", ":7070")
	t.Setenv("CELLVAULT_CONDITIONAL_WRITES", "true")
	t.Setenv("CELLVAULT_MAX_CHANGES", "50")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, "sheets", cfg.BlobConfig().S3.Bucket)
	assert.True(t, cfg.BlobConfig().S3.PathStyle)
	assert.Equal(t, audit.DriverBadger, cfg.AuditConfig().Driver)
	assert.Equal(t, "fail_fast", cfg.Lock.Policy)
	assert.Equal(t, 3*time.Second, cfg.Lock.WaitTimeout)
	assert.True(t, cfg.Mutation.ConditionalWrites)
	assert.Equal(t, 50, cfg.Limits.MaxChanges)
	require.Len(t, cfg.Identity.Tokens, 1)
	assert.Equal(t, identity.RoleAdmin, cfg.Identity.Tokens[0].Role)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().HTTP.Addr, cfg.HTTP.Addr)
}

func TestValidationFailures(t *testing.T) {
	cases := map[string]func(*Config){
		"blob driver":       func(c *Config) { c.Blob.Driver = "ftp" },
		"s3 bucket":         func(c *Config) { c.Blob.Driver = "s3" },
		"gcs bucket":        func(c *Config) { c.Blob.Driver = "gcs" },
		"postgres dsn":      func(c *Config) { c.Audit.Driver = "postgres" },
		"lock policy":       func(c *Config) { c.Lock.Policy = "spin" },
		"remote url":        func(c *Config) { c.Identity.Mode = "remote" },
		"bad url":           func(c *Config) { c.Identity.RemoteURL = "::nope" },
		"token without uid": func(c *Config) { c.Identity.Tokens = []identity.StaticToken{{Token: "x"}} },
		"max changes":       func(c *Config) { c.Limits.MaxChanges = 0 },
		"log format":        func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvParseErrors(t *testing.T) {
	for name, val := range map[string]string{"VERIFY": "maybe", "LOCK_WAIT_TIMEOUT": "soon", "MAX_CHANGES": "many"} {
		cfg := Default()
		err := applyEnv(&cfg, func(k string) (string, bool) {
			if k == EnvPrefix+name {
				return val, true
			}
			return "", false
		})
		assert.Error(t, err, name)
	}
}
