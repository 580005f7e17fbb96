package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellvault/internal/config"
	"cellvault/internal/workbook"
)

func writeFixture(t *testing.T) (cfgPath, xlsxPath string) {
	t.Helper()
	dir := t.TempDir()
	doc, err := workbook.New("Sheet1")
	require.NoError(t, err)
	addr, err := workbook.Resolve(doc, "Sheet1", "A1")
	require.NoError(t, err)
	require.NoError(t, doc.Set(addr, workbook.NumberValue(100)))
	b, err := doc.Bytes()
	require.NoError(t, err)
	require.NoError(t, doc.Close())
	xlsxPath = filepath.Join(dir, "seed.xlsx")
	require.NoError(t, os.WriteFile(xlsxPath, b, 0o644))

	cfg := strings.Join([]string{
		"blob:",
		"  driver: fs",
		"  fs_root: " + filepath.Join(dir, "blobs"),
		"audit:",
		"  driver: sqlite",
		"  sqlite_path: " + filepath.Join(dir, "audit.db"),
		"log:",
		"  level: error",
		"metrics:",
		"  recorder: none",
		"",
	}, "\n")
	cfgPath = filepath.Join(dir, "cellvault.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath, xlsxPath
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSeedReadApplyAudit(t *testing.T) {
	cfgPath, xlsx := writeFixture(t)

	out, err := run(t, cfgPath, "seed", xlsx)
	require.NoError(t, err)
	assert.Contains(t, out, `"key": "excel/master.xlsx"`)

	_, err = run(t, cfgPath, "seed", xlsx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	_, err = run(t, cfgPath, "seed", "--force", xlsx)
	require.NoError(t, err)

	out, err = run(t, cfgPath, "sheets")
	require.NoError(t, err)
	assert.Equal(t, "Sheet1\n", out)

	out, err = run(t, cfgPath, "get", "Sheet1", "A1")
	require.NoError(t, err)
	assert.Equal(t, "100\n", out)

	out, err = run(t, cfgPath, "apply", "--as", "alice", "--email", "alice@example.com", "Sheet1", "A1", "250", "Sheet1", "B2", "note")
	require.NoError(t, err)
	var applied map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &applied))
	assert.EqualValues(t, 2, applied["changes_applied"])
	assert.NotEmpty(t, applied["version"])

	out, err = run(t, cfgPath, "get", "Sheet1", "A1")
	require.NoError(t, err)
	assert.Equal(t, "250\n", out)

	out, err = run(t, cfgPath, "audit", "--user", "alice")
	require.NoError(t, err)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 2)
	byCell := map[string]map[string]any{}
	for _, r := range recs {
		assert.Equal(t, "alice", r["user_id"])
		assert.Equal(t, "excel/master.xlsx", r["document_key"])
		byCell[r["cell"].(string)] = r
	}
	assert.Equal(t, "100", byCell["A1"]["old_value"])
	assert.Equal(t, "250", byCell["A1"]["new_value"])
	assert.Equal(t, "note", byCell["B2"]["new_value"])

	out, err = run(t, cfgPath, "audit", "--user", "bob")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestApplyArguments(t *testing.T) {
	cfgPath, _ := writeFixture(t)
	_, err := run(t, cfgPath, "apply", "--as", "alice", "Sheet1", "A1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "triples")

	_, err = run(t, cfgPath, "apply", "Sheet1", "A1", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--as")
}

func TestMissingDocumentIsReported(t *testing.T) {
	cfgPath, _ := writeFixture(t)
	_, err := run(t, cfgPath, "sheets")
	require.Error(t, err)
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lock:\n  policy: sometimes\n"), 0o644))
	_, err := run(t, path, "sheets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestMainExitsOnError(t *testing.T) {
	prevArgs, prevExit := os.Args, exitFunc
	defer func() { os.Args, exitFunc = prevArgs, prevExit }()
	code := -1
	exitFunc = func(c int) { code = c }
	os.Args = []string{"cellvault", "no-such-command"}
	main()
	assert.Equal(t, 1, code)
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(config.Log{Level: "warn", Format: "text"}, &buf)
	assert.False(t, l.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, l.Enabled(context.Background(), slog.LevelWarn))
	l.Warn("hello")
	assert.Contains(t, buf.String(), "msg=hello")

	buf.Reset()
	l = newLogger(config.Log{Level: "debug", Format: "json"}, &buf)
	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))
	l.Debug("hi")
	assert.Contains(t, buf.String(), `"msg":"hi"`)
}

func TestNewRecorderKinds(t *testing.T) {
	_, h := newRecorder("none")
	assert.Nil(t, h)
	_, h = newRecorder("prometheus")
	assert.NotNil(t, h)
	_, h = newRecorder("expvar")
	assert.NotNil(t, h)
}

func TestNewTracerKinds(t *testing.T) {
	var buf bytes.Buffer
	tr, shutdown, err := newTracer("json", &buf)
	require.NoError(t, err)
	assert.Nil(t, shutdown)
	_, span := tr.Start(context.Background(), "probe")
	span.End(nil)
	assert.Contains(t, buf.String(), "probe")

	tr, shutdown, err = newTracer("stdout", &buf)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	_, span = tr.Start(context.Background(), "probe")
	span.End(nil)
	require.NoError(t, shutdown(context.Background()))
}
