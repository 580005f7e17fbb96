package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellvault/internal/blob/core"
)

func TestMissingKeys(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, err := store.Head(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, _, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	ok, err := store.Delete(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplaceListAndPresign(t *testing.T) {
	store := New()
	ctx := context.Background()
	assert.Equal(t, core.DriverMemory, store.Driver())

	first, err := store.Put(ctx, "excel/master.xlsx", strings.NewReader("v"), core.PutOptions{Metadata: map[string]string{"a": "1"}})
	require.NoError(t, err)
	second, err := store.Put(ctx, "excel/master.xlsx", strings.NewReader("v"), core.PutOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ETag, second.ETag, "identical bytes still get a new version")

	info, rc, err := store.Get(ctx, "excel/master.xlsx")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "v", string(b))
	assert.Equal(t, second.ETag, info.ETag)
	assert.Nil(t, info.Metadata)

	_, err = store.Put(ctx, "logs/a.json", strings.NewReader("{}"), core.PutOptions{})
	require.NoError(t, err)
	all, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "excel/master.xlsx", all[0].Key)
	logs, err := store.List(ctx, "logs/")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	none, err := store.List(ctx, "z")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = store.PresignURL(ctx, "excel/master.xlsx", core.SignedURLOptions{})
	assert.ErrorIs(t, err, core.ErrUnsupported)

	ok, err := store.Delete(ctx, "logs/a.json")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIfMatch(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, err := store.Put(ctx, "doc", strings.NewReader("a"), core.PutOptions{IfMatch: "nope"})
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)
	info, err := store.Put(ctx, "doc", strings.NewReader("a"), core.PutOptions{})
	require.NoError(t, err)
	_, err = store.Put(ctx, "doc", strings.NewReader("b"), core.PutOptions{IfMatch: "stale"})
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)
	_, err = store.Put(ctx, "doc", strings.NewReader("b"), core.PutOptions{IfMatch: info.ETag})
	assert.NoError(t, err)
}

func TestSnapshotsDoNotLeak(t *testing.T) {
	store := New()
	ctx := context.Background()
	meta := map[string]string{"a": "1"}
	_, err := store.Put(ctx, "m", strings.NewReader("x"), core.PutOptions{Metadata: meta})
	require.NoError(t, err)
	meta["a"] = "caller"
	info, err := store.Head(ctx, "m")
	require.NoError(t, err)
	info.Metadata["a"] = "mutated"
	again, err := store.Head(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "1", again.Metadata["a"])
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("fail") }

func TestPutErrors(t *testing.T) {
	store := New()
	_, err := store.Put(context.Background(), "bad", failingReader{}, core.PutOptions{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Put(ctx, "bad", strings.NewReader("x"), core.PutOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Head(context.Background(), "bad")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
