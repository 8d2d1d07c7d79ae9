package checkpoint

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/histoboost/histoboost/pkg/config"
)

func TestNewStore_LocalDefault(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(config.CheckpointConfig{LocalPath: filepath.Join(dir, "ckpt")})
	require.NoError(t, err)
	require.IsType(t, &localStore{}, store)
}

func TestNewStore_COSValidation(t *testing.T) {
	_, err := NewStore(config.CheckpointConfig{Type: config.CheckpointTypeCOS})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bucket and region are required")
}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := newLocalStore(dir)
	require.NoError(t, err)
	mgr := NewManager(store)
	defer mgr.Close()

	ctx := context.Background()
	raw := []byte(`{"iteration":3,"trees":["leaf"]}`)

	require.NoError(t, mgr.Save(ctx, "run-a", 3, raw))

	exists, err := mgr.Exists(ctx, "run-a", 3)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := mgr.Load(ctx, "run-a", 3)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	missing, err := mgr.Exists(ctx, "run-a", 4)
	require.NoError(t, err)
	assert.False(t, missing)
}

func TestManager_Delete(t *testing.T) {
	dir := t.TempDir()
	store, err := newLocalStore(dir)
	require.NoError(t, err)
	mgr := NewManager(store)
	defer mgr.Close()

	ctx := context.Background()
	require.NoError(t, mgr.Save(ctx, "run-b", 1, []byte("snapshot")))
	require.NoError(t, mgr.Delete(ctx, "run-b", 1))

	exists, err := mgr.Exists(ctx, "run-b", 1)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStore_GetMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := newLocalStore(dir)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "run-c/iter-000001.snapshot")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLocalStore_PutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := newLocalStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	key := "run-d/iter-000002.snapshot"
	require.NoError(t, store.Put(ctx, key, strings.NewReader("payload")))

	rc, err := store.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}
