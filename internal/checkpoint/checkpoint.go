// Package checkpoint persists periodic training snapshots (per-row raw
// scores) to a storage backend. The boosting loop writes them and does not
// read them back.
package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/histoboost/histoboost/pkg/compression"
	"github.com/histoboost/histoboost/pkg/config"
)

// Store is the backend-agnostic interface the boosting driver writes
// snapshots through. Keys are opaque paths, conventionally
// "<runID>/iter-<n>.snapshot".
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// storeType names a checkpoint backend.
type storeType string

const (
	typeLocal storeType = "local"
	typeCOS   storeType = "cos"
)

// NewStore builds a Store from configuration.
func NewStore(cfg config.CheckpointConfig) (Store, error) {
	t := storeType(cfg.Type)
	if t == "" {
		t = typeLocal
	}
	switch t {
	case typeLocal:
		return newLocalStore(cfg.LocalPath)
	case typeCOS:
		return newCOSStore(&cosConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
		})
	default:
		return nil, fmt.Errorf("checkpoint: unsupported backend %q", cfg.Type)
	}
}

// Manager wraps a Store with snapshot framing: every blob is zstd-compressed
// (falling back to gzip if zstd construction fails, see pkg/compression) and
// addressed by run ID and iteration number rather than a raw key.
type Manager struct {
	store      Store
	compressor compression.Compressor
}

// NewManager wraps store with the default compressor.
func NewManager(store Store) *Manager {
	return &Manager{store: store, compressor: compression.Default()}
}

func snapshotKey(runID string, iteration int) string {
	return fmt.Sprintf("%s/iter-%06d.snapshot", runID, iteration)
}

// Save compresses and writes a snapshot for (runID, iteration).
func (m *Manager) Save(ctx context.Context, runID string, iteration int, raw []byte) error {
	compressed, err := m.compressor.Compress(raw)
	if err != nil {
		return fmt.Errorf("checkpoint: compress snapshot: %w", err)
	}
	return m.store.Put(ctx, snapshotKey(runID, iteration), bytes.NewReader(compressed))
}

// Load reads and decompresses the snapshot for (runID, iteration).
func (m *Manager) Load(ctx context.Context, runID string, iteration int) ([]byte, error) {
	rc, err := m.store.Get(ctx, snapshotKey(runID, iteration))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	compressed, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read snapshot: %w", err)
	}
	return m.compressor.Decompress(compressed)
}

// Exists reports whether a snapshot for (runID, iteration) has been written.
func (m *Manager) Exists(ctx context.Context, runID string, iteration int) (bool, error) {
	return m.store.Exists(ctx, snapshotKey(runID, iteration))
}

// Delete removes the snapshot for (runID, iteration), if present.
func (m *Manager) Delete(ctx context.Context, runID string, iteration int) error {
	return m.store.Delete(ctx, snapshotKey(runID, iteration))
}

// Close releases resources held by the underlying compressor, if any.
func (m *Manager) Close() {
	compression.Close(m.compressor)
}
