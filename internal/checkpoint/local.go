package checkpoint

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// localStore implements Store on the local filesystem.
type localStore struct {
	basePath string
}

func newLocalStore(basePath string) (*localStore, error) {
	if basePath == "" {
		basePath = "./checkpoints"
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("checkpoint: create local store dir: %w", err)
	}
	return &localStore{basePath: basePath}, nil
}

func (s *localStore) fullPath(key string) string {
	return filepath.Join(s.basePath, key)
}

func (s *localStore) Put(ctx context.Context, key string, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	full := s.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("checkpoint: create parent dir: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("checkpoint: create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("checkpoint: write file: %w", err)
	}
	return nil
}

func (s *localStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	f, err := os.Open(s.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checkpoint: snapshot not found: %s", key)
		}
		return nil, fmt.Errorf("checkpoint: open file: %w", err)
	}
	return f, nil
}

func (s *localStore) Delete(ctx context.Context, key string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.Remove(s.fullPath(key)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checkpoint: delete file: %w", err)
	}
	return nil
}

func (s *localStore) Exists(ctx context.Context, key string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	_, err := os.Stat(s.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checkpoint: stat file: %w", err)
	}
	return true, nil
}
