package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore is the default BlobStore backend: one file per address under
// a data directory. Writes go through a temp file plus rename so a crash
// mid-write leaves the previous blob intact.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Read(_ context.Context, addr uint32) ([]byte, error) {
	data, err := os.ReadFile(s.path(addr))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %d: %w", addr, err)
	}
	return data, nil
}

func (s *FileStore) Write(_ context.Context, addr uint32, data []byte) error {
	target := s.path(addr)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write blob %d: %w", addr, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("commit blob %d: %w", addr, err)
	}
	return nil
}

func (s *FileStore) path(addr uint32) string {
	return filepath.Join(s.dir, fmt.Sprintf("blob_%08x.bin", addr))
}
