package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalConfig points the local backend at a root directory on disk.
type LocalConfig struct {
	RootDir string
}

// LocalStore stores blobs as plain files under RootDir, using the same key
// layout models.BlobPath produces for the database-side file_path column.
// This is the RECORD_STORAGE=local (and "default") backend; no ecosystem
// gap exists here, so this is plain os/io, not a third-party dependency.
type LocalStore struct {
	root string
}

func NewLocalStore(cfg LocalConfig) (*LocalStore, error) {
	if cfg.RootDir == "" {
		cfg.RootDir = "./data/records"
	}
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local storage root: %w", err)
	}
	return &LocalStore{root: cfg.RootDir}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return os.Open(s.path(key))
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *LocalStore) DeletePrefix(ctx context.Context, prefix string) error {
	err := os.RemoveAll(s.path(prefix))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List walks every regular file under prefix, returning keys relative to
// the store root so callers can round-trip them back into Get/Delete.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	root := s.path(prefix)
	var out []Entry
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		out = append(out, Entry{Key: filepath.ToSlash(rel), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
