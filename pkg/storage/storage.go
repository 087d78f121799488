// Package storage abstracts the blob store backing raw recording archives,
// rendered videos, and tenant assets. Two backends are provided: a local
// filesystem store for development/single-node deployments, and an S3
// store for production, selected by the RECORD_STORAGE setting.
package storage

import (
	"context"
	"io"
	"time"
)

// Entry describes one stored object found by List, enough for the orphan
// blob sweep to group files by directory and judge their age.
type Entry struct {
	Key     string
	ModTime time.Time
}

// Store is the minimal blob interface the recording pipeline and asset
// handlers need: write a key, read a key back, delete a key or a whole
// prefix (for RecordSet directory-tree retention deletes), and list
// everything under a prefix (for the orphan blob sweep).
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// New builds the configured backend. "default" is treated as "local",
// the default when RECORD_STORAGE is unset.
func New(backend string, local LocalConfig, s3 S3Config) (Store, error) {
	switch backend {
	case "s3":
		return NewS3Store(s3)
	default:
		return NewLocalStore(local)
	}
}
