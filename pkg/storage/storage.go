// Package storage uploads sealed archives to object storage so callers get
// a download URL instead of a streamed body. Upload failure is always
// non-fatal: the web layer falls back to streaming the raw bytes.
package storage

import (
	"errors"
	"time"

	s3 "github.com/ghzip/github-zip-server/pkg/storage/aws-s3"
	"github.com/ghzip/github-zip-server/pkg/storage/azureblob"
	"github.com/ghzip/github-zip-server/pkg/storage/disk"
)

// Backend is the object storage contract. Put returns a URL the caller can
// hand out; Presign issues a time-limited URL for an existing object.
// ListOlderThan feeds the cleanup job.
type Backend interface {
	Setup() error
	Type() string
	Put(key string, data []byte, contentType string, ttl time.Duration) (string, error)
	Presign(key string, ttl time.Duration) (string, error)
	Delete(key string) error
	ListOlderThan(prefix string, cutoff time.Time) ([]string, error)

	// GetFilePath resolves a key to a local file for backends that serve
	// archives through this process (disk). Others return ErrNotImplemented.
	GetFilePath(key string) (string, error)
}

func GetStorageBackend(backend, connectionString string) (Backend, error) {
	var b Backend
	var err error

	switch backend {
	case "disk":
		b, err = disk.New(connectionString)
	case "s3":
		b, err = s3.New(connectionString)
	case "azureblob":
		b, err = azureblob.New(connectionString)
	default:
		return nil, errors.New("invalid storage backend")
	}

	if err != nil {
		return nil, err
	}

	if err := b.Setup(); err != nil {
		return nil, err
	}

	return b, nil
}
