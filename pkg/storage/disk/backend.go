package disk

import (
	"errors"
	"os"
	p "path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ghzip/github-zip-server/pkg/e"
)

// Backend stores archives under a base directory. Archives are served back
// through this process via the /archive/*key route, so the URLs it returns
// are host-relative paths.
type Backend struct {
	BaseDir string
}

func New(connectionString string) (*Backend, error) {
	if _, err := os.Stat(connectionString); os.IsNotExist(err) {
		return nil, errors.New("path does not exist")
	}

	baseDir, err := filepath.Abs(connectionString)
	if err != nil {
		return nil, err
	}

	return &Backend{BaseDir: baseDir}, nil
}

func (b *Backend) Setup() error {
	return nil
}

func (b *Backend) Type() string {
	return "disk"
}

// Put writes the archive under the key's path. TTL is enforced by the
// cleanup job via ListOlderThan, not by the filesystem.
func (b *Backend) Put(key string, data []byte, contentType string, ttl time.Duration) (string, error) {
	filePath, err := b.GetFilePath(key)
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(p.Dir(filePath), 0o755); err != nil {
		return "", err
	}
	if err = os.WriteFile(filePath, data, 0o644); err != nil {
		return "", err
	}
	return "/archive/" + key, nil
}

func (b *Backend) Presign(key string, ttl time.Duration) (string, error) {
	if _, err := os.Stat(p.Join(b.BaseDir, key)); err != nil {
		return "", e.ErrNotFound
	}
	return "/archive/" + key, nil
}

func (b *Backend) Delete(key string) error {
	filePath, err := b.GetFilePath(key)
	if err != nil {
		return err
	}
	return os.Remove(filePath)
}

// ListOlderThan walks the prefix directory and returns keys whose files
// were modified before cutoff.
func (b *Backend) ListOlderThan(prefix string, cutoff time.Time) ([]string, error) {
	root := p.Join(b.BaseDir, prefix)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	keys := make([]string, 0)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.ModTime().Before(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(b.BaseDir, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	return keys, err
}

func (b *Backend) GetFilePath(key string) (string, error) {
	filePath := p.Clean(p.Join(b.BaseDir, key))
	if !strings.HasPrefix(filePath, b.BaseDir) {
		return "", e.ErrNotFound
	}
	return filePath, nil
}
