package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// DiskCache implements GenericCache with one file per key under cacheDir
type DiskCache struct {
	cacheDir string
}

// NewDisk creates a new disk cache
func NewDisk(cacheDir string) *DiskCache {
	return &DiskCache{
		cacheDir: cacheDir,
	}
}

// path maps a key to a file inside the cache directory
func (d *DiskCache) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty cache key")
	}
	p := filepath.Join(d.cacheDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(d.cacheDir, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("cache key %q escapes cache directory", key)
	}
	return p, nil
}

// Get retrieves a cached value if it exists
func (d *DiskCache) Get(_ context.Context, key string) ([]byte, error) {
	cachePath, err := d.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(cachePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache file %s: %w", cachePath, err)
	}

	return data, nil
}

// Set stores a value in the cache. The file is replaced atomically so
// readers never observe a partial write.
func (d *DiskCache) Set(_ context.Context, key string, data []byte) error {
	cachePath, err := d.path(key)
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), cachePath); err != nil {
		return err
	}

	logrus.Debugf("Cached response: %s", cachePath)
	return nil
}

// Init ensures the cache directory exists
func (d *DiskCache) Init(_ context.Context) error {
	return os.MkdirAll(d.cacheDir, 0755)
}
