package cache

import (
	"fmt"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
)

// FromConfig builds the backend selected by cfg.Backend. Init is left to the caller.
func FromConfig(cfg config.CacheConfig) (GenericCache, error) {
	switch cfg.Backend {
	case config.BackendDisk, "":
		return NewDisk(cfg.Folder), nil
	case config.BackendMemory:
		return NewMemory(), nil
	case config.BackendSQLite:
		return NewSQLite(cfg.SQLiteFile)
	case config.BackendMemcache:
		return NewMemcache(cfg.MemcacheAddrs...), nil
	case config.BackendS3:
		return NewS3(cfg.S3.Endpoint, cfg.S3.Bucket, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.UseSSL)
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
