// Handles storage of serialized HTTP responses
package cache

import "context"

// GenericCache stores opaque values by key. Implementations must be safe for
// concurrent use; concurrent writes to one key are last-write-wins.
type GenericCache interface {
	// retrieves the stored value.
	// returns nil, nil when not found
	Get(ctx context.Context, key string) ([]byte, error)
	// stores the value, overwriting any previous value for the key
	Set(ctx context.Context, key string, value []byte) error
	// initializes the cache (e.g., creates necessary directories or tables)
	Init(ctx context.Context) error
}
