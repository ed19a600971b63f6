package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/swr"

	"github.com/sirupsen/logrus"
)

const emptySegment = "%"

// HTTPCache stores serialized responses in named buckets on top of a GenericCache
type HTTPCache struct {
	cache cache.GenericCache
}

func New(cache cache.GenericCache) *HTTPCache {
	return &HTTPCache{
		cache: cache,
	}
}

// Open returns the named bucket. Buckets need no setup: entries are written
// under the bucket's key prefix when first stored.
func (d *HTTPCache) Open(_ context.Context, name string) (swr.Bucket, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid bucket name %q", name)
	}
	return &Bucket{name: name, cache: d.cache}, nil
}

// Bucket is one named partition of an HTTPCache
type Bucket struct {
	name  string
	cache cache.GenericCache
}

// Name returns the bucket identifier
func (b *Bucket) Name() string {
	return b.name
}

// GenerateKey builds the storage key from the request identity (method and URL):
// bucket/scheme/host/path/METHOD[_qqueryhash].bin
//
// The path is kept in its escaped form, segment by segment, so distinct URLs
// never share an entry.
func (b *Bucket) GenerateKey(request *http.Request) string {
	scheme := request.URL.Scheme
	if scheme == "" {
		scheme = "http"
		if request.TLS != nil {
			scheme = "https"
		}
	}

	host := request.URL.Host
	if host == "" {
		host = request.Host
	}
	host = strings.TrimSuffix(strings.TrimSuffix(strings.ToLower(host), ":80"), ":443")

	pathParts := []string{b.name, scheme, host}
	pathParts = append(pathParts, pathSegments(request.URL)...)

	filename := request.Method
	if request.URL.RawQuery != "" {
		hash := sha256.Sum256([]byte(request.URL.RawQuery))
		filename += "_q" + hex.EncodeToString(hash[:])[:8]
	}
	filename += ".bin"

	pathParts = append(pathParts, filename)

	return strings.Join(pathParts, "/")
}

// pathSegments splits the escaped path into key segments. An escaped path only
// carries '%' as part of a %XX escape, so a lone "%" marks an empty segment
// (a trailing or doubled slash). Dot segments are escaped so they stay literal.
func pathSegments(u *url.URL) []string {
	p := strings.TrimPrefix(u.EscapedPath(), "/")
	if p == "" {
		return nil
	}

	segments := strings.Split(p, "/")
	for i, seg := range segments {
		switch seg {
		case "":
			segments[i] = emptySegment
		case ".":
			segments[i] = "%2E"
		case "..":
			segments[i] = "%2E%2E"
		}
	}
	return segments
}

// Match returns the stored response for request, or nil, nil on a miss
func (b *Bucket) Match(ctx context.Context, request *http.Request) (*http.Response, error) {
	key := b.GenerateKey(request)

	data, err := b.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	resp, err := Deserialize(data, request)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response %s: %w", key, err)
	}

	logrus.Debugf("Cache hit for %s %s in %s", request.Method, request.URL.String(), b.name)
	return resp, nil
}

// Put stores resp under request's identity, replacing the previous entry
func (b *Bucket) Put(ctx context.Context, request *http.Request, resp *http.Response) error {
	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := b.cache.Set(ctx, b.GenerateKey(request), data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}
