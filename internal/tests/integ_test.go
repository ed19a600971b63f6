package tests

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, client *http.Client, target string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Get(target)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestProxyIntegration(t *testing.T) {
	upstream := fixture_upstream()
	defer upstream.Close()

	tempDir := t.TempDir()
	cfg := fixture_config(tempDir, nil)

	proxyServer, proxyTestServer, client, err := fixture_proxy(cfg)
	if err != nil {
		t.Fatalf("Failed to create proxy server: %v", err)
	}
	defer proxyTestServer.Close()

	t.Run("first request - cache miss", func(t *testing.T) {
		resp, body := get(t, client, upstream.URL+"/test")

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
		assert.Equal(t, "Hello from upstream GET /test", body)
	})

	t.Run("second request - cache hit", func(t *testing.T) {
		resp, body := get(t, client, upstream.URL+"/test")

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
		assert.Equal(t, "Hello from upstream GET /test", body)
	})

	t.Run("hit still refreshes in the background", func(t *testing.T) {
		proxyServer.Registry().Wait()
		assert.Equal(t, int32(2), upstream.hits.Load())
	})

	t.Run("verify cache file exists", func(t *testing.T) {
		upstreamURL, _ := url.Parse(upstream.URL)
		expectedCachePath := filepath.Join(tempDir, "offline-test-v1", "http", upstreamURL.Host, "test", "GET.bin")

		_, err := os.Stat(expectedCachePath)
		assert.NoError(t, err, "cache file should exist at %s", expectedCachePath)
	})
}

func TestProxyServesStaleThenRevalidated(t *testing.T) {
	upstream := fixture_upstream()
	defer upstream.Close()

	proxyServer, proxyTestServer, client, err := fixture_proxy(fixture_config(t.TempDir(), nil))
	require.NoError(t, err)
	defer proxyTestServer.Close()

	_, body := get(t, client, upstream.URL+"/news")
	assert.Equal(t, "Hello from upstream GET /news", body)

	upstream.body.Store("Updated")

	resp, body := get(t, client, upstream.URL+"/news")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, "Hello from upstream GET /news", body)

	proxyServer.Registry().Wait()

	resp, body = get(t, client, upstream.URL+"/news")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, "Updated GET /news", body)
}

func TestProxyOffline(t *testing.T) {
	upstream := fixture_upstream()

	proxyServer, proxyTestServer, client, err := fixture_proxy(fixture_config(t.TempDir(), nil))
	require.NoError(t, err)
	defer proxyTestServer.Close()

	target := upstream.URL + "/offline"
	_, body := get(t, client, target)
	require.Equal(t, "Hello from upstream GET /offline", body)

	upstream.Close()

	t.Run("cached entry masks the network failure", func(t *testing.T) {
		resp, body := get(t, client, target)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
		assert.Equal(t, "Hello from upstream GET /offline", body)
		proxyServer.Registry().Wait()
	})

	t.Run("nothing cached is a bad gateway", func(t *testing.T) {
		resp, _ := get(t, client, upstream.URL+"/never-seen")
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	})
}

func TestProxyBypassesNonGet(t *testing.T) {
	upstream := fixture_upstream()
	defer upstream.Close()

	_, proxyTestServer, client, err := fixture_proxy(fixture_config(t.TempDir(), nil))
	require.NoError(t, err)
	defer proxyTestServer.Close()

	for i := 0; i < 2; i++ {
		resp, err := client.Post(upstream.URL+"/submit", "text/plain", strings.NewReader("payload"))
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("X-Cache"))
		assert.Equal(t, "Hello from upstream POST /submit", string(body))
	}
	assert.Equal(t, int32(2), upstream.hits.Load())
}

func TestProxyCachesErrorStatus(t *testing.T) {
	upstream := fixture_upstream()
	defer upstream.Close()

	proxyServer, proxyTestServer, client, err := fixture_proxy(fixture_config(t.TempDir(), nil))
	require.NoError(t, err)
	defer proxyTestServer.Close()

	resp, _ := get(t, client, upstream.URL+"/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	resp, body := get(t, client, upstream.URL+"/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, "not here", body)

	proxyServer.Registry().Wait()
}

func TestProxyIntegrationWithCustomRules(t *testing.T) {
	upstream := fixture_upstream()
	defer upstream.Close()

	t.Run("whitelist only intercepts matching base URIs", func(t *testing.T) {
		rules := &config.RulesConfig{
			Mode:  "whitelist",
			Rules: []config.CacheRule{{BaseURI: upstream.URL + "/cached"}},
		}
		proxyServer, proxyTestServer, client, err := fixture_proxy(fixture_config(t.TempDir(), rules))
		require.NoError(t, err)
		defer proxyTestServer.Close()

		resp, _ := get(t, client, upstream.URL+"/cached/item")
		assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

		resp, _ = get(t, client, upstream.URL+"/other")
		assert.Empty(t, resp.Header.Get("X-Cache"))

		proxyServer.Registry().Wait()
	})

	t.Run("blacklist forwards matching base URIs", func(t *testing.T) {
		rules := &config.RulesConfig{
			Mode:  "blacklist",
			Rules: []config.CacheRule{{BaseURI: upstream.URL + "/live"}},
		}
		proxyServer, proxyTestServer, client, err := fixture_proxy(fixture_config(t.TempDir(), rules))
		require.NoError(t, err)
		defer proxyTestServer.Close()

		resp, _ := get(t, client, upstream.URL+"/live/feed")
		assert.Empty(t, resp.Header.Get("X-Cache"))

		resp, _ = get(t, client, upstream.URL+"/static/app.js")
		assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

		proxyServer.Registry().Wait()
	})
}

func TestProxyNewVersionUsesNewBucket(t *testing.T) {
	upstream := fixture_upstream()
	defer upstream.Close()

	tempDir := t.TempDir()
	proxyServer, proxyTestServer, client, err := fixture_proxy(fixture_config(tempDir, nil))
	require.NoError(t, err)
	defer proxyTestServer.Close()

	resp, _ := get(t, client, upstream.URL+"/page")
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	require.NoError(t, proxyServer.InstallVersion(context.Background(), "v2"))

	resp, _ = get(t, client, upstream.URL+"/page")
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	upstreamURL, _ := url.Parse(upstream.URL)
	for _, bucket := range []string{"offline-test-v1", "offline-test-v2"} {
		_, err := os.Stat(filepath.Join(tempDir, bucket, "http", upstreamURL.Host, "page", "GET.bin"))
		assert.NoError(t, err, bucket)
	}

	proxyServer.Close()
}
