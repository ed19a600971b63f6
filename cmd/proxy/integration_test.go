package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/proxy"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestProxyIntegration(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message": "Hello from upstream", "path": "` + r.URL.Path + `"}`))
	}))
	defer upstream.Close()

	tempDir := t.TempDir()
	configPath := writeConfig(t, tempDir, fmt.Sprintf(`
cache:
  name: narrator
  version: v3
  backend: sqlite
  sqlite_file: %s
rules:
  mode: whitelist
  rules:
    - base_uri: %s
`, filepath.Join(tempDir, "cache.db"), upstream.URL))

	cfg, err := loadConfig(configPath, "")
	require.NoError(t, err)

	proxyServer, err := proxy.New(cfg)
	require.NoError(t, err)
	require.NoError(t, proxyServer.Init(context.Background()))
	defer proxyServer.Close()

	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())
	defer proxyTestServer.Close()

	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		Timeout:   10 * time.Second,
	}

	for _, want := range []string{"MISS", "HIT"} {
		resp, err := client.Get(upstream.URL + "/test")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, want, resp.Header.Get("X-Cache"))
		assert.Contains(t, string(body), "Hello from upstream")
	}

	active, ok := proxyServer.Registry().Active()
	require.True(t, ok)
	assert.Equal(t, "narrator-v3", active.Bucket)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	path := writeConfig(t, dir, "log:\n  level: warn\n")
	cfg, err := loadConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)

	cfg, err = loadConfig(path, "debug")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)

	_, err = loadConfig(path, "loud")
	assert.Error(t, err)

	_, err = loadConfig(filepath.Join(dir, "missing.yaml"), "")
	assert.Error(t, err)
}

type recordingInstaller struct {
	mu       sync.Mutex
	versions []string
	err      error
}

func (r *recordingInstaller) InstallVersion(_ context.Context, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.versions = append(r.versions, tag)
	return nil
}

func TestReloaderInstallsChangedVersion(t *testing.T) {
	initial := config.Default()
	installer := &recordingInstaller{}
	r := newReloader(installer, &initial, "info")

	same := config.Default()
	r.apply(context.Background(), &same)
	assert.Empty(t, installer.versions)

	next := config.Default()
	next.Cache.Version = "v2"
	r.apply(context.Background(), &next)
	r.apply(context.Background(), &next)
	assert.Equal(t, []string{"v2"}, installer.versions)
}

func TestReloaderRetriesFailedInstall(t *testing.T) {
	initial := config.Default()
	installer := &recordingInstaller{err: assert.AnError}
	r := newReloader(installer, &initial, "info")

	next := config.Default()
	next.Cache.Version = "v2"
	r.apply(context.Background(), &next)
	assert.Empty(t, installer.versions)

	installer.err = nil
	r.apply(context.Background(), &next)
	assert.Equal(t, []string{"v2"}, installer.versions)
}

func TestReloaderUpdatesLogLevel(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())

	initial := config.Default()
	r := newReloader(&recordingInstaller{}, &initial, "")

	next := config.Default()
	next.Log.Level = "error"
	r.apply(context.Background(), &next)
	assert.Equal(t, logrus.ErrorLevel, logrus.GetLevel())
}
