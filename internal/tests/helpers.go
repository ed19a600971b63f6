package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/proxy"
)

// upstream is a test origin that counts the requests it answers
type upstream struct {
	*httptest.Server
	hits atomic.Int32
	body atomic.Value
}

// fixture_upstream creates a test upstream server answering with the current body
func fixture_upstream() *upstream {
	u := &upstream{}
	u.body.Store("Hello from upstream")
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		u.hits.Add(1)
		switch requ.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("not here"))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(u.body.Load().(string) + " " + requ.Method + " " + requ.URL.Path))
	}))
	return u
}

// fixture_config creates a test config with optional rules
func fixture_config(tempDir string, rules *config.RulesConfig) *config.Config {
	cfg := config.Default()
	cfg.Cache.Name = "offline-test"
	cfg.Cache.Folder = tempDir
	cfg.Upstream.Timeout = "5s"

	if rules != nil {
		cfg.Rules = *rules
	}

	return &cfg
}

// fixture_proxy creates an initialized proxy server and returns the server, test server, and HTTP client
func fixture_proxy(cfg *config.Config) (*proxy.Server, *httptest.Server, *http.Client, error) {
	proxyServer, err := proxy.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := proxyServer.Init(context.Background()); err != nil {
		return nil, nil, nil, err
	}

	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
		Timeout: 10 * time.Second,
	}

	return proxyServer, proxyTestServer, client, nil
}
