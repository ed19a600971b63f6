package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/iTrooz/offline-cache-proxy/internal/admin"
	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/metrics"
	"github.com/iTrooz/offline-cache-proxy/internal/swr"
	"github.com/iTrooz/offline-cache-proxy/internal/worker"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Server represents the caching proxy server
type Server struct {
	config   *config.Config
	proxy    *goproxy.ProxyHttpServer
	backend  cache.GenericCache
	registry *worker.Registry
	metrics  *metrics.Metrics
	rules    []Rule
}

// New creates a new proxy server. Call Init before serving requests.
func New(cfg *config.Config) (*Server, error) {
	timeout, err := cfg.GetUpstreamTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid upstream timeout: %w", err)
	}

	backend, err := cache.FromConfig(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache backend: %w", err)
	}
	store := httpcache.New(backend)
	m := metrics.New()

	p := goproxy.NewProxyHttpServer()
	p.Logger = logrus.StandardLogger()
	p.Verbose = logrus.IsLevelEnabled(logrus.TraceLevel)

	fetcher := swr.NewClientFetcher(p.Tr, timeout)

	registry, err := worker.NewRegistry(worker.Options{
		Store: store,
		Build: func(v worker.Version) (*swr.Interceptor, error) {
			return swr.New(swr.Config{
				Bucket:   v.Bucket,
				Store:    store,
				Fetcher:  fetcher,
				Logger:   logrus.WithField("version", v.Tag),
				Observer: m,
			})
		},
		SkipWaiting: cfg.Worker.SkipWaiting,
		OnActivate: func(v worker.Version) {
			m.SetActiveVersion(v.Tag, v.Bucket)
		},
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:   cfg,
		proxy:    p,
		backend:  backend,
		registry: registry,
		metrics:  m,
	}

	for _, rule := range cfg.Rules.Rules {
		s.rules = append(s.rules, &ConfigRule{CacheRule: rule})
	}

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}

	p.OnRequest().DoFunc(s.handleRequest)

	return s, nil
}

// Init prepares the cache backend and installs the configured version
func (s *Server) Init(ctx context.Context) error {
	if err := s.backend.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize cache backend: %w", err)
	}
	return s.InstallVersion(ctx, s.config.Cache.Version)
}

// InstallVersion installs tag under the configured cache name
func (s *Server) InstallVersion(ctx context.Context, tag string) error {
	return s.registry.Install(ctx, worker.Version{
		Tag:    tag,
		Bucket: config.BucketName(s.config.Cache.Name, tag),
	})
}

// GetProxy returns the proxy handler
func (s *Server) GetProxy() http.Handler {
	return s.proxy
}

// Registry returns the version registry
func (s *Server) Registry() *worker.Registry {
	return s.registry
}

// AdminHandler returns the health, status and metrics handler
func (s *Server) AdminHandler() http.Handler {
	return admin.NewHandler(admin.HandlerConfig{
		Registry:  s.registry,
		CacheName: s.config.Cache.Name,
		Metrics:   s.metrics.Handler(),
	})
}

// Start serves until ctx is done, then shuts down and waits for background refreshes
func (s *Server) Start(ctx context.Context) error {
	servers := []*http.Server{{
		Addr:    fmt.Sprintf(":%d", s.config.Server.Port),
		Handler: s.proxy,
	}}
	if s.config.Server.AdminPort != 0 {
		servers = append(servers, &http.Server{
			Addr:    fmt.Sprintf(":%d", s.config.Server.AdminPort),
			Handler: s.AdminHandler(),
		})
	}

	var transparent net.Listener
	if addr := s.config.Server.HTTPS.TransparentAddr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening for transparent https on %s: %w", addr, err)
		}
		transparent = ln
	}

	s.logStartup()

	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logrus.Debugf("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}

	if transparent != nil {
		g.Go(func() error {
			return s.serveTransparentHTTPS(gctx, transparent)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logrus.Errorf("Failed to shut down %s: %v", srv.Addr, err)
			}
		}
		if transparent != nil {
			_ = transparent.Close()
		}

		s.Close()
		return nil
	})

	return g.Wait()
}

// logStartup reports the settings in effect; the bucket comes from the registry
// since versions can change after the config was loaded.
func (s *Server) logStartup() {
	logrus.Infof("Starting caching proxy on port %d", s.config.Server.Port)
	logrus.Infof("Cache backend: %s", s.config.Cache.Backend)
	if active, ok := s.registry.Active(); ok {
		logrus.Infof("Active version: %s (bucket %s)", active.Tag, active.Bucket)
	} else {
		logrus.Warnf("No active version, requests are forwarded uncached")
	}
	logrus.Infof("Rules mode: %s", s.config.Rules.Mode)
}

// Close stops intercepting, waits for background refreshes and releases the cache backend
func (s *Server) Close() {
	s.registry.Close()
	if closer, ok := s.backend.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logrus.Errorf("Failed to close cache backend: %v", err)
		}
	}
}
