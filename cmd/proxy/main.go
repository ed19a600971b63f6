package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/proxy"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "log level, overrides log.level from the configuration")
	flag.Parse()

	cfg, err := loadConfig(*configPath, *logLevel)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := proxy.New(cfg)
	if err != nil {
		logrus.Fatalf("Failed to create proxy server: %v", err)
	}

	if err := server.Init(ctx); err != nil {
		logrus.Fatalf("Failed to initialize proxy server: %v", err)
	}

	r := newReloader(server, cfg, *logLevel)
	stopWatch, err := config.Watch(*configPath, func(next *config.Config) {
		r.apply(ctx, next)
	})
	if err != nil {
		logrus.Warnf("Config hot reload disabled: %v", err)
	} else {
		defer stopWatch()
	}

	if err := server.Start(ctx); err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}
}

// loadConfig loads and validates path, applying the -log-level override
func loadConfig(path, logLevel string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := cfg.GetLogLevel()
	if err != nil {
		logrus.Warnf("Invalid log level %q, keeping %s", cfg.Log.Level, logrus.GetLevel())
		return
	}
	logrus.SetLevel(level)
}

type versionInstaller interface {
	InstallVersion(ctx context.Context, tag string) error
}

// reloader applies config file changes that can take effect without a restart:
// the log level and the cache version.
type reloader struct {
	server        versionInstaller
	levelOverride string

	mu      sync.Mutex
	name    string
	version string
}

func newReloader(server versionInstaller, cfg *config.Config, levelOverride string) *reloader {
	return &reloader{
		server:        server,
		levelOverride: levelOverride,
		name:          cfg.Cache.Name,
		version:       cfg.Cache.Version,
	}
}

func (r *reloader) apply(ctx context.Context, next *config.Config) {
	if r.levelOverride == "" {
		setupLogging(next)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if next.Cache.Name != r.name {
		logrus.Warnf("Changing cache.name from %q to %q requires a restart", r.name, next.Cache.Name)
	}
	if next.Cache.Version == r.version {
		return
	}

	logrus.Infof("Cache version changed from %s to %s, installing", r.version, next.Cache.Version)
	if err := r.server.InstallVersion(ctx, next.Cache.Version); err != nil {
		logrus.Errorf("Failed to install version %s: %v", next.Cache.Version, err)
		return
	}
	r.version = next.Cache.Version
}
