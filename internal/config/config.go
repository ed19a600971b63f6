package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `koanf:"server" yaml:"server"`
	Cache    CacheConfig    `koanf:"cache" yaml:"cache"`
	Worker   WorkerConfig   `koanf:"worker" yaml:"worker"`
	Upstream UpstreamConfig `koanf:"upstream" yaml:"upstream"`
	Rules    RulesConfig    `koanf:"rules" yaml:"rules"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port int `koanf:"port" yaml:"port"`
	// AdminPort serves health, status and metrics. 0 disables it.
	AdminPort int         `koanf:"admin_port" yaml:"admin_port"`
	HTTPS     HTTPSConfig `koanf:"https" yaml:"https"`
}

// HTTPSConfig controls TLS interception of CONNECT tunnels
type HTTPSConfig struct {
	Enabled    bool   `koanf:"enabled" yaml:"enabled"`
	CACertFile string `koanf:"ca_cert_file" yaml:"ca_cert_file"`
	CAKeyFile  string `koanf:"ca_key_file" yaml:"ca_key_file"`
	// TransparentAddr, when set, accepts raw TLS connections and routes them by SNI.
	TransparentAddr string `koanf:"transparent_addr" yaml:"transparent_addr"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	// Name and Version together form the bucket identifier, e.g. "narrator-v1".
	Name          string   `koanf:"name" yaml:"name"`
	Version       string   `koanf:"version" yaml:"version"`
	Backend       string   `koanf:"backend" yaml:"backend"`
	Folder        string   `koanf:"folder" yaml:"folder"`
	SQLiteFile    string   `koanf:"sqlite_file" yaml:"sqlite_file"`
	MemcacheAddrs []string `koanf:"memcache_addrs" yaml:"memcache_addrs"`
	S3            S3Config `koanf:"s3" yaml:"s3"`
}

// S3Config points the s3 backend at an object store
type S3Config struct {
	Endpoint  string `koanf:"endpoint" yaml:"endpoint"`
	Bucket    string `koanf:"bucket" yaml:"bucket"`
	AccessKey string `koanf:"access_key" yaml:"access_key"`
	SecretKey string `koanf:"secret_key" yaml:"secret_key"`
	UseSSL    bool   `koanf:"use_ssl" yaml:"use_ssl"`
}

// WorkerConfig contains version lifecycle configuration
type WorkerConfig struct {
	SkipWaiting bool `koanf:"skip_waiting" yaml:"skip_waiting"`
}

// UpstreamConfig contains settings for network fetches
type UpstreamConfig struct {
	// Timeout bounds each network fetch. Empty or zero means no timeout.
	Timeout string `koanf:"timeout" yaml:"timeout"`
}

// RulesConfig selects which requests get intercepted
type RulesConfig struct {
	Mode  string      `koanf:"mode" yaml:"mode"` // "whitelist" or "blacklist"
	Rules []CacheRule `koanf:"rules" yaml:"rules"`
}

// CacheRule defines an interception rule
type CacheRule struct {
	BaseURI string `koanf:"base_uri" yaml:"base_uri"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level string `koanf:"level" yaml:"level"`
}

const (
	BackendDisk     = "disk"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendMemcache = "memcache"
	BackendS3       = "s3"
)

// Default returns the configuration used for every key the file leaves out
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080, AdminPort: 9090},
		Cache: CacheConfig{
			Name:          "offline",
			Version:       "v1",
			Backend:       BackendDisk,
			Folder:        "./cache",
			SQLiteFile:    "./cache.db",
			MemcacheAddrs: []string{"127.0.0.1:11211"},
			S3:            S3Config{UseSSL: true},
		},
		Worker:   WorkerConfig{SkipWaiting: true},
		Upstream: UpstreamConfig{Timeout: "0s"},
		Rules:    RulesConfig{Mode: "blacklist"},
		Log:      LogConfig{Level: "info"},
	}
}

// Load loads configuration from a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	return &config, nil
}

// BucketName returns the cache bucket identifier for the configured version
func (c *Config) BucketName() string {
	return BucketName(c.Cache.Name, c.Cache.Version)
}

// BucketName joins a cache name and a version tag
func BucketName(name, version string) string {
	return name + "-" + version
}

// GetUpstreamTimeout parses and returns the network fetch timeout, 0 when unset
func (c *Config) GetUpstreamTimeout() (time.Duration, error) {
	if c.Upstream.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Upstream.Timeout)
}

// GetLogLevel parses and returns the log level
func (c *Config) GetLogLevel() (logrus.Level, error) {
	return logrus.ParseLevel(c.Log.Level)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.AdminPort < 0 || c.Server.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", c.Server.AdminPort)
	}

	if c.Server.HTTPS.Enabled && (c.Server.HTTPS.CACertFile == "") != (c.Server.HTTPS.CAKeyFile == "") {
		return fmt.Errorf("https ca_cert_file and ca_key_file must be set together")
	}

	if c.Cache.Name == "" {
		return fmt.Errorf("cache name is required")
	}

	if c.Cache.Version == "" {
		return fmt.Errorf("cache version is required")
	}

	switch c.Cache.Backend {
	case BackendDisk:
		if c.Cache.Folder == "" {
			return fmt.Errorf("cache folder is required")
		}
	case BackendMemory:
	case BackendSQLite:
		if c.Cache.SQLiteFile == "" {
			return fmt.Errorf("cache sqlite_file is required")
		}
	case BackendMemcache:
		if len(c.Cache.MemcacheAddrs) == 0 {
			return fmt.Errorf("cache memcache_addrs is required")
		}
	case BackendS3:
		if c.Cache.S3.Endpoint == "" || c.Cache.S3.Bucket == "" {
			return fmt.Errorf("cache s3 endpoint and bucket are required")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s", c.Cache.Backend)
	}

	timeout, err := c.GetUpstreamTimeout()
	if err != nil {
		return fmt.Errorf("invalid upstream timeout format: %w", err)
	}
	if timeout < 0 {
		return fmt.Errorf("upstream timeout must not be negative, got: %s", c.Upstream.Timeout)
	}

	if c.Rules.Mode != "whitelist" && c.Rules.Mode != "blacklist" {
		return fmt.Errorf("rules mode must be 'whitelist' or 'blacklist', got: %s", c.Rules.Mode)
	}

	if _, err := c.GetLogLevel(); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return nil
}
