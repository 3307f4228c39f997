package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Database     DatabaseConfig     `koanf:"database"`
	Log          LogConfig          `koanf:"log"`
	Auth         AuthConfig         `koanf:"auth"`
	Catalog      CatalogConfig      `koanf:"catalog"`
	Provisioning ProvisioningConfig `koanf:"provisioning"`
	Propagation  PropagationConfig  `koanf:"propagation"`
	Cache        CacheConfig        `koanf:"cache"`
	Crypto       CryptoConfig       `koanf:"crypto"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Audit        AuditConfig        `koanf:"audit"`
}

type AuthConfig struct {
	DevMode bool      `koanf:"devmode"`
	JWT     JWTConfig `koanf:"jwt"`
}

type JWTConfig struct {
	SigningKey  string `koanf:"signingkey"`
	Issuer      string `koanf:"issuer"`
	ExpiryHours int    `koanf:"expiryhours"`
}

type ServerConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type DatabaseConfig struct {
	URL            string `koanf:"url"`
	MigrationsPath string `koanf:"migrations_path"`
	MaxConns       int    `koanf:"max_conns"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CatalogConfig points at a permission catalog file. An empty path loads
// the catalog compiled into the binary.
type CatalogConfig struct {
	Path string `koanf:"path"`
}

type ProvisioningConfig struct {
	TemplateStore string `koanf:"template_store"`
	SuperRole     string `koanf:"super_role"`
}

type PropagationConfig struct {
	Concurrency int `koanf:"concurrency"`
}

type CacheConfig struct {
	Driver  string      `koanf:"driver"`
	TTLSecs int         `koanf:"ttl_secs"`
	Redis   RedisConfig `koanf:"redis"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

type CryptoConfig struct {
	FieldKey string `koanf:"field_key"`
}

type TelemetryConfig struct {
	MetricsEnabled bool          `koanf:"metrics_enabled"`
	Tracing        TracingConfig `koanf:"tracing"`
}

type TracingConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	SampleRate float64 `koanf:"sample_rate"`
}

type AuditConfig struct {
	BufferSize        int `koanf:"buffer_size"`
	BatchSize         int `koanf:"batch_size"`
	FlushIntervalSecs int `koanf:"flush_interval_secs"`
}

func (c AuditConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSecs) * time.Second
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("cache.driver must be memory, redis or none, got %q", c.Cache.Driver)
	}
	if c.Cache.Driver == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required with the redis driver")
	}
	if c.Propagation.Concurrency < 1 {
		return fmt.Errorf("propagation.concurrency must be >= 1")
	}
	if !c.Auth.DevMode && c.Auth.JWT.SigningKey == "" {
		return fmt.Errorf("auth.jwt.signingkey is required outside dev mode")
	}
	return nil
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":                   8080,
		"server.host":                   "0.0.0.0",
		"database.max_conns":            25,
		"database.migrations_path":      "migrations",
		"log.level":                     "info",
		"log.format":                    "json",
		"auth.devmode":                  false,
		"auth.jwt.issuer":               "haven",
		"auth.jwt.expiryhours":          24,
		"provisioning.template_store":   "template",
		"provisioning.super_role":       "Super Admin",
		"propagation.concurrency":       8,
		"cache.driver":                  "memory",
		"cache.ttl_secs":                300,
		"cache.redis.addr":              "localhost:6379",
		"cache.redis.key_prefix":        "haven:limits:",
		"telemetry.metrics_enabled":     true,
		"telemetry.tracing.enabled":     false,
		"telemetry.tracing.sample_rate": 1.0,
		"audit.buffer_size":             1024,
		"audit.batch_size":              50,
		"audit.flush_interval_secs":     1,
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// Config file is optional, skip if not found
			continue
		}
	}

	// Environment variables override everything. Section names are single
	// words, so only the first underscore separates section from key:
	// HAVEN_CACHE_TTL_SECS -> cache.ttl_secs
	// HAVEN_CACHE_REDIS_ADDR -> cache.redis.addr
	_ = k.Load(env.Provider("HAVEN_", ".", envKey), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// nested lists the sub-sections whose keys are addressed one level deeper.
var nested = map[string][]string{
	"auth":      {"jwt"},
	"cache":     {"redis"},
	"telemetry": {"tracing"},
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, "HAVEN_"))
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	for _, sub := range nested[section] {
		if field, found := strings.CutPrefix(rest, sub+"_"); found {
			return section + "." + sub + "." + field
		}
	}
	return section + "." + rest
}
