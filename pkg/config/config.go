// Package config loads application configuration from the environment,
// following the same LoadConfigFromEnv/Validate shape used by
// pkg/database for its connection settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every balancer-wide setting read from the environment.
type Config struct {
	APIBaseDomain string

	NodeProtocol      string
	NodeDefaultDomain string
	NodeBBBEndpoint   string
	NodeLoadEndpoint  string
	NodeRequestTimeout time.Duration

	AllowedSHAAlgorithms []string

	CacheNMLPattern string
	CacheNMLTimeout time.Duration

	RecordStorage string // local|s3|default

	S3AccessKey   string
	S3SecretKey   string
	S3EndpointURL string
	S3BucketName  string
	S3URLProtocol string

	RecordPathHierarchyWidth int
	RecordPathHierarchyDepth int
	RecordMetaDataTag        string
	Rendering                bool

	PollInterval        time.Duration
	RetentionInterval   time.Duration
	RenderPollInterval  time.Duration
	OrphanSweepInterval time.Duration

	HTTPPort string
	GinMode  string
	LogFormat string
}

// LoadConfigFromEnv builds a Config from the process environment, applying
// production-ready defaults for every setting that isn't required.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		APIBaseDomain:      getEnvOrDefault("API_BASE_DOMAIN", "example.com"),
		NodeProtocol:       getEnvOrDefault("NODE_PROTOCOL", "https"),
		NodeDefaultDomain:  getEnvOrDefault("NODE_DEFAULT_DOMAIN", ""),
		NodeBBBEndpoint:    getEnvOrDefault("NODE_BBB_ENDPOINT", "/bigbluebutton/api"),
		NodeLoadEndpoint:   getEnvOrDefault("NODE_LOAD_ENDPOINT", "/b3lb/load"),
		CacheNMLPattern:    getEnvOrDefault("CACHE_NML_PATTERN", "NML#%s"),
		RecordStorage:      getEnvOrDefault("RECORD_STORAGE", "local"),
		S3AccessKey:        os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:        os.Getenv("S3_SECRET_KEY"),
		S3EndpointURL:      os.Getenv("S3_ENDPOINT_URL"),
		S3BucketName:       os.Getenv("S3_BUCKET_NAME"),
		S3URLProtocol:      getEnvOrDefault("S3_URL_PROTOCOL", "https"),
		RecordMetaDataTag:  getEnvOrDefault("RECORD_META_DATA_TAG", "recording"),
		HTTPPort:           getEnvOrDefault("HTTP_PORT", "8080"),
		GinMode:            getEnvOrDefault("GIN_MODE", "release"),
		LogFormat:          getEnvOrDefault("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.NodeRequestTimeout, err = parseDuration("NODE_REQUEST_TIMEOUT", "5s"); err != nil {
		return cfg, err
	}
	if cfg.CacheNMLTimeout, err = parseDuration("CACHE_NML_TIMEOUT", "30s"); err != nil {
		return cfg, err
	}
	if cfg.PollInterval, err = parseDuration("NODE_POLL_INTERVAL", "5s"); err != nil {
		return cfg, err
	}
	if cfg.RetentionInterval, err = parseDuration("RETENTION_INTERVAL", "1h"); err != nil {
		return cfg, err
	}
	if cfg.RenderPollInterval, err = parseDuration("RENDER_POLL_INTERVAL", "5s"); err != nil {
		return cfg, err
	}
	if cfg.OrphanSweepInterval, err = parseDuration("ORPHAN_SWEEP_INTERVAL", "6h"); err != nil {
		return cfg, err
	}

	algos := getEnvOrDefault("ALLOWED_SHA_ALGORITHMS", "sha1,sha256,sha384,sha512")
	for _, a := range strings.Split(algos, ",") {
		a = strings.TrimSpace(strings.ToLower(a))
		if a != "" {
			cfg.AllowedSHAAlgorithms = append(cfg.AllowedSHAAlgorithms, a)
		}
	}

	cfg.RecordPathHierarchyWidth, err = getEnvIntOrDefault("RECORD_PATH_HIERARCHY_WIDTH", 2)
	if err != nil {
		return cfg, err
	}
	cfg.RecordPathHierarchyDepth, err = getEnvIntOrDefault("RECORD_PATH_HIERARCHY_DEPTH", 3)
	if err != nil {
		return cfg, err
	}
	cfg.Rendering = getEnvOrDefault("RENDERING", "true") == "true"

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the invariants that would otherwise surface as obscure
// runtime failures (a path hierarchy that can't pack a UUID's bits, an
// unsupported storage backend, no allowed signing algorithms).
func (c Config) Validate() error {
	if c.APIBaseDomain == "" {
		return fmt.Errorf("API_BASE_DOMAIN is required")
	}
	if c.RecordPathHierarchyWidth*c.RecordPathHierarchyDepth >= 26 {
		return fmt.Errorf("RECORD_PATH_HIERARCHY_WIDTH * RECORD_PATH_HIERARCHY_DEPTH must be < 26, got %d", c.RecordPathHierarchyWidth*c.RecordPathHierarchyDepth)
	}
	switch c.RecordStorage {
	case "local", "s3", "default":
	default:
		return fmt.Errorf("RECORD_STORAGE must be one of local|s3|default, got %q", c.RecordStorage)
	}
	if c.RecordStorage == "s3" {
		if c.S3BucketName == "" {
			return fmt.Errorf("S3_BUCKET_NAME is required when RECORD_STORAGE=s3")
		}
	}
	if len(c.AllowedSHAAlgorithms) == 0 {
		return fmt.Errorf("ALLOWED_SHA_ALGORITHMS must list at least one algorithm")
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	v := getEnvOrDefault(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}
