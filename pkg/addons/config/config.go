package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/tendant/simple-addons/pkg/addons"
)

// Option applies configuration to a Config instance.
type Option func(*Config) error

// Load constructs a Config by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*Config, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() Config {
	return Config{
		Port:                  "8080",
		Environment:           "development",
		DBSchema:              "public",
		UploadStorageURL:      "memory://",
		CacheStorageURL:       "memory://",
		SiteRoot:              "http://localhost:8080/",
		ImageDedupLimit:       addons.DefaultDedupLimit,
		CacheProtectedPattern: addons.DefaultProtectedCachePattern,
		FileDeleteDelay:       24 * time.Hour,
		S3:                    S3Config{Region: "us-east-1"},
	}
}

// Config represents the configuration of the add-on service
type Config struct {
	Port        string `env:"PORT" env-description:"HTTP listen port"`
	Environment string `env:"ENVIRONMENT" env-description:"development, production or testing"`

	// Database configuration. An empty URL or "memory" selects the in-memory repository.
	DatabaseURL string `env:"DATABASE_URL" env-description:"memory or a postgres:// connection string"`
	DBSchema    string `env:"ADDONS_DB_SCHEMA" env-description:"Postgres search_path"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" env-description:"apply schema migrations on startup"`

	// Storage roots: memory://, file:///path or s3://bucket/prefix
	UploadStorageURL string `env:"UPLOAD_STORAGE_URL" env-description:"upload root"`
	CacheStorageURL  string `env:"CACHE_STORAGE_URL" env-description:"cache root"`
	S3               S3Config

	// Public addresses
	SiteRoot        string `env:"SITE_ROOT" env-description:"public site root, with trailing slash"`
	DownloadBaseURL string `env:"DOWNLOAD_BASE_URL" env-description:"public base of the upload root"`
	CacheBaseURL    string `env:"CACHE_BASE_URL" env-description:"public base of the cache root"`

	ImageDedupLimit       int           `env:"IMAGE_DEDUP_LIMIT" env-description:"existing images compared per upload"`
	CacheProtectedPattern string        `env:"CACHE_PROTECTED_PATTERN" env-description:"regexp of cache files kept by a full clear"`
	FileDeleteDelay       time.Duration `env:"FILE_DELETE_DELAY" env-description:"delay before queued files are removed"`

	JWTSecret string `env:"JWT_SECRET" env-description:"HS256 secret of bearer tokens"`
}

// S3Config holds credentials shared by every s3:// storage root
type S3Config struct {
	Region                 string `env:"S3_REGION"`
	AccessKeyID            string `env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey        string `env:"S3_SECRET_ACCESS_KEY"`
	Endpoint               string `env:"S3_ENDPOINT"`
	UsePathStyle           bool   `env:"S3_USE_PATH_STYLE"`
	EnableSSE              bool   `env:"S3_ENABLE_SSE"`
	SSEAlgorithm           string `env:"S3_SSE_ALGORITHM"`
	SSEKMSKeyID            string `env:"S3_SSE_KMS_KEY_ID"`
	CreateBucketIfNotExist bool   `env:"S3_CREATE_BUCKET_IF_NOT_EXIST"`
}

// UsesPostgres reports whether the postgres repository is selected
func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	switch c.Environment {
	case "development", "production", "testing":
	default:
		return fmt.Errorf("environment must be development, production or testing, got: %s", c.Environment)
	}
	if c.DatabaseURL != "" && c.DatabaseURL != "memory" && !c.UsesPostgres() {
		return fmt.Errorf("unsupported DATABASE_URL format (use 'memory' or 'postgresql://...')")
	}
	if _, err := ParseStorageURL(c.UploadStorageURL); err != nil {
		return fmt.Errorf("upload storage: %w", err)
	}
	if _, err := ParseStorageURL(c.CacheStorageURL); err != nil {
		return fmt.Errorf("cache storage: %w", err)
	}
	if c.ImageDedupLimit <= 0 {
		return fmt.Errorf("image dedup limit must be positive, got: %d", c.ImageDedupLimit)
	}
	if _, err := regexp.Compile(c.CacheProtectedPattern); err != nil {
		return fmt.Errorf("invalid cache protected pattern: %w", err)
	}
	if c.FileDeleteDelay < 0 {
		return fmt.Errorf("file delete delay cannot be negative")
	}
	if c.Environment == "production" {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT secret is required in production")
		}
		if !c.UsesPostgres() {
			return fmt.Errorf("a postgres database is required in production")
		}
	}
	return nil
}

// StorageURL is a parsed storage root location
type StorageURL struct {
	Scheme string // memory, file or s3
	Path   string // directory for file, bucket for s3
	Prefix string // key prefix for s3
}

// ParseStorageURL parses memory://, file:///path and s3://bucket[/prefix]
func ParseStorageURL(raw string) (StorageURL, error) {
	if raw == "" || raw == "memory" {
		return StorageURL{Scheme: "memory"}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return StorageURL{}, fmt.Errorf("invalid storage URL %q: %w", raw, err)
	}
	switch u.Scheme {
	case "memory":
		return StorageURL{Scheme: "memory"}, nil
	case "file":
		if u.Path == "" {
			return StorageURL{}, fmt.Errorf("filesystem path cannot be empty in %q", raw)
		}
		return StorageURL{Scheme: "file", Path: u.Path}, nil
	case "s3":
		if u.Host == "" {
			return StorageURL{}, fmt.Errorf("bucket cannot be empty in %q", raw)
		}
		return StorageURL{Scheme: "s3", Path: u.Host, Prefix: strings.Trim(u.Path, "/")}, nil
	}
	return StorageURL{}, fmt.Errorf("unsupported storage URL %q (use 'memory://', 'file://...', or 's3://...')", raw)
}
