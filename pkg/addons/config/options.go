package config

import (
	"fmt"
	"io"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv overrides settings from the process environment. Unset variables
// keep the value already in the config.
func WithEnv() Option {
	return func(c *Config) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
		return nil
	}
}

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *Config) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithDatabaseURL selects the repository: "memory" or a postgres URL
func WithDatabaseURL(url string) Option {
	return func(c *Config) error {
		c.DatabaseURL = url
		return nil
	}
}

// WithStorage sets the upload and cache storage roots
func WithStorage(uploadURL, cacheURL string) Option {
	return func(c *Config) error {
		c.UploadStorageURL = uploadURL
		c.CacheStorageURL = cacheURL
		return nil
	}
}

// WithPublicURLs sets the site root and the public bases of uploads and cache files
func WithPublicURLs(siteRoot, downloadBase, cacheBase string) Option {
	return func(c *Config) error {
		c.SiteRoot = siteRoot
		c.DownloadBaseURL = downloadBase
		c.CacheBaseURL = cacheBase
		return nil
	}
}

// WithJWTSecret sets the bearer token secret
func WithJWTSecret(secret string) Option {
	return func(c *Config) error {
		c.JWTSecret = secret
		return nil
	}
}

// Usage writes the recognized environment variables to w
func Usage(w io.Writer) {
	var cfg Config
	cleanenv.FUsage(w, &cfg, nil)()
}
