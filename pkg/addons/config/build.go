package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/go-chi/jwtauth"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-addons/pkg/addons"
	"github.com/tendant/simple-addons/pkg/addons/auth"
	"github.com/tendant/simple-addons/pkg/addons/files"
	"github.com/tendant/simple-addons/pkg/addons/repo/memory"
	repopg "github.com/tendant/simple-addons/pkg/addons/repo/postgres"
	fsstorage "github.com/tendant/simple-addons/pkg/addons/storage/fs"
	memorystorage "github.com/tendant/simple-addons/pkg/addons/storage/memory"
	s3storage "github.com/tendant/simple-addons/pkg/addons/storage/s3"
)

// Service bundles the components built from a Config
type Service struct {
	Store     *addons.Store
	Cache     *addons.CacheRegistry
	Files     *files.Storage
	Repo      addons.Repository
	TokenAuth *jwtauth.JWTAuth

	pool *pgxpool.Pool
}

// Close releases the database pool, if any
func (s *Service) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// BuildService wires the repository, storage roots, file storage, cache
// registry and store. Permissions come from verified bearer tokens.
func (c *Config) BuildService(ctx context.Context, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{}

	repo, pool, err := c.buildRepository(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	svc.Repo, svc.pool = repo, pool

	uploads, err := c.buildBlobStore(ctx, c.UploadStorageURL)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to build upload storage: %w", err)
	}
	cacheBlobs, err := c.buildBlobStore(ctx, c.CacheStorageURL)
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("failed to build cache storage: %w", err)
	}

	svc.Files = files.New(repo.Files(), uploads,
		files.WithDeleteDelay(c.FileDeleteDelay),
		files.WithLogger(logger))

	svc.Cache, err = addons.NewCacheRegistry(repo, cacheBlobs,
		addons.WithCacheURLs(c.SiteRoot, c.DownloadBaseURL, c.CacheBaseURL),
		addons.WithProtectedPattern(regexp.MustCompile(c.CacheProtectedPattern)),
		addons.WithCacheLogger(logger))
	if err != nil {
		svc.Close()
		return nil, err
	}

	svc.Store, err = addons.New(
		addons.WithRepository(repo),
		addons.WithPermissions(auth.JWTPermissions{}),
		addons.WithFileStorage(svc.Files),
		addons.WithCacheRegistry(svc.Cache),
		addons.WithDeduplicator(addons.NewImageDeduplicator(repo.Files(), svc.Files, c.ImageDedupLimit, logger)),
		addons.WithNotifier(addons.NewLoggingNotifier(logger)),
		addons.WithAuditLog(addons.NewLoggingAuditLog(logger)),
		addons.WithLogger(logger),
		addons.WithSiteRoot(c.SiteRoot),
	)
	if err != nil {
		svc.Close()
		return nil, err
	}

	if c.JWTSecret != "" {
		svc.TokenAuth = auth.NewTokenAuth(c.JWTSecret)
	}
	return svc, nil
}

// buildRepository creates a Repository based on the configuration
func (c *Config) buildRepository(ctx context.Context) (addons.Repository, *pgxpool.Pool, error) {
	if !c.UsesPostgres() {
		return memory.New(), nil, nil
	}
	pool, err := NewPool(ctx, c.DatabaseURL, c.DBSchema)
	if err != nil {
		return nil, nil, err
	}
	if c.AutoMigrate {
		if err := repopg.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return repopg.NewWithPool(pool), pool, nil
}

// NewPool connects to Postgres, setting search_path to schema on every connection.
func NewPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// buildBlobStore creates a BlobStore for a storage URL
func (c *Config) buildBlobStore(ctx context.Context, raw string) (addons.BlobStore, error) {
	loc, err := ParseStorageURL(raw)
	if err != nil {
		return nil, err
	}
	switch loc.Scheme {
	case "memory":
		return memorystorage.New(), nil
	case "file":
		return fsstorage.New(fsstorage.Config{BaseDir: loc.Path})
	case "s3":
		backend, err := s3storage.New(s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 loc.Path,
			Prefix:                 loc.Prefix,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			EnableSSE:              c.S3.EnableSSE,
			SSEAlgorithm:           c.S3.SSEAlgorithm,
			SSEKMSKeyID:            c.S3.SSEKMSKeyID,
			CreateBucketIfNotExist: c.S3.CreateBucketIfNotExist,
		})
		if err != nil {
			return nil, err
		}
		if err := backend.EnsureRoot(ctx); err != nil {
			return nil, err
		}
		return backend, nil
	}
	return nil, fmt.Errorf("unsupported storage scheme: %s", loc.Scheme)
}
