package addons

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
)

// DefaultProtectedCachePattern matches cache files that survive Clear.
const DefaultProtectedCachePattern = `(?i)^(cache_graph_.*\.png)$`

// SizeVariant names a derived image size.
type SizeVariant string

// Size variants
const (
	SizeOriginal SizeVariant = ""
	SizeBig      SizeVariant = "big"
	SizeMedium   SizeVariant = "medium"
	SizeSmall    SizeVariant = "small"
)

// Prefix returns the cache filename prefix of the variant.
func (v SizeVariant) Prefix() string {
	switch v {
	case SizeBig:
		return "300--"
	case SizeMedium:
		return "75--"
	case SizeSmall:
		return "25--"
	}
	return ""
}

// ImageURL is the resolved address of an image file.
type ImageURL struct {
	URL      string `json:"url"`
	Approved bool   `json:"approved"`
	Exists   bool   `json:"exists"`
}

// CacheRegistry indexes derived files kept under the cache root and resolves
// image URLs against it.
type CacheRegistry struct {
	repo         Repository
	blobs        BlobStore
	siteRoot     string
	downloadBase string
	cacheBase    string
	protected    *regexp.Regexp
	logger       *slog.Logger
}

// CacheOption configures a CacheRegistry.
type CacheOption func(*CacheRegistry)

// WithCacheURLs sets the site root and the public bases of uploads and cache files
func WithCacheURLs(siteRoot, downloadBase, cacheBase string) CacheOption {
	return func(c *CacheRegistry) {
		c.siteRoot = siteRoot
		c.downloadBase = downloadBase
		c.cacheBase = cacheBase
	}
}

// WithProtectedPattern sets the pattern of file names Clear keeps
func WithProtectedPattern(re *regexp.Regexp) CacheOption {
	return func(c *CacheRegistry) {
		c.protected = re
	}
}

// WithCacheLogger sets the logger of the registry
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *CacheRegistry) {
		c.logger = logger
	}
}

// NewCacheRegistry creates a registry over the cache index in repo and the
// cache files in blobs.
func NewCacheRegistry(repo Repository, blobs BlobStore, opts ...CacheOption) (*CacheRegistry, error) {
	c := &CacheRegistry{
		repo:      repo,
		blobs:     blobs,
		protected: regexp.MustCompile(DefaultProtectedCachePattern),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if c.blobs == nil {
		return nil, fmt.Errorf("cache blob store is required")
	}
	return c, nil
}

// IsProtected reports whether the cache file at p survives Clear.
func (c *CacheRegistry) IsProtected(p string) bool {
	return c.protected != nil && c.protected.MatchString(path.Base(p))
}

// CreateFile registers a cache file. The entry is global when addonID does
// not name an existing add-on.
func (c *CacheRegistry) CreateFile(ctx context.Context, p, addonID, props string) error {
	const op = "create cache file"
	entry := &CacheEntry{Path: p, Props: props}
	if id, ok := CleanID(addonID); ok {
		exists, err := c.repo.Addons().Exists(ctx, id)
		if err != nil {
			return newError(KindPersistence, op, id, "failed to look up the add-on", err)
		}
		if exists {
			entry.AddonID = &id
		}
	}
	if err := c.repo.Cache().Insert(ctx, entry); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return newError(KindConsistency, op, "", "the cache file is already registered", err)
		}
		return newError(KindPersistence, op, "", "failed to register the cache file", err)
	}
	return nil
}

// FileExists returns the index entries for p, empty when p is not registered.
func (c *CacheRegistry) FileExists(ctx context.Context, p string) ([]*CacheEntry, error) {
	entry, err := c.repo.Cache().Get(ctx, p)
	if errors.Is(err, ErrCacheEntryNotFound) {
		return []*CacheEntry{}, nil
	}
	if err != nil {
		return nil, newError(KindPersistence, "look up cache file", "", "failed to look up the cache file", err)
	}
	return []*CacheEntry{entry}, nil
}

// ResolveImageURL returns the public URL of the image file. A missing file
// resolves to the placeholder image. A requested size with no cached
// derivative resolves to the file itself.
func (c *CacheRegistry) ResolveImageURL(ctx context.Context, fileID int64, size SizeVariant) (*ImageURL, error) {
	f, err := c.repo.Files().Get(ctx, fileID)
	if errors.Is(err, ErrFileNotFound) {
		return &ImageURL{URL: c.siteRoot + "image/notfound.png", Approved: true, Exists: false}, nil
	}
	if err != nil {
		return nil, newError(KindPersistence, "resolve image", "", "failed to look up the image file", err)
	}

	img := &ImageURL{URL: joinURL(c.downloadBase, f.Path), Approved: f.Approved, Exists: true}
	if size == SizeOriginal {
		return img, nil
	}

	derived := size.Prefix() + path.Base(f.Path)
	entries, err := c.FileExists(ctx, derived)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to look up cached image", "file", derived, "error", err)
		return img, nil
	}
	if len(entries) > 0 {
		img.URL = joinURL(c.cacheBase, derived)
	}
	return img, nil
}

// Clear removes every unprotected cache file and index entry, then recreates
// the cache root. Files that fail to delete are logged and reported together.
func (c *CacheRegistry) Clear(ctx context.Context) error {
	const op = "clear cache"
	keys, err := c.blobs.List(ctx)
	if err != nil {
		return newError(KindPersistence, op, "", "failed to list cache files", err)
	}

	var failed []error
	for _, key := range keys {
		if c.IsProtected(key) {
			continue
		}
		if err := c.blobs.Delete(ctx, key); err != nil && !errors.Is(err, ErrBlobNotFound) {
			c.logger.WarnContext(ctx, "Failed to delete cache file", "file", key, "error", err)
			failed = append(failed, err)
		}
	}
	if err := c.blobs.EnsureRoot(ctx); err != nil {
		return newError(KindPersistence, op, "", "failed to recreate the cache root", err)
	}

	entries, err := c.repo.Cache().List(ctx, nil)
	if err != nil {
		return newError(KindPersistence, op, "", "failed to list cache entries", err)
	}
	for _, entry := range entries {
		if c.IsProtected(entry.Path) {
			continue
		}
		if err := c.repo.Cache().Delete(ctx, entry.Path); err != nil && !errors.Is(err, ErrCacheEntryNotFound) {
			return newError(KindPersistence, op, "", "failed to remove cache entries", err)
		}
	}

	if len(failed) > 0 {
		return newError(KindPartialFailure, op, "", fmt.Sprintf("%d cache files could not be deleted", len(failed)), errors.Join(failed...))
	}
	return nil
}

// ClearAddon removes the cache files and entries of one add-on. It returns
// false without error when the id is invalid or names no add-on. An entry whose
// file cannot be deleted stays indexed and the failures are reported together.
func (c *CacheRegistry) ClearAddon(ctx context.Context, addonID string) (bool, error) {
	const op = "clear add-on cache"
	id, ok := CleanID(addonID)
	if !ok {
		return false, nil
	}
	exists, err := c.repo.Addons().Exists(ctx, id)
	if err != nil {
		return false, newError(KindPersistence, op, id, "failed to look up the add-on", err)
	}
	if !exists {
		return false, nil
	}

	entries, err := c.repo.Cache().List(ctx, &id)
	if err != nil {
		return false, newError(KindPersistence, op, id, "failed to list cache entries", err)
	}
	var failed []error
	for _, entry := range entries {
		if err := c.blobs.Delete(ctx, entry.Path); err != nil && !errors.Is(err, ErrBlobNotFound) {
			c.logger.WarnContext(ctx, "Failed to delete cache file", "addon_id", id, "file", entry.Path, "error", err)
			failed = append(failed, err)
			continue
		}
		if err := c.repo.Cache().Delete(ctx, entry.Path); err != nil && !errors.Is(err, ErrCacheEntryNotFound) {
			return false, newError(KindPersistence, op, id, "failed to remove cache entries", err)
		}
	}

	if len(failed) > 0 {
		return true, newError(KindPartialFailure, op, id, fmt.Sprintf("%d cache files could not be deleted", len(failed)), errors.Join(failed...))
	}
	return true, nil
}

func joinURL(base, p string) string {
	if base == "" {
		return p
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}
