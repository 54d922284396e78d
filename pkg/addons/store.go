package addons

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// moderatorNoticeSubject is the subject of every new-upload notice.
const moderatorNoticeSubject = "New Addon Upload"

// maxRevisionAttempts bounds retries when concurrent uploads race for the
// same revision number.
const maxRevisionAttempts = 3

// Store is the add-on revision and moderation engine.
type Store struct {
	repo     Repository
	perms    Permissions
	files    FileStorage
	cache    *CacheRegistry
	notifier Notifier
	audit    AuditLog
	catalog  Catalog
	dedup    *ImageDeduplicator
	slugs    *SlugGenerator
	logger   *slog.Logger
	siteRoot string
	now      func() time.Time
}

// Option represents a functional option for configuring the store
type Option func(*Store)

// WithRepository sets the repository for the store
func WithRepository(repo Repository) Option {
	return func(s *Store) {
		s.repo = repo
	}
}

// WithPermissions sets the source of the acting user's capabilities
func WithPermissions(perms Permissions) Option {
	return func(s *Store) {
		s.perms = perms
	}
}

// WithFileStorage sets the file storage for the store
func WithFileStorage(files FileStorage) Option {
	return func(s *Store) {
		s.files = files
	}
}

// WithCacheRegistry sets the cache registry cleared on delete
func WithCacheRegistry(cache *CacheRegistry) Option {
	return func(s *Store) {
		s.cache = cache
	}
}

// WithNotifier sets the notifier for the store
func WithNotifier(n Notifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

// WithAuditLog sets the audit log for the store
func WithAuditLog(a AuditLog) Option {
	return func(s *Store) {
		s.audit = a
	}
}

// WithCatalog sets the catalog regenerated after changes
func WithCatalog(c Catalog) Option {
	return func(s *Store) {
		s.catalog = c
	}
}

// WithDeduplicator sets the image deduplicator used by CreateRevision
func WithDeduplicator(d *ImageDeduplicator) Option {
	return func(s *Store) {
		s.dedup = d
	}
}

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithSiteRoot sets the public site root used in permalinks
func WithSiteRoot(root string) Option {
	return func(s *Store) {
		s.siteRoot = root
	}
}

// WithClock sets the time source of the store
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new store with the given options
func New(options ...Option) (*Store, error) {
	s := &Store{
		notifier: NewNoopNotifier(),
		audit:    NewNoopAuditLog(),
		catalog:  NewNoopCatalog(),
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(s)
	}

	if s.repo == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.perms == nil {
		return nil, fmt.Errorf("permissions are required")
	}
	if s.files == nil {
		return nil, fmt.Errorf("file storage is required")
	}
	if s.cache == nil {
		return nil, fmt.Errorf("cache registry is required")
	}
	if s.dedup == nil {
		s.dedup = NewImageDeduplicator(s.repo.Files(), s.files, DefaultDedupLimit, s.logger)
	}
	s.slugs = NewSlugGenerator(s.repo.Addons().Exists)

	return s, nil
}

// Cache returns the cache registry of the store
func (s *Store) Cache() *CacheRegistry {
	return s.cache
}

// Permalink returns the public page address of the add-on
func (s *Store) Permalink(addon *Addon) string {
	return addon.Permalink(s.siteRoot)
}

func (s *Store) isEditor(ctx context.Context) bool {
	return s.perms.HasPermission(ctx, PermEditAddons)
}

func (s *Store) isUploader(ctx context.Context, addon *Addon) bool {
	return s.perms.IsLoggedIn(ctx) && s.perms.CurrentUserID(ctx) == addon.UploaderID
}

func (s *Store) requireLoggedIn(ctx context.Context, op, addonID, message string) error {
	if !s.perms.IsLoggedIn(ctx) {
		return newError(KindPermission, op, addonID, message, nil)
	}
	return nil
}

func (s *Store) requireOwnerOrEditor(ctx context.Context, op string, addon *Addon) error {
	if s.isEditor(ctx) || s.isUploader(ctx, addon) {
		return nil
	}
	return newError(KindPermission, op, addon.ID, "you do not have the necessary permissions to perform this action", nil)
}

func (s *Store) requireEditor(ctx context.Context, op string, addon *Addon) error {
	if s.isEditor(ctx) {
		return nil
	}
	return newError(KindPermission, op, addon.ID, "you do not have the necessary permissions to perform this action", nil)
}

// persistenceError logs err and hides it behind message.
func (s *Store) persistenceError(ctx context.Context, op, addonID, message string, err error) *Error {
	s.logger.ErrorContext(ctx, "Store operation failed", "op", op, "addon_id", addonID, "error", err)
	return newError(KindPersistence, op, addonID, message, err)
}

// asError passes *Error values through and converts anything else into a
// persistence error.
func (s *Store) asError(ctx context.Context, op, addonID, message string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return s.persistenceError(ctx, op, addonID, message, err)
}

func (s *Store) notifyModerators(ctx context.Context, body string) {
	if err := s.notifier.SendModeratorNotice(ctx, moderatorNoticeSubject, body); err != nil {
		s.logger.WarnContext(ctx, "Failed to send moderator notice", "error", err)
	}
}

func (s *Store) regenerateCatalogs(ctx context.Context, news bool) {
	if err := s.catalog.RegenerateAssetCatalog(ctx); err != nil {
		s.logger.WarnContext(ctx, "Failed to regenerate asset catalog", "error", err)
	}
	if !news {
		return
	}
	if err := s.catalog.RegenerateNewsCatalog(ctx); err != nil {
		s.logger.WarnContext(ctx, "Failed to regenerate news catalog", "error", err)
	}
}

func (s *Store) record(ctx context.Context, message string) {
	if err := s.audit.Record(ctx, message); err != nil {
		s.logger.WarnContext(ctx, "Failed to record audit event", "message", message, "error", err)
	}
}
