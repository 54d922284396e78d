package addons

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Entities is the keyed CRUD surface shared by every persisted entity.
type Entities[T any, K comparable] interface {
	// Get returns the entity with the given key or the entity's not-found error
	Get(ctx context.Context, key K) (*T, error)

	// Exists reports whether an entity with the given key is stored
	Exists(ctx context.Context, key K) (bool, error)

	// Insert stores a new entity. Generated keys are written back into entity.
	Insert(ctx context.Context, entity *T) error

	// Delete removes the entity with the given key
	Delete(ctx context.Context, key K) error
}

// AddonUpdate names the add-on columns to change. Nil fields are untouched.
type AddonUpdate struct {
	Name              *string
	Designer          *string
	Description       *string
	License           *string
	MinIncludeVersion *string
	MaxIncludeVersion *string
	ImageID           *int64
	IconID            *int64
}

// AddonRepository persists add-on rows.
type AddonRepository interface {
	Entities[Addon, string]

	// Update applies the non-nil fields of update
	Update(ctx context.Context, id string, update AddonUpdate) error

	// Search matches query as a substring of the name, and of the description when asked
	Search(ctx context.Context, query string, includeDescription bool) ([]*Addon, error)

	// ListLatest returns ids of add-ons of the type that have a LATEST revision,
	// ordered by name then id, featured first when asked
	ListLatest(ctx context.Context, addonType AddonType, featuredFirst bool) ([]string, error)
}

// RevisionRepository persists revision rows in per-type tables.
type RevisionRepository interface {
	// List returns the add-on's revisions in ascending revision order
	List(ctx context.Context, addonType AddonType, addonID string) ([]*Revision, error)

	// UploadExists reports whether a revision backed by the upload id exists
	UploadExists(ctx context.Context, addonType AddonType, uploadID uuid.UUID) (bool, error)

	// Insert stores a revision; ErrRevisionConflict when the number is taken
	Insert(ctx context.Context, addonType AddonType, rev *Revision) error

	UpdateStatus(ctx context.Context, addonType AddonType, addonID string, revision int, status Status) error
	UpdateNote(ctx context.Context, addonType AddonType, addonID string, revision int, note string) error

	// UpdateLatestImage sets the image (or icon) of the LATEST revision
	UpdateLatestImage(ctx context.Context, addonType AddonType, addonID string, imageID int64, icon bool) error

	// Delete removes a revision; ErrRevisionNotFound when absent
	Delete(ctx context.Context, addonType AddonType, addonID string, revision int) error
}

// FileRepository persists file records and the deferred deletion queue.
type FileRepository interface {
	Entities[File, int64]

	// ListByAddon returns the add-on's files in id order. An empty fileType
	// matches every type and a limit <= 0 means unlimited.
	ListByAddon(ctx context.Context, addonID string, fileType FileType, limit int) ([]*File, error)

	// ListRecentByAddon is ListByAddon with the newest files first
	ListRecentByAddon(ctx context.Context, addonID string, fileType FileType, limit int) ([]*File, error)

	// DeleteByAddon removes every record of the add-on and returns the count
	DeleteByAddon(ctx context.Context, addonID string) (int, error)

	SetApproved(ctx context.Context, id int64, approved bool) error

	// QueueDelete schedules the file for physical removal at due
	QueueDelete(ctx context.Context, id int64, due time.Time) error

	// DueDeletions returns ids whose removal is due at now
	DueDeletions(ctx context.Context, now time.Time) ([]int64, error)

	Dequeue(ctx context.Context, id int64) error
}

// CacheRepository persists the cache index keyed by path.
type CacheRepository interface {
	Entities[CacheEntry, string]

	// List returns entries of the add-on, or every entry when addonID is nil
	List(ctx context.Context, addonID *string) ([]*CacheEntry, error)
}

// Repository groups the entity repositories behind one transactional boundary.
type Repository interface {
	Addons() AddonRepository
	Revisions() RevisionRepository
	Files() FileRepository
	Cache() CacheRepository

	// InTx runs fn against a transactional view. Changes made through tx are
	// discarded when fn returns an error. Calls must not nest.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}

// BlobStore stores file contents under slash-separated keys.
type BlobStore interface {
	// Upload writes the content of r under key
	Upload(ctx context.Context, key string, r io.Reader) error

	// Download opens the content stored under key
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key; ErrBlobNotFound when absent
	Delete(ctx context.Context, key string) error

	// List returns every stored key
	List(ctx context.Context) ([]string, error)

	// EnsureRoot creates the storage root when the backend needs one
	EnsureRoot(ctx context.Context) error
}

// Permission names a capability checked through Permissions.
type Permission string

// PermEditAddons allows editing and moderating any add-on.
const PermEditAddons Permission = "edit_addons"

// Permissions answers questions about the acting user.
type Permissions interface {
	IsLoggedIn(ctx context.Context) bool
	CurrentUserID(ctx context.Context) int64
	CurrentUserName(ctx context.Context) string
	HasPermission(ctx context.Context, perm Permission) bool
}

// FileStorage resolves file records to stored content.
type FileStorage interface {
	// PathFor returns the storage path of the file record
	PathFor(ctx context.Context, fileID int64) (string, error)

	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)

	// Remove deletes stored content by path without touching records
	Remove(ctx context.Context, path string) error

	// Delete removes the stored content and the record immediately
	Delete(ctx context.Context, fileID int64) error

	// QueueDelete schedules the file for deferred removal
	QueueDelete(ctx context.Context, fileID int64) error

	Approve(ctx context.Context, fileID int64, approved bool) error
}

// Notifier delivers moderator and uploader notices.
type Notifier interface {
	SendModeratorNotice(ctx context.Context, subject, body string) error
	SendUploaderNotice(ctx context.Context, uploaderID int64, addonID, body string) error
}

// AuditLog records user-visible events.
type AuditLog interface {
	Record(ctx context.Context, message string) error
}

// Catalog regenerates the published catalog documents.
type Catalog interface {
	RegenerateAssetCatalog(ctx context.Context) error
	RegenerateNewsCatalog(ctx context.Context) error
}
