package addons

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AddonType is the kind of content an add-on carries. The value doubles as the
// prefix of the type's revision table ("karts" -> "karts_revs").
type AddonType string

// Add-on type constants (typed).
const (
	TypeKart  AddonType = "karts"
	TypeTrack AddonType = "tracks"
	TypeArena AddonType = "arenas"
)

// AllowedTypes returns every add-on type accepted by the store.
func AllowedTypes() []AddonType {
	return []AddonType{TypeKart, TypeTrack, TypeArena}
}

// Valid reports whether t is one of the allowed types.
func (t AddonType) Valid() bool {
	switch t {
	case TypeKart, TypeTrack, TypeArena:
		return true
	}
	return false
}

// ParseType converts a raw type name into an AddonType.
func ParseType(s string) (AddonType, error) {
	t := AddonType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown add-on type %q", ErrValidation, s)
	}
	return t, nil
}

// FileType classifies a stored file record.
type FileType string

// File type constants (typed).
const (
	FileTypeImage   FileType = "image"
	FileTypeSource  FileType = "source"
	FileTypeContent FileType = "content"
)

// Addon is a user-submitted content item. Revisions are not populated by Get;
// call Store.LoadRevisions to fill them.
type Addon struct {
	ID                string    `json:"id"`
	Type              AddonType `json:"type"`
	Name              string    `json:"name"`
	UploaderID        int64     `json:"uploader_id"`
	CreationDate      time.Time `json:"creation_date"`
	Designer          *string   `json:"designer,omitempty"`
	Description       string    `json:"description,omitempty"`
	License           string    `json:"license,omitempty"`
	MinIncludeVersion string    `json:"min_include_version,omitempty"`
	MaxIncludeVersion string    `json:"max_include_version,omitempty"`
	ImageID           int64     `json:"image_id,omitempty"`
	IconID            int64     `json:"icon_id,omitempty"`

	// Revisions in ascending revision order. Nil until loaded.
	Revisions []*Revision `json:"revisions,omitempty"`
}

// RevisionsLoaded reports whether the revision list has been loaded.
func (a *Addon) RevisionsLoaded() bool {
	return a.Revisions != nil
}

// Revision returns the revision with the given number.
func (a *Addon) Revision(number int) (*Revision, bool) {
	for _, rev := range a.Revisions {
		if rev.Revision == number {
			return rev, true
		}
	}
	return nil, false
}

// LatestRevision returns the revision flagged LATEST, if any.
func (a *Addon) LatestRevision() (*Revision, bool) {
	for _, rev := range a.Revisions {
		if rev.Status.IsLatest() {
			return rev, true
		}
	}
	return nil, false
}

// HasApprovedRevision reports whether any loaded revision is approved.
func (a *Addon) HasApprovedRevision() bool {
	for _, rev := range a.Revisions {
		if rev.Status.IsApproved() {
			return true
		}
	}
	return false
}

// DesignerName returns the designer or "Unknown" when none was recorded.
func (a *Addon) DesignerName() string {
	if a.Designer == nil || *a.Designer == "" {
		return "Unknown"
	}
	return *a.Designer
}

// Permalink returns the public page address of the add-on under siteRoot.
func (a *Addon) Permalink(siteRoot string) string {
	return fmt.Sprintf("%saddons.php?type=%s&name=%s", siteRoot, a.Type, a.ID)
}

// Revision is one immutable content submission of an add-on.
type Revision struct {
	// ID identifies the upload that produced the revision. A given upload
	// can back at most one revision.
	ID            uuid.UUID `json:"id"`
	AddonID       string    `json:"addon_id"`
	Revision      int       `json:"revision"`
	FileID        int64     `json:"file_id"`
	Format        string    `json:"format"`
	ImageID       int64     `json:"image_id"`
	IconID        int64     `json:"icon_id,omitempty"`
	ModeratorNote string    `json:"moderator_note,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"timestamp"`
}

// File is a stored file record. AddonID is nil for files not yet attached
// to an add-on.
type File struct {
	ID       int64    `json:"id"`
	AddonID  *string  `json:"addon_id,omitempty"`
	Path     string   `json:"file_path"`
	Type     FileType `json:"file_type"`
	Approved bool     `json:"approved"`
}

// CacheEntry records a derived file kept under the cache root. AddonID is nil
// for global entries.
type CacheEntry struct {
	Path    string  `json:"file"`
	AddonID *string `json:"addon,omitempty"`
	Props   string  `json:"props,omitempty"`
}

// Attributes carries the parsed properties of an uploaded add-on package.
type Attributes struct {
	Name            string
	Designer        string
	License         string
	FileID          int64
	Format          string
	ImageID         int64
	Status          Status
	MissingTextures []string
}

// StatusUpdateRequest carries the status form of an add-on. Tokens name the
// submitted fields ("alpha-2", "approved-1", "latest") and Values holds their
// submitted values; a flag field is set when its value is "on", and "latest"
// holds the target revision number.
type StatusUpdateRequest struct {
	Tokens []string
	Values map[string]string
}

// NotesUpdateRequest carries moderator notes keyed by "notes-<revision>".
type NotesUpdateRequest struct {
	Tokens []string
	Values map[string]string
}

// DeleteResult reports the outcome of a cascading add-on delete. Warnings
// hold the best-effort steps that failed without aborting the delete.
type DeleteResult struct {
	AddonID      string   `json:"addon_id"`
	FilesRemoved int      `json:"files_removed"`
	Warnings     []*Error `json:"-"`
}
