package addons

import (
	"context"
	"errors"
	"fmt"
)

// Exists reports whether an add-on with the cleaned id is stored.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	id, ok := CleanID(id)
	if !ok {
		return false, nil
	}
	exists, err := s.repo.Addons().Exists(ctx, id)
	if err != nil {
		return false, s.persistenceError(ctx, "exists", id, "failed to look up the add-on", err)
	}
	return exists, nil
}

// Get returns the add-on without its revisions.
func (s *Store) Get(ctx context.Context, id string) (*Addon, error) {
	const op = "get"
	clean, ok := CleanID(id)
	if !ok {
		return nil, newError(KindValidation, op, "", "an invalid add-on id was provided", nil)
	}
	addon, err := s.repo.Addons().Get(ctx, clean)
	if errors.Is(err, ErrAddonNotFound) {
		return nil, newError(KindNotFound, op, clean, "the requested add-on does not exist", err)
	}
	if err != nil {
		return nil, s.persistenceError(ctx, op, clean, "failed to read the requested add-on", err)
	}
	return addon, nil
}

// GetWithRevisions returns the add-on with its revisions loaded.
func (s *Store) GetWithRevisions(ctx context.Context, id string) (*Addon, error) {
	addon, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.LoadRevisions(ctx, addon); err != nil {
		return nil, err
	}
	return addon, nil
}

// LoadRevisions fills addon.Revisions and takes the image and icon of the
// latest revision.
func (s *Store) LoadRevisions(ctx context.Context, addon *Addon) error {
	const op = "load revisions"
	revs, err := s.repo.Revisions().List(ctx, addon.Type, addon.ID)
	if err != nil {
		return s.persistenceError(ctx, op, addon.ID, "failed to read the requested add-on's revision information", err)
	}
	if len(revs) == 0 {
		return newError(KindConsistency, op, addon.ID, "no revisions of this add-on exist", nil)
	}
	addon.Revisions = revs
	if latest, ok := addon.LatestRevision(); ok {
		addon.ImageID = latest.ImageID
		if addon.Type == TypeKart {
			addon.IconID = latest.IconID
		}
	}
	return nil
}

// Delete removes the add-on with its cache entries, files and revisions.
// Only the removal of the add-on record is fatal; the other steps are
// reported as warnings in the result.
func (s *Store) Delete(ctx context.Context, addon *Addon) (*DeleteResult, error) {
	const op = "delete"
	if err := s.requireLoggedIn(ctx, op, addon.ID, "you must be logged in to perform this action"); err != nil {
		return nil, err
	}
	if err := s.requireOwnerOrEditor(ctx, op, addon); err != nil {
		return nil, err
	}

	result := &DeleteResult{AddonID: addon.ID}
	warn := func(message string, err error) {
		s.logger.WarnContext(ctx, "Add-on delete step failed", "addon_id", addon.ID, "step", message, "error", err)
		result.Warnings = append(result.Warnings, newError(KindPartialFailure, op, addon.ID, message, err))
	}

	cleared, err := s.cache.ClearAddon(ctx, addon.ID)
	if err != nil {
		warn("failed to clear the add-on cache", err)
	} else if !cleared {
		warn("the add-on cache was not cleared", nil)
	}

	files, err := s.repo.Files().ListByAddon(ctx, addon.ID, "", 0)
	if err != nil {
		return nil, s.persistenceError(ctx, op, addon.ID, "failed to find files associated with this add-on", err)
	}
	for _, f := range files {
		exists, err := s.files.Exists(ctx, f.Path)
		if err != nil {
			warn(fmt.Sprintf("failed to check file %s", f.Path), err)
			continue
		}
		if !exists {
			continue
		}
		if err := s.files.Remove(ctx, f.Path); err != nil {
			warn(fmt.Sprintf("failed to delete file %s", f.Path), err)
			continue
		}
		result.FilesRemoved++
	}

	if _, err := s.repo.Files().DeleteByAddon(ctx, addon.ID); err != nil {
		warn("failed to remove file records", err)
	}

	if err := s.repo.Addons().Delete(ctx, addon.ID); err != nil {
		if errors.Is(err, ErrAddonNotFound) {
			return nil, newError(KindNotFound, op, addon.ID, "the requested add-on does not exist", err)
		}
		return nil, s.persistenceError(ctx, op, addon.ID, "failed to remove add-on", err)
	}

	s.logger.InfoContext(ctx, "Deleted add-on", "addon_id", addon.ID, "files_removed", result.FilesRemoved, "warnings", len(result.Warnings))
	s.regenerateCatalogs(ctx, true)
	s.record(ctx, fmt.Sprintf("Deleted add-on '%s'", addon.Name))

	return result, nil
}

func (s *Store) update(ctx context.Context, op string, addon *Addon, update AddonUpdate, failMessage string) error {
	if err := s.repo.Addons().Update(ctx, addon.ID, update); err != nil {
		if errors.Is(err, ErrAddonNotFound) {
			return newError(KindNotFound, op, addon.ID, "the requested add-on does not exist", err)
		}
		return s.persistenceError(ctx, op, addon.ID, failMessage, err)
	}
	return nil
}

// SetDescription replaces the description of the add-on.
func (s *Store) SetDescription(ctx context.Context, addon *Addon, description string) error {
	const op = "set description"
	if err := s.requireOwnerOrEditor(ctx, op, addon); err != nil {
		return err
	}
	if err := s.update(ctx, op, addon, AddonUpdate{Description: &description}, "failed to update the description record for this add-on"); err != nil {
		return err
	}
	addon.Description = description
	s.regenerateCatalogs(ctx, false)
	return nil
}

// SetDesigner replaces the designer of the add-on.
func (s *Store) SetDesigner(ctx context.Context, addon *Addon, designer string) error {
	const op = "set designer"
	if err := s.requireOwnerOrEditor(ctx, op, addon); err != nil {
		return err
	}
	if err := s.update(ctx, op, addon, AddonUpdate{Designer: &designer}, "failed to update the designer record for this add-on"); err != nil {
		return err
	}
	addon.Designer = &designer
	s.regenerateCatalogs(ctx, false)
	return nil
}

// SetLicense replaces the license text of the add-on.
func (s *Store) SetLicense(ctx context.Context, addon *Addon, license string) error {
	const op = "set license"
	if err := s.requireOwnerOrEditor(ctx, op, addon); err != nil {
		return err
	}
	if err := s.update(ctx, op, addon, AddonUpdate{License: &license}, "failed to update the license record for this add-on"); err != nil {
		return err
	}
	addon.License = license
	s.regenerateCatalogs(ctx, false)
	return nil
}

// SetName renames the add-on. The id is unchanged.
func (s *Store) SetName(ctx context.Context, addon *Addon, name string) error {
	const op = "set name"
	if err := s.requireOwnerOrEditor(ctx, op, addon); err != nil {
		return err
	}
	if name == "" {
		return newError(KindValidation, op, addon.ID, "the add-on name cannot be empty", nil)
	}
	if err := s.update(ctx, op, addon, AddonUpdate{Name: &name}, "failed to update the name record for this add-on"); err != nil {
		return err
	}
	addon.Name = name
	s.regenerateCatalogs(ctx, false)
	return nil
}

// SetIncludeVersions sets the range of game versions that ship the add-on.
func (s *Store) SetIncludeVersions(ctx context.Context, addon *Addon, min, max string) error {
	const op = "set include versions"
	if err := s.requireEditor(ctx, op, addon); err != nil {
		return err
	}
	if err := ValidateIncludeVersions(min, max); err != nil {
		return newError(KindValidation, op, addon.ID, err.Error(), err)
	}
	update := AddonUpdate{MinIncludeVersion: &min, MaxIncludeVersion: &max}
	if err := s.update(ctx, op, addon, update, "an error occurred while setting the min/max include versions"); err != nil {
		return err
	}
	addon.MinIncludeVersion = min
	addon.MaxIncludeVersion = max
	s.regenerateCatalogs(ctx, false)
	return nil
}

// SetImage points the add-on and its latest revision at an image file, or at
// an icon file when icon is set.
func (s *Store) SetImage(ctx context.Context, addon *Addon, imageID int64, icon bool) error {
	const op = "set image"
	if err := s.requireOwnerOrEditor(ctx, op, addon); err != nil {
		return err
	}
	if icon && addon.Type != TypeKart {
		return newError(KindValidation, op, addon.ID, "only karts have icons", nil)
	}

	update := AddonUpdate{ImageID: &imageID}
	if icon {
		update = AddonUpdate{IconID: &imageID}
	}
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.Revisions().UpdateLatestImage(ctx, addon.Type, addon.ID, imageID, icon); err != nil {
			if errors.Is(err, ErrRevisionNotFound) {
				return newError(KindConsistency, op, addon.ID, "the add-on has no latest revision", err)
			}
			return err
		}
		return tx.Addons().Update(ctx, addon.ID, update)
	})
	if err != nil {
		return s.asError(ctx, op, addon.ID, "failed to update the image record for this add-on", err)
	}

	if icon {
		addon.IconID = imageID
	} else {
		addon.ImageID = imageID
	}
	if latest, ok := addon.LatestRevision(); ok {
		if icon {
			latest.IconID = imageID
		} else {
			latest.ImageID = imageID
		}
	}
	return nil
}

// GetFilePath returns the storage path of the content file of a revision.
func (s *Store) GetFilePath(ctx context.Context, addon *Addon, revision int) (string, error) {
	const op = "get file"
	if revision < 1 {
		return "", newError(KindValidation, op, addon.ID, "an invalid revision was provided", nil)
	}
	if !addon.RevisionsLoaded() {
		if err := s.LoadRevisions(ctx, addon); err != nil {
			return "", err
		}
	}
	rev, ok := addon.Revision(revision)
	if !ok {
		return "", newError(KindNotFound, op, addon.ID, "there is no add-on found with the specified revision number", nil)
	}
	path, err := s.files.PathFor(ctx, rev.FileID)
	if errors.Is(err, ErrFileNotFound) {
		return "", newError(KindNotFound, op, addon.ID, "the requested file does not have an associated file record", err)
	}
	if err != nil {
		return "", s.persistenceError(ctx, op, addon.ID, "failed to search for the file in the database", err)
	}
	return path, nil
}

// ImageFiles returns the image files of the add-on.
func (s *Store) ImageFiles(ctx context.Context, addonID string) ([]*File, error) {
	return s.filesOfType(ctx, addonID, FileTypeImage)
}

// SourceFiles returns the source archives of the add-on.
func (s *Store) SourceFiles(ctx context.Context, addonID string) ([]*File, error) {
	return s.filesOfType(ctx, addonID, FileTypeSource)
}

func (s *Store) filesOfType(ctx context.Context, addonID string, fileType FileType) ([]*File, error) {
	files, err := s.repo.Files().ListByAddon(ctx, addonID, fileType, 0)
	if err != nil {
		return nil, s.persistenceError(ctx, "list files", addonID, fmt.Sprintf("failed to list %s files", fileType), err)
	}
	return files, nil
}

// NameByID returns the name of the add-on, or "" when it does not exist.
func (s *Store) NameByID(ctx context.Context, id string) (string, error) {
	addon, err := s.Get(ctx, id)
	if IsKind(err, KindNotFound) || IsKind(err, KindValidation) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return addon.Name, nil
}

// TypeByID returns the type of the add-on, or "" when it does not exist.
func (s *Store) TypeByID(ctx context.Context, id string) (AddonType, error) {
	addon, err := s.Get(ctx, id)
	if IsKind(err, KindNotFound) || IsKind(err, KindValidation) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return addon.Type, nil
}

// Search returns add-ons whose name, or description when asked, contains query.
func (s *Store) Search(ctx context.Context, query string, includeDescription bool) ([]*Addon, error) {
	addons, err := s.repo.Addons().Search(ctx, query, includeDescription)
	if err != nil {
		return nil, s.persistenceError(ctx, "search", "", "search failed", err)
	}
	return addons, nil
}

// List returns the ids of add-ons of the type that have a latest revision,
// featured ones first when asked. Unknown types yield an empty list.
func (s *Store) List(ctx context.Context, addonType AddonType, featuredFirst bool) ([]string, error) {
	if !addonType.Valid() {
		return []string{}, nil
	}
	ids, err := s.repo.Addons().ListLatest(ctx, addonType, featuredFirst)
	if err != nil {
		return nil, s.persistenceError(ctx, "list", "", "failed to list add-ons", err)
	}
	return ids, nil
}
