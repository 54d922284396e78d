package addons

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Create registers a new add-on together with its first revision.
func (s *Store) Create(ctx context.Context, addonType AddonType, attrs Attributes, uploadID uuid.UUID, moderatorMessage string) (*Addon, error) {
	const op = "create"
	moderatorMessage = appendMissingTextures(moderatorMessage, attrs.MissingTextures)

	if err := s.requireLoggedIn(ctx, op, "", "you must be logged in to create an add-on"); err != nil {
		return nil, err
	}
	if !addonType.Valid() {
		return nil, newError(KindValidation, op, "", "an invalid add-on type was provided", nil)
	}

	id, err := s.slugs.Generate(ctx, attrs.Name)
	if errors.Is(err, ErrValidation) {
		return nil, newError(KindValidation, op, "", "the add-on name is not a valid identifier", err)
	}
	if err != nil {
		return nil, s.persistenceError(ctx, op, "", "failed to generate an add-on id", err)
	}

	now := s.now()
	addon := &Addon{
		ID:           id,
		Type:         addonType,
		Name:         attrs.Name,
		UploaderID:   s.perms.CurrentUserID(ctx),
		CreationDate: now,
		License:      attrs.License,
		ImageID:      attrs.ImageID,
	}
	if attrs.Designer != "" {
		designer := attrs.Designer
		addon.Designer = &designer
	}
	rev := &Revision{
		ID:            uploadID,
		AddonID:       id,
		Revision:      1,
		FileID:        attrs.FileID,
		Format:        attrs.Format,
		ImageID:       attrs.ImageID,
		ModeratorNote: moderatorMessage,
		Status:        uploadStatus(attrs.Status, s.isEditor(ctx), true),
		CreatedAt:     now,
	}
	if addonType == TypeKart {
		rev.IconID = attrs.ImageID
		addon.IconID = attrs.ImageID
	}

	err = s.repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
		exists, err := tx.Revisions().UploadExists(ctx, addonType, uploadID)
		if err != nil {
			return s.persistenceError(ctx, op, id, fmt.Sprintf("failed to access the %s revisions", addonType), err)
		}
		if exists {
			return newError(KindConsistency, op, id, "the add-on you are trying to create already exists", nil)
		}
		if err := tx.Addons().Insert(ctx, addon); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				return newError(KindConsistency, op, id, "an add-on with this id already exists, please try to upload your add-on again later", err)
			}
			return s.persistenceError(ctx, op, id, "your add-on could not be uploaded", err)
		}
		if err := tx.Revisions().Insert(ctx, addonType, rev); err != nil {
			return s.persistenceError(ctx, op, id, "your add-on could not be uploaded", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.asError(ctx, op, id, "your add-on could not be uploaded", err)
	}
	addon.Revisions = []*Revision{rev}

	s.logger.InfoContext(ctx, "Created add-on", "addon_id", id, "type", addonType, "upload_id", uploadID)
	s.notifyModerators(ctx, fmt.Sprintf("%s has uploaded a new %s '%s' %s",
		s.perms.CurrentUserName(ctx), addonType, attrs.Name, id))
	s.regenerateCatalogs(ctx, true)
	s.record(ctx, fmt.Sprintf("New add-on '%s'", attrs.Name))

	return addon, nil
}

// CreateRevision appends a revision numbered one past the highest existing
// one. A new image identical to an existing image of the add-on is dropped in
// favor of the existing one. LATEST is never set here; use SetStatus.
func (s *Store) CreateRevision(ctx context.Context, addon *Addon, attrs Attributes, uploadID uuid.UUID, moderatorMessage string) (*Revision, error) {
	const op = "create revision"
	moderatorMessage = appendMissingTextures(moderatorMessage, attrs.MissingTextures)

	if err := s.requireLoggedIn(ctx, op, addon.ID, "you must be logged in to create an add-on revision"); err != nil {
		return nil, err
	}
	if err := s.requireOwnerOrEditor(ctx, op, addon); err != nil {
		return nil, err
	}
	exists, err := s.repo.Revisions().UploadExists(ctx, addon.Type, uploadID)
	if err != nil {
		return nil, s.persistenceError(ctx, op, addon.ID, fmt.Sprintf("failed to access the %s revisions", addon.Type), err)
	}
	if exists {
		return nil, newError(KindConsistency, op, addon.ID, "the file you are trying to create already exists", nil)
	}

	imageID := attrs.ImageID
	if imageID != 0 {
		imageID = s.dedupeImage(ctx, addon.ID, imageID)
	}

	rev := &Revision{
		ID:            uploadID,
		AddonID:       addon.ID,
		FileID:        attrs.FileID,
		Format:        attrs.Format,
		ImageID:       imageID,
		ModeratorNote: moderatorMessage,
		Status:        uploadStatus(attrs.Status, s.isEditor(ctx), false),
		CreatedAt:     s.now(),
	}
	if addon.Type == TypeKart {
		rev.IconID = imageID
	}
	update := AddonUpdate{Name: &attrs.Name, License: &attrs.License}

	for attempt := 1; ; attempt++ {
		err = s.repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
			revs, err := tx.Revisions().List(ctx, addon.Type, addon.ID)
			if err != nil {
				return s.persistenceError(ctx, op, addon.ID, "failed to read the add-on's revision information", err)
			}
			if len(revs) == 0 {
				return newError(KindConsistency, op, addon.ID, "no revisions of this add-on exist", nil)
			}
			rev.Revision = revs[len(revs)-1].Revision + 1

			if err := tx.Addons().Update(ctx, addon.ID, update); err != nil {
				return s.persistenceError(ctx, op, addon.ID, "failed to update the add-on record", err)
			}
			return tx.Revisions().Insert(ctx, addon.Type, rev)
		})
		if !errors.Is(err, ErrRevisionConflict) || attempt == maxRevisionAttempts {
			break
		}
		s.logger.WarnContext(ctx, "Revision number taken, retrying", "addon_id", addon.ID, "revision", rev.Revision, "attempt", attempt)
	}
	if err != nil {
		return nil, s.asError(ctx, op, addon.ID, "failed to create add-on revision", err)
	}

	addon.Name = attrs.Name
	addon.License = attrs.License
	if addon.RevisionsLoaded() {
		addon.Revisions = append(addon.Revisions, rev)
	}

	s.logger.InfoContext(ctx, "Created add-on revision", "addon_id", addon.ID, "revision", rev.Revision)
	s.notifyModerators(ctx, fmt.Sprintf("%s has uploaded a new revision for %s '%s' %s",
		s.perms.CurrentUserName(ctx), addon.Type, attrs.Name, addon.ID))
	s.regenerateCatalogs(ctx, true)
	s.record(ctx, fmt.Sprintf("New add-on revision for '%s'", attrs.Name))

	return rev, nil
}

// dedupeImage returns the id to reference for a new image, deleting the new
// file when an identical image already belongs to the add-on.
func (s *Store) dedupeImage(ctx context.Context, addonID string, imageID int64) int64 {
	existing, found, err := s.dedup.Find(ctx, addonID, imageID)
	if err != nil {
		s.logger.WarnContext(ctx, "Image deduplication failed", "addon_id", addonID, "file_id", imageID, "error", err)
		return imageID
	}
	if !found {
		return imageID
	}
	if err := s.files.Delete(ctx, imageID); err != nil {
		s.logger.WarnContext(ctx, "Failed to delete duplicate image", "addon_id", addonID, "file_id", imageID, "error", err)
	}
	s.logger.InfoContext(ctx, "Reusing existing image", "addon_id", addonID, "file_id", existing, "duplicate_id", imageID)
	return existing
}

// DeleteRevision removes a non-latest revision and queues its content file
// for deferred deletion.
func (s *Store) DeleteRevision(ctx context.Context, addon *Addon, number int) error {
	const op = "delete revision"
	if err := s.requireOwnerOrEditor(ctx, op, addon); err != nil {
		return err
	}

	var target *Revision
	var remaining []*Revision
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
		revs, err := tx.Revisions().List(ctx, addon.Type, addon.ID)
		if err != nil {
			return s.persistenceError(ctx, op, addon.ID, "failed to read the add-on's revision information", err)
		}
		if len(revs) == 1 {
			return newError(KindConsistency, op, addon.ID, "you cannot delete the last revision of an add-on", nil)
		}
		remaining = remaining[:0]
		for _, rev := range revs {
			if rev.Revision == number {
				target = rev
			} else {
				remaining = append(remaining, rev)
			}
		}
		if target == nil {
			return newError(KindNotFound, op, addon.ID, "the revision you are trying to delete does not exist", nil)
		}
		if target.Status.IsLatest() {
			return newError(KindConsistency, op, addon.ID,
				"you cannot delete the latest revision of an add-on, please mark a different revision to be the latest revision first", nil)
		}
		if err := tx.Revisions().Delete(ctx, addon.Type, addon.ID, number); err != nil {
			if errors.Is(err, ErrRevisionNotFound) {
				return newError(KindNotFound, op, addon.ID, "the revision you are trying to delete does not exist", err)
			}
			return s.persistenceError(ctx, op, addon.ID, "the add-on revision could not be deleted", err)
		}
		return nil
	})
	if err != nil {
		return s.asError(ctx, op, addon.ID, "the add-on revision could not be deleted", err)
	}
	if addon.RevisionsLoaded() {
		addon.Revisions = remaining
	}

	s.logger.InfoContext(ctx, "Deleted add-on revision", "addon_id", addon.ID, "revision", number)
	s.regenerateCatalogs(ctx, false)
	s.record(ctx, fmt.Sprintf("Deleted revision %d of '%s'", number, addon.Name))

	if err := s.files.QueueDelete(ctx, target.FileID); err != nil {
		s.logger.ErrorContext(ctx, "Failed to queue revision file for deletion", "addon_id", addon.ID, "file_id", target.FileID, "error", err)
		return newError(KindPartialFailure, op, addon.ID, "the revision was deleted but its file could not be queued for deletion", err)
	}
	return nil
}

type statusChange struct {
	revision int
	flag     Status
	on       bool
}

func parseStatusRequest(req StatusUpdateRequest) (changes []statusChange, latest int, err error) {
	for _, token := range req.Tokens {
		value := req.Values[token]
		if token == "latest" {
			latest, err = strconv.Atoi(value)
			if err != nil || latest < 1 {
				return nil, 0, fmt.Errorf("invalid latest revision %q", value)
			}
			continue
		}
		name, num, ok := strings.Cut(token, "-")
		if !ok {
			return nil, 0, fmt.Errorf("malformed status field %q", token)
		}
		flag, ok := FlagByName(name)
		if !ok {
			return nil, 0, fmt.Errorf("unknown status flag %q", name)
		}
		rev, err := strconv.Atoi(num)
		if err != nil || rev < 1 {
			return nil, 0, fmt.Errorf("malformed status field %q", token)
		}
		changes = append(changes, statusChange{revision: rev, flag: flag, on: value == "on"})
	}
	return changes, latest, nil
}

// SetStatus rewrites the status flags of the add-on's revisions in one
// transaction. Flags the caller may change are cleared on every revision and
// set again from the request; moderator flags are only touched by editors.
// LATEST moves only when the request carries a "latest" field.
func (s *Store) SetStatus(ctx context.Context, addon *Addon, req StatusUpdateRequest) error {
	const op = "set status"
	if err := s.requireOwnerOrEditor(ctx, op, addon); err != nil {
		return err
	}
	changes, latest, err := parseStatusRequest(req)
	if err != nil {
		return newError(KindValidation, op, addon.ID, err.Error(), err)
	}

	mask := mutableMask(s.isEditor(ctx))
	if latest != 0 {
		mask |= StatusLatest
	}

	var updated []*Revision
	err = s.repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
		revs, err := tx.Revisions().List(ctx, addon.Type, addon.ID)
		if err != nil {
			return s.persistenceError(ctx, op, addon.ID, "failed to read the add-on's revision information", err)
		}
		byNumber := make(map[int]*Revision, len(revs))
		for _, rev := range revs {
			byNumber[rev.Revision] = rev
		}
		if latest != 0 {
			if _, ok := byNumber[latest]; !ok {
				return newError(KindNotFound, op, addon.ID, fmt.Sprintf("revision %d does not exist", latest), nil)
			}
		}
		for _, c := range changes {
			if _, ok := byNumber[c.revision]; !ok {
				return newError(KindNotFound, op, addon.ID, fmt.Sprintf("revision %d does not exist", c.revision), nil)
			}
		}

		next := make(map[int]Status, len(revs))
		for _, rev := range revs {
			next[rev.Revision] = rev.Status &^ mask
		}
		for _, c := range changes {
			if c.on && mask.Has(c.flag) {
				next[c.revision] |= c.flag
			}
		}
		if latest != 0 {
			next[latest] |= StatusLatest
		}

		hasLatest := false
		for _, st := range next {
			if st.IsLatest() {
				hasLatest = true
				break
			}
		}
		if !hasLatest {
			return newError(KindValidation, op, addon.ID, "a latest revision must be selected", nil)
		}

		updated = updated[:0]
		for _, rev := range revs {
			if err := tx.Revisions().UpdateStatus(ctx, addon.Type, addon.ID, rev.Revision, next[rev.Revision]); err != nil {
				return s.persistenceError(ctx, op, addon.ID, "failed to write add-on status", err)
			}
			r := *rev
			r.Status = next[rev.Revision]
			updated = append(updated, &r)
		}
		return nil
	})
	if err != nil {
		return s.asError(ctx, op, addon.ID, "failed to write add-on status", err)
	}
	addon.Revisions = updated

	s.logger.InfoContext(ctx, "Updated add-on status", "addon_id", addon.ID, "revisions", len(updated))
	s.regenerateCatalogs(ctx, true)
	s.record(ctx, fmt.Sprintf("Set status for add-on '%s'", addon.Name))
	return nil
}

// SetNotes stores moderator notes on revisions and mails the uploader a
// digest of them.
func (s *Store) SetNotes(ctx context.Context, addon *Addon, req NotesUpdateRequest) error {
	const op = "set notes"
	if err := s.requireEditor(ctx, op, addon); err != nil {
		return err
	}

	notes := make(map[int]string, len(req.Tokens))
	for _, token := range req.Tokens {
		num, ok := strings.CutPrefix(token, "notes-")
		rev, err := strconv.Atoi(num)
		if !ok || err != nil || rev < 1 {
			return newError(KindValidation, op, addon.ID, fmt.Sprintf("malformed notes field %q", token), nil)
		}
		notes[rev] = req.Values[token]
	}

	err := s.repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
		revs, err := tx.Revisions().List(ctx, addon.Type, addon.ID)
		if err != nil {
			return s.persistenceError(ctx, op, addon.ID, "failed to read the add-on's revision information", err)
		}
		known := make(map[int]bool, len(revs))
		for _, rev := range revs {
			known[rev.Revision] = true
		}
		for rev, note := range notes {
			if !known[rev] {
				return newError(KindNotFound, op, addon.ID, fmt.Sprintf("revision %d does not exist", rev), nil)
			}
			if err := tx.Revisions().UpdateNote(ctx, addon.Type, addon.ID, rev, note); err != nil {
				return s.persistenceError(ctx, op, addon.ID, "failed to write add-on notes", err)
			}
		}
		return nil
	})
	if err != nil {
		return s.asError(ctx, op, addon.ID, "failed to write add-on notes", err)
	}
	for _, rev := range addon.Revisions {
		if note, ok := notes[rev.Revision]; ok {
			rev.ModeratorNote = note
		}
	}

	if err := s.notifier.SendUploaderNotice(ctx, addon.UploaderID, addon.ID, NotesDigest(notes)); err != nil {
		s.logger.ErrorContext(ctx, "Failed to send notes to uploader", "addon_id", addon.ID, "uploader_id", addon.UploaderID, "error", err)
		return newError(KindPartialFailure, op, addon.ID, "the notes were saved but the uploader could not be notified", err)
	}
	s.record(ctx, fmt.Sprintf("Added notes to '%s'", addon.Name))
	return nil
}
