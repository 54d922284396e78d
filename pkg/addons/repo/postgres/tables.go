package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/tendant/simple-addons/pkg/addons"
)

// Add-on operations

var addonTable = &entityTable[addons.Addon, string]{
	name: "addons",
	key:  "id",
	columns: []string{"id", "type", "name", "uploader", "creation_date", "designer",
		"description", "license", "min_include_ver", "max_include_ver", "image", "icon"},
	scan:     scanAddon,
	notFound: addons.ErrAddonNotFound,
	values: func(a *addons.Addon) ([]string, []any) {
		return []string{"id", "type", "name", "uploader", "creation_date", "designer",
				"description", "license", "min_include_ver", "max_include_ver", "image", "icon"},
			[]any{a.ID, string(a.Type), a.Name, a.UploaderID, a.CreationDate, a.Designer,
				a.Description, a.License, a.MinIncludeVersion, a.MaxIncludeVersion, a.ImageID, a.IconID}
	},
}

func scanAddon(row pgx.Row) (*addons.Addon, error) {
	var a addons.Addon
	var addonType string
	err := row.Scan(&a.ID, &addonType, &a.Name, &a.UploaderID, &a.CreationDate, &a.Designer,
		&a.Description, &a.License, &a.MinIncludeVersion, &a.MaxIncludeVersion, &a.ImageID, &a.IconID)
	if err != nil {
		return nil, err
	}
	a.Type = addons.AddonType(addonType)
	return &a, nil
}

type addonRepo struct {
	entities[addons.Addon, string]
}

func (r *addonRepo) Update(ctx context.Context, id string, u addons.AddonUpdate) error {
	var sets []string
	var args []any
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if u.Name != nil {
		set("name", *u.Name)
	}
	if u.Designer != nil {
		set("designer", *u.Designer)
	}
	if u.Description != nil {
		set("description", *u.Description)
	}
	if u.License != nil {
		set("license", *u.License)
	}
	if u.MinIncludeVersion != nil {
		set("min_include_ver", *u.MinIncludeVersion)
	}
	if u.MaxIncludeVersion != nil {
		set("max_include_ver", *u.MaxIncludeVersion)
	}
	if u.ImageID != nil {
		set("image", *u.ImageID)
	}
	if u.IconID != nil {
		set("icon", *u.IconID)
	}
	if len(sets) == 0 {
		exists, err := r.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return addons.ErrAddonNotFound
		}
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE addons SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return handlePostgresError("update addon", err)
	}
	if tag.RowsAffected() == 0 {
		return addons.ErrAddonNotFound
	}
	return nil
}

func (r *addonRepo) Search(ctx context.Context, query string, includeDescription bool) ([]*addons.Addon, error) {
	where := `name ILIKE $1`
	if includeDescription {
		where += ` OR description ILIKE $1`
	}
	sql := fmt.Sprintf("SELECT %s FROM addons WHERE %s ORDER BY name, id", r.t.selectList(), where)
	rows, err := r.db.Query(ctx, sql, "%"+escapeLike(query)+"%")
	if err != nil {
		return nil, handlePostgresError("search addons", err)
	}
	found, err := r.t.collect(rows)
	if err != nil {
		return nil, handlePostgresError("search addons", err)
	}
	return found, nil
}

func (r *addonRepo) ListLatest(ctx context.Context, addonType addons.AddonType, featuredFirst bool) ([]string, error) {
	revs, err := revisionTable(addonType)
	if err != nil {
		return nil, err
	}
	order := "a.name, a.id"
	args := []any{string(addonType), int32(addons.StatusLatest)}
	if featuredFirst {
		args = append(args, int32(addons.StatusFeatured))
		order = "(r.status & $3) <> 0 DESC, " + order
	}
	query := fmt.Sprintf(`SELECT a.id FROM addons a
		JOIN %s r ON r.addon_id = a.id
		WHERE a.type = $1 AND (r.status & $2) <> 0
		ORDER BY %s`, revs, order)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, handlePostgresError("list addons", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, handlePostgresError("list addons", err)
	}
	return ids, nil
}

// Revision operations

func revisionTable(addonType addons.AddonType) (string, error) {
	if !addonType.Valid() {
		return "", fmt.Errorf("%w: unknown add-on type %q", addons.ErrValidation, addonType)
	}
	return pgx.Identifier{string(addonType) + "_revs"}.Sanitize(), nil
}

func revisionColumns(addonType addons.AddonType) []string {
	columns := []string{"id", "addon_id", "fileid", "revision", "format", "image", "moderator_note", "status", "creation_date"}
	if addonType == addons.TypeKart {
		columns = append(columns, "icon")
	}
	return columns
}

func scanRevision(row pgx.Row, withIcon bool) (*addons.Revision, error) {
	var rev addons.Revision
	var status int32
	dest := []any{&rev.ID, &rev.AddonID, &rev.FileID, &rev.Revision, &rev.Format, &rev.ImageID,
		&rev.ModeratorNote, &status, &rev.CreatedAt}
	if withIcon {
		dest = append(dest, &rev.IconID)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	rev.Status = addons.Status(status)
	return &rev, nil
}

type revisionRepo struct {
	db DBTX
}

func (r *revisionRepo) List(ctx context.Context, addonType addons.AddonType, addonID string) ([]*addons.Revision, error) {
	table, err := revisionTable(addonType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE addon_id = $1 ORDER BY revision",
		strings.Join(revisionColumns(addonType), ", "), table)
	rows, err := r.db.Query(ctx, query, addonID)
	if err != nil {
		return nil, handlePostgresError("list revisions", err)
	}
	withIcon := addonType == addons.TypeKart
	revs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*addons.Revision, error) {
		return scanRevision(row, withIcon)
	})
	if err != nil {
		return nil, handlePostgresError("list revisions", err)
	}
	return revs, nil
}

func (r *revisionRepo) UploadExists(ctx context.Context, addonType addons.AddonType, uploadID uuid.UUID) (bool, error) {
	table, err := revisionTable(addonType)
	if err != nil {
		return false, err
	}
	var exists bool
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", table)
	if err := r.db.QueryRow(ctx, query, uploadID).Scan(&exists); err != nil {
		return false, handlePostgresError("check revision", err)
	}
	return exists, nil
}

func (r *revisionRepo) Insert(ctx context.Context, addonType addons.AddonType, rev *addons.Revision) error {
	table, err := revisionTable(addonType)
	if err != nil {
		return err
	}
	columns := revisionColumns(addonType)
	args := []any{rev.ID, rev.AddonID, rev.FileID, rev.Revision, rev.Format, rev.ImageID,
		rev.ModeratorNote, int32(rev.Status), rev.CreatedAt}
	if addonType == addons.TypeKart {
		args = append(args, rev.IconID)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders(1, len(args)))
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if isForeignKeyViolation(err) {
			return addons.ErrAddonNotFound
		}
		return handlePostgresError("insert revision", err)
	}
	return nil
}

func (r *revisionRepo) exec(ctx context.Context, operation, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return handlePostgresError(operation, err)
	}
	if tag.RowsAffected() == 0 {
		return addons.ErrRevisionNotFound
	}
	return nil
}

func (r *revisionRepo) UpdateStatus(ctx context.Context, addonType addons.AddonType, addonID string, revision int, status addons.Status) error {
	table, err := revisionTable(addonType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET status = $1 WHERE addon_id = $2 AND revision = $3", table)
	return r.exec(ctx, "update revision status", query, int32(status), addonID, revision)
}

func (r *revisionRepo) UpdateNote(ctx context.Context, addonType addons.AddonType, addonID string, revision int, note string) error {
	table, err := revisionTable(addonType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET moderator_note = $1 WHERE addon_id = $2 AND revision = $3", table)
	return r.exec(ctx, "update revision note", query, note, addonID, revision)
}

func (r *revisionRepo) UpdateLatestImage(ctx context.Context, addonType addons.AddonType, addonID string, imageID int64, icon bool) error {
	table, err := revisionTable(addonType)
	if err != nil {
		return err
	}
	column := "image"
	if icon {
		if addonType != addons.TypeKart {
			return fmt.Errorf("%w: %s revisions have no icon", addons.ErrValidation, addonType)
		}
		column = "icon"
	}
	query := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE addon_id = $2 AND (status & $3) <> 0", table, column)
	return r.exec(ctx, "update revision image", query, imageID, addonID, int32(addons.StatusLatest))
}

func (r *revisionRepo) Delete(ctx context.Context, addonType addons.AddonType, addonID string, revision int) error {
	table, err := revisionTable(addonType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE addon_id = $1 AND revision = $2", table)
	return r.exec(ctx, "delete revision", query, addonID, revision)
}

// File operations

var fileTable = &entityTable[addons.File, int64]{
	name:     "files",
	key:      "id",
	columns:  []string{"id", "addon_id", "file_type", "file_path", "approved"},
	scan:     scanFile,
	notFound: addons.ErrFileNotFound,
	values: func(f *addons.File) ([]string, []any) {
		if f.ID == 0 {
			return []string{"addon_id", "file_type", "file_path", "approved"},
				[]any{f.AddonID, string(f.Type), f.Path, f.Approved}
		}
		return []string{"id", "addon_id", "file_type", "file_path", "approved"},
			[]any{f.ID, f.AddonID, string(f.Type), f.Path, f.Approved}
	},
	generated: func(f *addons.File) []any {
		if f.ID != 0 {
			return nil
		}
		return []any{&f.ID}
	},
}

func scanFile(row pgx.Row) (*addons.File, error) {
	var f addons.File
	var fileType string
	if err := row.Scan(&f.ID, &f.AddonID, &fileType, &f.Path, &f.Approved); err != nil {
		return nil, err
	}
	f.Type = addons.FileType(fileType)
	return &f, nil
}

type fileRepo struct {
	entities[addons.File, int64]
}

func (r *fileRepo) ListByAddon(ctx context.Context, addonID string, fileType addons.FileType, limit int) ([]*addons.File, error) {
	return r.listByAddon(ctx, addonID, fileType, limit, "id")
}

func (r *fileRepo) ListRecentByAddon(ctx context.Context, addonID string, fileType addons.FileType, limit int) ([]*addons.File, error) {
	return r.listByAddon(ctx, addonID, fileType, limit, "id DESC")
}

func (r *fileRepo) listByAddon(ctx context.Context, addonID string, fileType addons.FileType, limit int, order string) ([]*addons.File, error) {
	query := fmt.Sprintf("SELECT %s FROM files WHERE addon_id = $1", r.t.selectList())
	args := []any{addonID}
	if fileType != "" {
		args = append(args, string(fileType))
		query += fmt.Sprintf(" AND file_type = $%d", len(args))
	}
	query += " ORDER BY " + order
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, handlePostgresError("list files", err)
	}
	files, err := r.t.collect(rows)
	if err != nil {
		return nil, handlePostgresError("list files", err)
	}
	return files, nil
}

func (r *fileRepo) DeleteByAddon(ctx context.Context, addonID string) (int, error) {
	tag, err := r.db.Exec(ctx, "DELETE FROM files WHERE addon_id = $1", addonID)
	if err != nil {
		return 0, handlePostgresError("delete files", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *fileRepo) SetApproved(ctx context.Context, id int64, approved bool) error {
	tag, err := r.db.Exec(ctx, "UPDATE files SET approved = $1 WHERE id = $2", approved, id)
	if err != nil {
		return handlePostgresError("approve file", err)
	}
	if tag.RowsAffected() == 0 {
		return addons.ErrFileNotFound
	}
	return nil
}

func (r *fileRepo) QueueDelete(ctx context.Context, id int64, due time.Time) error {
	_, err := r.db.Exec(ctx, `INSERT INTO file_delete_queue (file_id, due_at) VALUES ($1, $2)
		ON CONFLICT (file_id) DO UPDATE SET due_at = EXCLUDED.due_at`, id, due)
	if isForeignKeyViolation(err) {
		return addons.ErrFileNotFound
	}
	if err != nil {
		return handlePostgresError("queue file deletion", err)
	}
	return nil
}

func (r *fileRepo) DueDeletions(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := r.db.Query(ctx, "SELECT file_id FROM file_delete_queue WHERE due_at <= $1 ORDER BY file_id", now)
	if err != nil {
		return nil, handlePostgresError("list due deletions", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, handlePostgresError("list due deletions", err)
	}
	return ids, nil
}

func (r *fileRepo) Dequeue(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM file_delete_queue WHERE file_id = $1", id); err != nil {
		return handlePostgresError("dequeue file deletion", err)
	}
	return nil
}

// Cache operations

var cacheTable = &entityTable[addons.CacheEntry, string]{
	name:     "cache",
	key:      "file",
	columns:  []string{"file", "addon", "props"},
	scan:     scanCacheEntry,
	notFound: addons.ErrCacheEntryNotFound,
	values: func(c *addons.CacheEntry) ([]string, []any) {
		var props *string
		if c.Props != "" {
			props = &c.Props
		}
		return []string{"file", "addon", "props"}, []any{c.Path, c.AddonID, props}
	},
}

func scanCacheEntry(row pgx.Row) (*addons.CacheEntry, error) {
	var c addons.CacheEntry
	var props *string
	if err := row.Scan(&c.Path, &c.AddonID, &props); err != nil {
		return nil, err
	}
	if props != nil {
		c.Props = *props
	}
	return &c, nil
}

type cacheRepo struct {
	entities[addons.CacheEntry, string]
}

func (r *cacheRepo) List(ctx context.Context, addonID *string) ([]*addons.CacheEntry, error) {
	query := fmt.Sprintf("SELECT %s FROM cache", r.t.selectList())
	var args []any
	if addonID != nil {
		query += " WHERE addon = $1"
		args = append(args, *addonID)
	}
	query += " ORDER BY file"
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, handlePostgresError("list cache entries", err)
	}
	entries, err := r.t.collect(rows)
	if err != nil {
		return nil, handlePostgresError("list cache entries", err)
	}
	return entries, nil
}
