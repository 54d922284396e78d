package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-addons/pkg/addons"
)

// Repository implements addons.Repository using in-memory storage
type Repository struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	addons    *table[addons.Addon, string]
	files     *table[addons.File, int64]
	cache     *table[addons.CacheEntry, string]
	revisions map[addons.AddonType]map[string][]addons.Revision // type -> addon_id -> revisions by number
	queue     map[int64]time.Time                               // file_id -> due
	nextFile  int64
}

// New creates a new in-memory repository
func New() *Repository {
	r := &Repository{
		addons:    newTable(func(a *addons.Addon) string { return a.ID }, addons.ErrAddonNotFound),
		files:     newTable(func(f *addons.File) int64 { return f.ID }, addons.ErrFileNotFound),
		cache:     newTable(func(c *addons.CacheEntry) string { return c.Path }, addons.ErrCacheEntryNotFound),
		revisions: make(map[addons.AddonType]map[string][]addons.Revision),
		queue:     make(map[int64]time.Time),
	}
	r.addons.store = func(a addons.Addon) addons.Addon {
		a.Revisions = nil
		return a
	}
	r.files.assign = func(f *addons.File) {
		r.nextFile++
		f.ID = r.nextFile
	}
	return r
}

func (r *Repository) Addons() addons.AddonRepository {
	return &addonRepo{entities[addons.Addon, string]{r, r.addons}}
}
func (r *Repository) Revisions() addons.RevisionRepository { return &revisionRepo{r} }
func (r *Repository) Files() addons.FileRepository {
	return &fileRepo{entities[addons.File, int64]{r, r.files}}
}
func (r *Repository) Cache() addons.CacheRepository {
	return &cacheRepo{entities[addons.CacheEntry, string]{r, r.cache}}
}

// InTx serializes transactions and restores a snapshot when fn fails.
// Writes made outside InTx while a transaction runs are lost on rollback.
func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx addons.Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	snap := r.snapshot()
	if err := fn(ctx, r); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	addons    map[string]addons.Addon
	files     map[int64]addons.File
	cache     map[string]addons.CacheEntry
	revisions map[addons.AddonType]map[string][]addons.Revision
	queue     map[int64]time.Time
	nextFile  int64
}

func (r *Repository) snapshot() snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	revs := make(map[addons.AddonType]map[string][]addons.Revision, len(r.revisions))
	for t, byAddon := range r.revisions {
		m := make(map[string][]addons.Revision, len(byAddon))
		for id, list := range byAddon {
			m[id] = slices.Clone(list)
		}
		revs[t] = m
	}
	queue := make(map[int64]time.Time, len(r.queue))
	for id, due := range r.queue {
		queue[id] = due
	}
	return snapshot{
		addons:    r.addons.snapshot(),
		files:     r.files.snapshot(),
		cache:     r.cache.snapshot(),
		revisions: revs,
		queue:     queue,
		nextFile:  r.nextFile,
	}
}

func (r *Repository) restore(s snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.addons.rows = s.addons
	r.files.rows = s.files
	r.cache.rows = s.cache
	r.revisions = s.revisions
	r.queue = s.queue
	r.nextFile = s.nextFile
}

// Add-on operations

type addonRepo struct {
	entities[addons.Addon, string]
}

// Delete removes the add-on together with its revisions and cache entries
// and detaches its files.
func (a *addonRepo) Delete(ctx context.Context, id string) error {
	r := a.r
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.addons.rows[id]
	if !ok {
		return addons.ErrAddonNotFound
	}
	delete(r.addons.rows, id)
	delete(r.revisions[row.Type], id)
	for path, entry := range r.cache.rows {
		if entry.AddonID != nil && *entry.AddonID == id {
			delete(r.cache.rows, path)
		}
	}
	for fid, f := range r.files.rows {
		if f.AddonID != nil && *f.AddonID == id {
			f.AddonID = nil
			r.files.rows[fid] = f
		}
	}
	return nil
}

func (a *addonRepo) Update(ctx context.Context, id string, u addons.AddonUpdate) error {
	r := a.r
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.addons.rows[id]
	if !ok {
		return addons.ErrAddonNotFound
	}
	if u.Name != nil {
		row.Name = *u.Name
	}
	if u.Designer != nil {
		designer := *u.Designer
		row.Designer = &designer
	}
	if u.Description != nil {
		row.Description = *u.Description
	}
	if u.License != nil {
		row.License = *u.License
	}
	if u.MinIncludeVersion != nil {
		row.MinIncludeVersion = *u.MinIncludeVersion
	}
	if u.MaxIncludeVersion != nil {
		row.MaxIncludeVersion = *u.MaxIncludeVersion
	}
	if u.ImageID != nil {
		row.ImageID = *u.ImageID
	}
	if u.IconID != nil {
		row.IconID = *u.IconID
	}
	r.addons.rows[id] = row
	return nil
}

func (a *addonRepo) Search(ctx context.Context, query string, includeDescription bool) ([]*addons.Addon, error) {
	r := a.r
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(query)
	var result []*addons.Addon
	for _, row := range r.addons.rows {
		match := strings.Contains(strings.ToLower(row.Name), q)
		if !match && includeDescription {
			match = strings.Contains(strings.ToLower(row.Description), q)
		}
		if match {
			addon := row
			result = append(result, &addon)
		}
	}
	slices.SortFunc(result, func(x, y *addons.Addon) int {
		return cmp.Or(cmp.Compare(x.Name, y.Name), cmp.Compare(x.ID, y.ID))
	})
	return result, nil
}

func (a *addonRepo) ListLatest(ctx context.Context, addonType addons.AddonType, featuredFirst bool) ([]string, error) {
	r := a.r
	r.mu.RLock()
	defer r.mu.RUnlock()

	type listed struct {
		id, name string
		featured bool
	}
	var rows []listed
	for id, revs := range r.revisions[addonType] {
		row, ok := r.addons.rows[id]
		if !ok || row.Type != addonType {
			continue
		}
		for _, rev := range revs {
			if rev.Status.IsLatest() {
				rows = append(rows, listed{id: id, name: row.Name, featured: rev.Status.IsFeatured()})
				break
			}
		}
	}
	slices.SortFunc(rows, func(x, y listed) int {
		if featuredFirst && x.featured != y.featured {
			if x.featured {
				return -1
			}
			return 1
		}
		return cmp.Or(cmp.Compare(x.name, y.name), cmp.Compare(x.id, y.id))
	})

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.id)
	}
	return ids, nil
}

// Revision operations

type revisionRepo struct {
	r *Repository
}

func (v *revisionRepo) List(ctx context.Context, addonType addons.AddonType, addonID string) ([]*addons.Revision, error) {
	v.r.mu.RLock()
	defer v.r.mu.RUnlock()

	list := v.r.revisions[addonType][addonID]
	result := make([]*addons.Revision, 0, len(list))
	for _, rev := range list {
		rev := rev
		result = append(result, &rev)
	}
	return result, nil
}

func (v *revisionRepo) UploadExists(ctx context.Context, addonType addons.AddonType, uploadID uuid.UUID) (bool, error) {
	v.r.mu.RLock()
	defer v.r.mu.RUnlock()

	for _, list := range v.r.revisions[addonType] {
		for _, rev := range list {
			if rev.ID == uploadID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (v *revisionRepo) Insert(ctx context.Context, addonType addons.AddonType, rev *addons.Revision) error {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()

	if _, ok := v.r.addons.rows[rev.AddonID]; !ok {
		return addons.ErrAddonNotFound
	}
	byAddon := v.r.revisions[addonType]
	if byAddon == nil {
		byAddon = make(map[string][]addons.Revision)
		v.r.revisions[addonType] = byAddon
	}
	for _, list := range byAddon {
		for _, existing := range list {
			if existing.ID == rev.ID {
				return addons.ErrAlreadyExists
			}
		}
	}
	list := byAddon[rev.AddonID]
	for _, existing := range list {
		if existing.Revision == rev.Revision {
			return addons.ErrRevisionConflict
		}
	}
	list = append(list, *rev)
	slices.SortFunc(list, func(x, y addons.Revision) int { return cmp.Compare(x.Revision, y.Revision) })
	byAddon[rev.AddonID] = list
	return nil
}

// modify applies fn to the stored revision.
func (v *revisionRepo) modify(addonType addons.AddonType, addonID string, revision int, fn func(*addons.Revision)) error {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()

	list := v.r.revisions[addonType][addonID]
	for i := range list {
		if list[i].Revision == revision {
			fn(&list[i])
			return nil
		}
	}
	return addons.ErrRevisionNotFound
}

func (v *revisionRepo) UpdateStatus(ctx context.Context, addonType addons.AddonType, addonID string, revision int, status addons.Status) error {
	return v.modify(addonType, addonID, revision, func(rev *addons.Revision) { rev.Status = status })
}

func (v *revisionRepo) UpdateNote(ctx context.Context, addonType addons.AddonType, addonID string, revision int, note string) error {
	return v.modify(addonType, addonID, revision, func(rev *addons.Revision) { rev.ModeratorNote = note })
}

func (v *revisionRepo) UpdateLatestImage(ctx context.Context, addonType addons.AddonType, addonID string, imageID int64, icon bool) error {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()

	list := v.r.revisions[addonType][addonID]
	for i := range list {
		if !list[i].Status.IsLatest() {
			continue
		}
		if icon {
			list[i].IconID = imageID
		} else {
			list[i].ImageID = imageID
		}
		return nil
	}
	return addons.ErrRevisionNotFound
}

func (v *revisionRepo) Delete(ctx context.Context, addonType addons.AddonType, addonID string, revision int) error {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()

	list := v.r.revisions[addonType][addonID]
	for i := range list {
		if list[i].Revision == revision {
			v.r.revisions[addonType][addonID] = slices.Delete(list, i, i+1)
			return nil
		}
	}
	return addons.ErrRevisionNotFound
}

// File operations

type fileRepo struct {
	entities[addons.File, int64]
}

// Delete removes the record and any pending deletion of it.
func (f *fileRepo) Delete(ctx context.Context, id int64) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	if err := f.t.delete(id); err != nil {
		return err
	}
	delete(f.r.queue, id)
	return nil
}

func (f *fileRepo) ListByAddon(ctx context.Context, addonID string, fileType addons.FileType, limit int) ([]*addons.File, error) {
	return f.listByAddon(addonID, fileType, limit, false), nil
}

func (f *fileRepo) ListRecentByAddon(ctx context.Context, addonID string, fileType addons.FileType, limit int) ([]*addons.File, error) {
	return f.listByAddon(addonID, fileType, limit, true), nil
}

func (f *fileRepo) listByAddon(addonID string, fileType addons.FileType, limit int, newestFirst bool) []*addons.File {
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()

	var result []*addons.File
	for _, row := range f.t.rows {
		if row.AddonID == nil || *row.AddonID != addonID {
			continue
		}
		if fileType != "" && row.Type != fileType {
			continue
		}
		file := row
		result = append(result, &file)
	}
	slices.SortFunc(result, func(x, y *addons.File) int {
		if newestFirst {
			return cmp.Compare(y.ID, x.ID)
		}
		return cmp.Compare(x.ID, y.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (f *fileRepo) DeleteByAddon(ctx context.Context, addonID string) (int, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	n := 0
	for id, row := range f.t.rows {
		if row.AddonID != nil && *row.AddonID == addonID {
			delete(f.t.rows, id)
			delete(f.r.queue, id)
			n++
		}
	}
	return n, nil
}

func (f *fileRepo) SetApproved(ctx context.Context, id int64, approved bool) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	row, ok := f.t.rows[id]
	if !ok {
		return addons.ErrFileNotFound
	}
	row.Approved = approved
	f.t.rows[id] = row
	return nil
}

func (f *fileRepo) QueueDelete(ctx context.Context, id int64, due time.Time) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	if _, ok := f.t.rows[id]; !ok {
		return addons.ErrFileNotFound
	}
	f.r.queue[id] = due
	return nil
}

func (f *fileRepo) DueDeletions(ctx context.Context, now time.Time) ([]int64, error) {
	f.r.mu.RLock()
	defer f.r.mu.RUnlock()

	var ids []int64
	for id, due := range f.r.queue {
		if !due.After(now) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *fileRepo) Dequeue(ctx context.Context, id int64) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()

	delete(f.r.queue, id)
	return nil
}

// Cache operations

type cacheRepo struct {
	entities[addons.CacheEntry, string]
}

func (c *cacheRepo) List(ctx context.Context, addonID *string) ([]*addons.CacheEntry, error) {
	c.r.mu.RLock()
	defer c.r.mu.RUnlock()

	var result []*addons.CacheEntry
	for _, row := range c.t.rows {
		if addonID != nil && (row.AddonID == nil || *row.AddonID != *addonID) {
			continue
		}
		entry := row
		result = append(result, &entry)
	}
	slices.SortFunc(result, func(x, y *addons.CacheEntry) int { return cmp.Compare(x.Path, y.Path) })
	return result, nil
}
