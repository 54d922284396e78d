package addons_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-addons/pkg/addons"
	"github.com/tendant/simple-addons/pkg/addons/files"
	"github.com/tendant/simple-addons/pkg/addons/repo/memory"
	memorystorage "github.com/tendant/simple-addons/pkg/addons/storage/memory"
)

const (
	uploaderID  = int64(10)
	strangerID  = int64(20)
	moderatorID = int64(30)
)

var farFuture = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

// fakePerms is a mutable principal shared by a fixture.
type fakePerms struct {
	mu     sync.RWMutex
	id     int64
	name   string
	editor bool
}

func (p *fakePerms) set(id int64, name string, editor bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id, p.name, p.editor = id, name, editor
}

func (p *fakePerms) IsLoggedIn(ctx context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id > 0
}

func (p *fakePerms) CurrentUserID(ctx context.Context) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id
}

func (p *fakePerms) CurrentUserName(ctx context.Context) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

func (p *fakePerms) HasPermission(ctx context.Context, perm addons.Permission) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id > 0 && p.editor && perm == addons.PermEditAddons
}

type notice struct {
	subject, body string
	uploaderID    int64
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *recordingNotifier) SendModeratorNotice(ctx context.Context, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{subject: subject, body: body})
	return nil
}

func (n *recordingNotifier) SendUploaderNotice(ctx context.Context, uploaderID int64, addonID, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{body: body, uploaderID: uploaderID})
	return nil
}

func (n *recordingNotifier) last() notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notices) == 0 {
		return notice{}
	}
	return n.notices[len(n.notices)-1]
}

type recordingAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *recordingAudit) Record(ctx context.Context, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, message)
	return nil
}

func (a *recordingAudit) last() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) == 0 {
		return ""
	}
	return a.events[len(a.events)-1]
}

type fixture struct {
	repo       addons.Repository
	mem        *memory.Repository
	uploads    *memorystorage.Backend
	cacheBlobs *memorystorage.Backend
	files      *files.Storage
	cache      *addons.CacheRegistry
	perms      *fakePerms
	notifier   *recordingNotifier
	audit      *recordingAudit
	store      *addons.Store
}

type fixtureOption func(*fixture, *[]addons.Option)

// withRepository wraps the memory repository before the store is built.
func withRepository(wrap func(addons.Repository) addons.Repository) fixtureOption {
	return func(f *fixture, _ *[]addons.Option) {
		f.repo = wrap(f.repo)
	}
}

func withNotifier(n addons.Notifier) fixtureOption {
	return func(_ *fixture, opts *[]addons.Option) {
		*opts = append(*opts, addons.WithNotifier(n))
	}
}

func newFixture(t *testing.T, options ...fixtureOption) *fixture {
	t.Helper()
	mem := memory.New()
	f := &fixture{
		repo:       mem,
		mem:        mem,
		uploads:    memorystorage.New(),
		cacheBlobs: memorystorage.New(),
		perms:      &fakePerms{id: uploaderID, name: "uploader"},
		notifier:   &recordingNotifier{},
		audit:      &recordingAudit{},
	}
	var opts []addons.Option
	for _, o := range options {
		o(f, &opts)
	}

	f.files = files.New(f.repo.Files(), f.uploads)
	cache, err := addons.NewCacheRegistry(f.repo, f.cacheBlobs,
		addons.WithCacheURLs("https://addons.example.org/", "https://dl.example.org/", "https://dl.example.org/cache/"))
	require.NoError(t, err)
	f.cache = cache

	base := []addons.Option{
		addons.WithRepository(f.repo),
		addons.WithPermissions(f.perms),
		addons.WithFileStorage(f.files),
		addons.WithCacheRegistry(cache),
		addons.WithNotifier(f.notifier),
		addons.WithAuditLog(f.audit),
		addons.WithSiteRoot("https://addons.example.org/"),
		addons.WithClock(func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }),
	}
	store, err := addons.New(append(base, opts...)...)
	require.NoError(t, err)
	f.store = store
	return f
}

func (f *fixture) as(id int64, editor bool) {
	names := map[int64]string{uploaderID: "uploader", strangerID: "stranger", moderatorID: "moderator"}
	f.perms.set(id, names[id], editor)
}

func (f *fixture) saveFile(t *testing.T, addonID string, fileType addons.FileType, name, content string) *addons.File {
	t.Helper()
	var owner *string
	if addonID != "" {
		owner = &addonID
	}
	saved, err := f.files.Save(context.Background(), owner, fileType, string(fileType), name, strings.NewReader(content))
	require.NoError(t, err)
	return saved
}

// createAddon creates an add-on as the uploader with revision 1 marked latest.
func (f *fixture) createAddon(t *testing.T, addonType addons.AddonType, name string) *addons.Addon {
	t.Helper()
	f.as(uploaderID, false)
	content := f.saveFile(t, "", addons.FileTypeContent, uuid.NewString()+".zip", "content "+name)
	addon, err := f.store.Create(context.Background(), addonType, addons.Attributes{
		Name:    name,
		License: "GPL",
		FileID:  content.ID,
		Format:  "5",
		Status:  addons.StatusLatest,
	}, uuid.New(), "")
	require.NoError(t, err)
	return addon
}

// addRevision appends a revision as the uploader.
func (f *fixture) addRevision(t *testing.T, addon *addons.Addon, status addons.Status) *addons.Revision {
	t.Helper()
	f.as(uploaderID, false)
	content := f.saveFile(t, addon.ID, addons.FileTypeContent, uuid.NewString()+".zip", "content")
	rev, err := f.store.CreateRevision(context.Background(), addon, addons.Attributes{
		Name:    addon.Name,
		License: addon.License,
		FileID:  content.ID,
		Status:  status,
	}, uuid.New(), "")
	require.NoError(t, err)
	return rev
}
