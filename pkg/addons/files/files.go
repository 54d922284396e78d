// Package files resolves add-on file records to stored content and runs the
// deferred deletion queue.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/tendant/simple-addons/pkg/addons"
)

// DefaultDeleteDelay is how long a queued file stays downloadable.
const DefaultDeleteDelay = 24 * time.Hour

// Storage implements addons.FileStorage over a file repository and a blob store.
type Storage struct {
	repo   addons.FileRepository
	blobs  addons.BlobStore
	delay  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Storage.
type Option func(*Storage)

// WithDeleteDelay sets how long queued files are kept
func WithDeleteDelay(d time.Duration) Option {
	return func(s *Storage) {
		s.delay = d
	}
}

// WithClock sets the time source of the deletion queue
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		s.now = now
	}
}

// WithLogger sets the logger of the storage
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		s.logger = logger
	}
}

// New creates a file storage
func New(repo addons.FileRepository, blobs addons.BlobStore, opts ...Option) *Storage {
	s := &Storage{
		repo:   repo,
		blobs:  blobs,
		delay:  DefaultDeleteDelay,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save uploads r under dir with the given file name and records it.
func (s *Storage) Save(ctx context.Context, addonID *string, fileType addons.FileType, dir, name string, r io.Reader) (*addons.File, error) {
	key := path.Join(dir, path.Base(name))
	if err := s.blobs.Upload(ctx, key, r); err != nil {
		return nil, fmt.Errorf("store %s: %w", key, err)
	}
	f := &addons.File{AddonID: addonID, Path: key, Type: fileType}
	if err := s.repo.Insert(ctx, f); err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.WarnContext(ctx, "Failed to remove orphaned upload", "file", key, "error", delErr)
		}
		return nil, fmt.Errorf("record %s: %w", key, err)
	}
	return f, nil
}

func (s *Storage) PathFor(ctx context.Context, fileID int64) (string, error) {
	f, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return "", err
	}
	return f.Path, nil
}

func (s *Storage) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	return s.blobs.Download(ctx, p)
}

func (s *Storage) Exists(ctx context.Context, p string) (bool, error) {
	return s.blobs.Exists(ctx, p)
}

// Remove deletes stored content. Missing content is not an error.
func (s *Storage) Remove(ctx context.Context, p string) error {
	if err := s.blobs.Delete(ctx, p); err != nil && !errors.Is(err, addons.ErrBlobNotFound) {
		return err
	}
	return nil
}

// Delete removes the stored content and then the record.
func (s *Storage) Delete(ctx context.Context, fileID int64) error {
	f, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if err := s.Remove(ctx, f.Path); err != nil {
		return fmt.Errorf("delete %s: %w", f.Path, err)
	}
	return s.repo.Delete(ctx, fileID)
}

// QueueDelete schedules the file for removal once the delete delay passes.
func (s *Storage) QueueDelete(ctx context.Context, fileID int64) error {
	return s.repo.QueueDelete(ctx, fileID, s.now().Add(s.delay))
}

func (s *Storage) Approve(ctx context.Context, fileID int64, approved bool) error {
	return s.repo.SetApproved(ctx, fileID, approved)
}

// ProcessDeleteQueue removes every file whose deletion is due and returns
// how many were removed. Failed files stay queued.
func (s *Storage) ProcessDeleteQueue(ctx context.Context) (int, error) {
	due, err := s.repo.DueDeletions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list due deletions: %w", err)
	}

	removed := 0
	var errs []error
	for _, id := range due {
		err := s.Delete(ctx, id)
		if errors.Is(err, addons.ErrFileNotFound) {
			err = s.repo.Dequeue(ctx, id)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to delete queued file", "file_id", id, "error", err)
			errs = append(errs, err)
			continue
		}
		removed++
	}
	s.logger.InfoContext(ctx, "Processed file deletion queue", "due", len(due), "removed", removed)
	return removed, errors.Join(errs...)
}
