package addons

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
)

// DefaultDedupLimit bounds how many existing images are hashed per upload.
const DefaultDedupLimit = 50

// ImageDeduplicator finds an existing image of an add-on whose content
// matches a freshly uploaded one.
type ImageDeduplicator struct {
	files   FileRepository
	storage FileStorage
	limit   int
	logger  *slog.Logger
}

// NewImageDeduplicator creates a deduplicator comparing the newest limit images.
// A limit <= 0 falls back to DefaultDedupLimit.
func NewImageDeduplicator(files FileRepository, storage FileStorage, limit int, logger *slog.Logger) *ImageDeduplicator {
	if limit <= 0 {
		limit = DefaultDedupLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageDeduplicator{files: files, storage: storage, limit: limit, logger: logger}
}

// Find returns the id of an existing image of addonID with the same content
// as candidateID among its newest images. The candidate itself is never
// returned. Images that cannot be read are skipped.
func (d *ImageDeduplicator) Find(ctx context.Context, addonID string, candidateID int64) (int64, bool, error) {
	path, err := d.storage.PathFor(ctx, candidateID)
	if err != nil {
		return 0, false, fmt.Errorf("resolve candidate image %d: %w", candidateID, err)
	}
	want, err := d.hash(ctx, path)
	if err != nil {
		return 0, false, fmt.Errorf("hash candidate image %d: %w", candidateID, err)
	}

	// One extra row covers the candidate, which is usually the newest image.
	images, err := d.files.ListRecentByAddon(ctx, addonID, FileTypeImage, d.limit+1)
	if err != nil {
		return 0, false, fmt.Errorf("list images of %s: %w", addonID, err)
	}
	compared := 0
	for _, img := range images {
		if img.ID == candidateID {
			continue
		}
		if compared == d.limit {
			break
		}
		compared++
		got, err := d.hash(ctx, img.Path)
		if err != nil {
			d.logger.WarnContext(ctx, "Skipping unreadable image", "addon_id", addonID, "file_id", img.ID, "error", err)
			continue
		}
		if got == want {
			return img.ID, true, nil
		}
	}
	return 0, false, nil
}

func (d *ImageDeduplicator) hash(ctx context.Context, path string) (string, error) {
	r, err := d.storage.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
