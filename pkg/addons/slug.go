package addons

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var numberedSlug = regexp.MustCompile(`^(.+)_([0-9]+)$`)

// CleanID normalizes a raw name into an add-on id: lowercase, with every
// character outside [a-z0-9_-] replaced by '-'. It reports false for empty
// or non-text input.
func CleanID(raw string) (string, bool) {
	if raw == "" || !utf8.ValidString(raw) {
		return "", false
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String(), true
}

// ExistsFunc reports whether an add-on id is already taken.
type ExistsFunc func(ctx context.Context, id string) (bool, error)

// SlugGenerator derives unused add-on ids from names.
type SlugGenerator struct {
	exists ExistsFunc
}

// NewSlugGenerator creates a generator checking candidates with exists
func NewSlugGenerator(exists ExistsFunc) *SlugGenerator {
	return &SlugGenerator{exists: exists}
}

// Generate returns the first unused id derived from name. A taken "x_N" is
// retried as "x_N+1"; any other taken id gets "_1" appended.
func (g *SlugGenerator) Generate(ctx context.Context, name string) (string, error) {
	id, ok := CleanID(name)
	if !ok {
		return "", ErrValidation
	}
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		taken, err := g.exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
		id = nextSlug(id)
	}
}

func nextSlug(id string) string {
	m := numberedSlug.FindStringSubmatch(id)
	if m == nil {
		return id + "_1"
	}
	n, err := strconv.ParseUint(m[2], 10, 63)
	if err != nil {
		return id + "_1"
	}
	return m[1] + "_" + strconv.FormatUint(n+1, 10)
}
