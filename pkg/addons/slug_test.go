package addons

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"Big Track", "big-track", true},
		{"tux_2", "tux_2", true},
		{"Snow-Peak!", "snow-peak-", true},
		{"Foo Bar!", "foo-bar-", true},
		{"Öl", "-l", true},
		{"", "", false},
		{"\xff\xfe", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := CleanID(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanID_Idempotent(t *testing.T) {
	inputs := []string{
		"Foo Bar!",
		"already-clean_id-9",
		"Zen Garden (v2.0)",
		"Öl & Ärger",
		"日本のトラック",
		"__Tux__",
		"   ",
		"A.B/C\\D",
		"x",
	}
	for _, raw := range inputs {
		t.Run(raw, func(t *testing.T) {
			once, ok := CleanID(raw)
			require.True(t, ok)
			twice, ok := CleanID(once)
			require.True(t, ok)
			assert.Equal(t, once, twice)
		})
	}
}

func TestNextSlug(t *testing.T) {
	assert.Equal(t, "track_1", nextSlug("track"))
	assert.Equal(t, "track_10", nextSlug("track_9"))
	assert.Equal(t, "track_a_1", nextSlug("track_a"))
	assert.Equal(t, "_1_1", nextSlug("_1"))
}

func TestSlugGenerator(t *testing.T) {
	ctx := context.Background()
	taken := map[string]bool{"big-track": true, "big-track_1": true}
	gen := NewSlugGenerator(func(ctx context.Context, id string) (bool, error) {
		return taken[id], nil
	})

	id, err := gen.Generate(ctx, "Big Track")
	require.NoError(t, err)
	assert.Equal(t, "big-track_2", id)

	_, err = gen.Generate(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)

	failing := NewSlugGenerator(func(ctx context.Context, id string) (bool, error) {
		return false, errors.New("db down")
	})
	_, err = failing.Generate(ctx, "x")
	assert.EqualError(t, err, "db down")
}
