package addons

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIncludeVersions(t *testing.T) {
	assert.NoError(t, ValidateIncludeVersions("", ""))
	assert.NoError(t, ValidateIncludeVersions("0.8", "0.9.1"))
	assert.NoError(t, ValidateIncludeVersions("0.9", ""))
	assert.NoError(t, ValidateIncludeVersions("1.0", "1.0"))
	assert.ErrorIs(t, ValidateIncludeVersions("0.9", "0.8"), ErrValidation)
	assert.ErrorIs(t, ValidateIncludeVersions("svn", ""), ErrValidation)
	assert.ErrorIs(t, ValidateIncludeVersions("", "1.x"), ErrValidation)
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "bold and plain", StripTags("<b>bold</b> and plain"))
	assert.Equal(t, "a < b", StripTags("a &lt; b"))
	assert.Equal(t, "", StripTags(""))
}

func TestNotesDigest(t *testing.T) {
	got := NotesDigest(map[int]string{1: "first", 3: "<p>third</p>\r\nline"})
	assert.Equal(t, "\n== Revision 3 ==\nthird\nline\n\n\n== Revision 1 ==\nfirst\n\n", got)
	assert.Empty(t, NotesDigest(nil))
}

func TestAppendMissingTextures(t *testing.T) {
	assert.Equal(t, "note", appendMissingTextures("note", nil))
	assert.Equal(t, "Texture not found: a.png\n", appendMissingTextures("", []string{"a.png"}))
}
