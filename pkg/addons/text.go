package addons

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/semver"
	"golang.org/x/net/html"
)

// ValidateIncludeVersions checks that min and max are release versions
// ("0.8", "0.9.1") and that min does not exceed max. Empty values clear the
// bound and are always accepted.
func ValidateIncludeVersions(min, max string) error {
	for _, v := range []string{min, max} {
		if v != "" && !semver.IsValid("v"+v) {
			return fmt.Errorf("%w: %q is not a valid version", ErrValidation, v)
		}
	}
	if min != "" && max != "" && semver.Compare("v"+min, "v"+max) > 0 {
		return fmt.Errorf("%w: minimum version %s is newer than maximum version %s", ErrValidation, min, max)
	}
	return nil
}

// StripTags returns the text content of an HTML fragment.
func StripTags(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		}
	}
}

// NotesDigest renders moderator notes for the uploader notice, newest
// revision first.
func NotesDigest(notes map[int]string) string {
	revs := make([]int, 0, len(notes))
	for rev := range notes {
		revs = append(revs, rev)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(revs)))

	var b strings.Builder
	for _, rev := range revs {
		note := strings.ReplaceAll(notes[rev], "\r\n", "\n")
		fmt.Fprintf(&b, "\n== Revision %d ==\n%s\n\n", rev, StripTags(note))
	}
	return b.String()
}

func appendMissingTextures(message string, textures []string) string {
	for _, tex := range textures {
		message += "Texture not found: " + tex + "\n"
	}
	return message
}
