package addons

import "strings"

// Status is the bit-flag word persisted with every revision.
type Status uint32

// Status flags. Bit positions are persisted and must not change.
const (
	StatusApproved Status = 1 << iota
	StatusAlpha
	StatusBeta
	StatusRC
	StatusInvisible
	StatusDFSG
	StatusFeatured
	StatusLatest
	StatusTextureNotPowerOfTwo
)

// Flags any revision owner may change.
const userFlags = StatusAlpha | StatusBeta | StatusRC

// Flags only moderators may change.
const moderatorFlags = StatusApproved | StatusInvisible | StatusDFSG | StatusFeatured

var flagNames = []struct {
	name string
	flag Status
}{
	{"approved", StatusApproved},
	{"alpha", StatusAlpha},
	{"beta", StatusBeta},
	{"rc", StatusRC},
	{"invisible", StatusInvisible},
	{"dfsg", StatusDFSG},
	{"featured", StatusFeatured},
	{"latest", StatusLatest},
	{"texnotpow2", StatusTextureNotPowerOfTwo},
}

// FlagByName returns the form-settable flag with the given name. LATEST and
// the texture flag are not settable by name.
func FlagByName(name string) (Status, bool) {
	switch name {
	case "approved":
		return StatusApproved, true
	case "alpha":
		return StatusAlpha, true
	case "beta":
		return StatusBeta, true
	case "rc":
		return StatusRC, true
	case "invisible":
		return StatusInvisible, true
	case "dfsg":
		return StatusDFSG, true
	case "featured":
		return StatusFeatured, true
	}
	return 0, false
}

// mutableMask returns the flags a caller may rewrite in one status update.
func mutableMask(privileged bool) Status {
	if privileged {
		return userFlags | moderatorFlags
	}
	return userFlags
}

// uploadStatus keeps the flags a caller may submit with an upload: the
// flags it may change through the status form plus the texture flag set by
// the package parser. LATEST is kept only when withLatest is set.
func uploadStatus(submitted Status, privileged, withLatest bool) Status {
	allowed := mutableMask(privileged) | StatusTextureNotPowerOfTwo
	if withLatest {
		allowed |= StatusLatest
	}
	return submitted & allowed
}

func (s Status) Has(flag Status) bool { return s&flag == flag }

func (s Status) With(flag Status) Status { return s | flag }

func (s Status) Without(flag Status) Status { return s &^ flag }

func (s Status) IsApproved() bool  { return s.Has(StatusApproved) }
func (s Status) IsAlpha() bool     { return s.Has(StatusAlpha) }
func (s Status) IsBeta() bool      { return s.Has(StatusBeta) }
func (s Status) IsRC() bool        { return s.Has(StatusRC) }
func (s Status) IsInvisible() bool { return s.Has(StatusInvisible) }
func (s Status) IsDFSG() bool      { return s.Has(StatusDFSG) }
func (s Status) IsFeatured() bool  { return s.Has(StatusFeatured) }
func (s Status) IsLatest() bool    { return s.Has(StatusLatest) }

// IsTexturePowerOfTwo reports whether every texture of the revision has
// power-of-two dimensions.
func (s Status) IsTexturePowerOfTwo() bool { return !s.Has(StatusTextureNotPowerOfTwo) }

// String lists the set flags joined by "|".
func (s Status) String() string {
	var names []string
	for _, f := range flagNames {
		if s.Has(f.flag) {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
