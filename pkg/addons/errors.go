package addons

import (
	"errors"
	"fmt"
)

// Error categories
var (
	// ErrValidation indicates malformed input
	ErrValidation = errors.New("validation failed")

	// ErrPermission indicates the caller lacks the required capability
	ErrPermission = errors.New("permission denied")

	// ErrNotFound indicates a referenced entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrConsistency indicates the operation would break a store invariant
	ErrConsistency = errors.New("consistency violation")

	// ErrPersistence indicates the underlying store failed
	ErrPersistence = errors.New("persistence failure")

	// ErrPartialFailure indicates the primary effect happened but a follow-up step failed
	ErrPartialFailure = errors.New("partial failure")
)

// Repository errors
var (
	// ErrAddonNotFound indicates an add-on row was not found
	ErrAddonNotFound = errors.New("addon not found")

	// ErrRevisionNotFound indicates a revision row was not found
	ErrRevisionNotFound = errors.New("revision not found")

	// ErrFileNotFound indicates a file record was not found
	ErrFileNotFound = errors.New("file not found")

	// ErrCacheEntryNotFound indicates a cache row was not found
	ErrCacheEntryNotFound = errors.New("cache entry not found")

	// ErrAlreadyExists indicates a unique key collision
	ErrAlreadyExists = errors.New("already exists")

	// ErrRevisionConflict indicates another writer took the same revision number
	ErrRevisionConflict = errors.New("revision number already taken")

	// ErrBlobNotFound indicates a stored object was not found
	ErrBlobNotFound = errors.New("object not found")
)

// Kind classifies an Error.
type Kind int

// Error kinds
const (
	KindValidation Kind = iota + 1
	KindPermission
	KindNotFound
	KindConsistency
	KindPersistence
	KindPartialFailure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindConsistency:
		return "consistency"
	case KindPersistence:
		return "persistence"
	case KindPartialFailure:
		return "partial_failure"
	}
	return "unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindPermission:
		return ErrPermission
	case KindNotFound:
		return ErrNotFound
	case KindConsistency:
		return ErrConsistency
	case KindPersistence:
		return ErrPersistence
	case KindPartialFailure:
		return ErrPartialFailure
	}
	return nil
}

// Error is returned by every store operation. Message is safe to show to the
// end user; Err keeps the underlying cause for errors.Is and logging and is
// never part of Error().
type Error struct {
	Kind    Kind
	Op      string
	AddonID string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.AddonID != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.AddonID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap exposes both the category sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(kind Kind, op, addonID, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, AddonID: addonID, Message: message, Err: err}
}

// KindOf returns the kind of err, or zero when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
