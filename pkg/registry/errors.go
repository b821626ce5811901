package registry

import (
	"errors"

	"github.com/tracklab/tracklab/pkg/authz"
)

var (
	// ErrNotFound covers both "does not exist" and "caller may not know
	// whether it exists". Aliased to the authz sentinel so masking errors
	// from ACL checks satisfy the same errors.Is test.
	ErrNotFound = authz.ErrNotFound

	// ErrAccessDenied is returned when the caller is visible on the object
	// but lacks the required rank.
	ErrAccessDenied = authz.ErrAccessDenied

	// ErrConflict signals a state-machine violation, such as mutating a
	// run that has already completed or failed.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput signals a referential or precondition violation,
	// such as attaching an artifact to a non-running run.
	ErrInvalidInput = errors.New("invalid input")

	// errFilesRevisionConflict signals a lost race on a file ref list
	// rewrite. Retried internally, never surfaced to callers.
	errFilesRevisionConflict = errors.New("file list revision conflict")
)
