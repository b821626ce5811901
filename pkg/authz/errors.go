package authz

import "errors"

var (
	// ErrNotFound is returned both when an object has no ACL and when the
	// caller holds no entry on it. The two cases are deliberately
	// indistinguishable so that unauthorized callers cannot probe for
	// existence.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied is returned only once visibility is established:
	// the caller holds an entry, but its rank is too low.
	ErrAccessDenied = errors.New("access denied")

	// errRevisionConflict signals a lost optimistic-concurrency race on an
	// ACL row; mutations retry on it.
	errRevisionConflict = errors.New("acl revision conflict")
)
