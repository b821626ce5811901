// Package authz provides per-object access control for tracker entities.
// Every entity carries an access control list; child objects (experiments,
// runs, artifacts, validation sets) point at their project's ACL and inherit
// its entries. Callers without any entry on an object cannot learn whether
// the object exists.
package authz

import "fmt"

// Object types for ACL records.
const (
	ObjectProject       = "project"
	ObjectExperiment    = "experiment"
	ObjectRun           = "run"
	ObjectArtifact      = "artifact"
	ObjectValidationSet = "validationset"
)

// Permission is an ordered privilege level. Rank, not declaration order,
// decides "at least" comparisons.
type Permission string

const (
	PermissionViewer      Permission = "VIEWER"
	PermissionContributor Permission = "CONTRIBUTOR"
	PermissionOwner       Permission = "OWNER"
)

// Rank returns the numeric rank of the permission. Unknown permissions
// rank below VIEWER.
func (p Permission) Rank() int {
	switch p {
	case PermissionViewer:
		return 1
	case PermissionContributor:
		return 2
	case PermissionOwner:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether p ranks at or above other.
func (p Permission) AtLeast(other Permission) bool {
	return p.Rank() >= other.Rank()
}

// ParsePermission converts a string to a Permission.
func ParsePermission(s string) (Permission, error) {
	switch Permission(s) {
	case PermissionViewer, PermissionContributor, PermissionOwner:
		return Permission(s), nil
	}
	return "", fmt.Errorf("unknown permission %q", s)
}
