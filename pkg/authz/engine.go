package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// maxRevisionRetries bounds the optimistic-concurrency retry loop on ACL
// mutations. Conflicts only occur between concurrent writers on the same
// object, so a handful of retries is plenty.
const maxRevisionRetries = 5

// Engine implements hierarchical per-object authorization. ACLs form a
// two-level hierarchy: project ACLs are roots, every other object's ACL
// points at its project and inherits its entries.
type Engine struct {
	store  *ACLStore
	logger *slog.Logger
}

// NewEngine creates an Engine backed by the given store.
func NewEngine(store *ACLStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// GrantPermissionToNewProject creates the project's root ACL with a single
// granting entry for the creating principal. Called exactly once, at
// project-creation time.
func (e *Engine) GrantPermissionToNewProject(ctx context.Context, projectKey, principal string, permission Permission) error {
	acl := &ACLRecord{
		ObjectType:        ObjectProject,
		ObjectID:          projectKey,
		EntriesInheriting: false,
		Entries: ACEList{
			{Principal: principal, Permission: permission, Granting: true},
		},
	}
	return e.store.Create(ctx, acl)
}

// GrantPermissionBasedOnProject creates an ACL for a child object that
// inherits the project's entries. Fails with ErrNotFound when the project
// has no ACL, which doubles as the existence check for the project itself.
func (e *Engine) GrantPermissionBasedOnProject(ctx context.Context, projectKey, objectID, objectType string) error {
	parent, err := e.store.Get(ctx, ObjectProject, projectKey)
	if err != nil {
		return err
	}
	acl := &ACLRecord{
		ObjectType:        objectType,
		ObjectID:          objectID,
		ParentType:        parent.ObjectType,
		ParentID:          parent.ObjectID,
		EntriesInheriting: true,
		Entries:           ACEList{},
	}
	return e.store.Create(ctx, acl)
}

// GrantPermissionsToExistingProject replaces the permission of every
// principal in grants on the project's ACL. The caller must hold OWNER; a
// caller with no entry at all gets ErrNotFound instead of ErrAccessDenied.
// Each grant removes the principal's previous entry before appending the
// new one, so a principal never holds two entries.
func (e *Engine) GrantPermissionsToExistingProject(ctx context.Context, projectKey, caller string, grants map[string]Permission) error {
	principals := make([]string, 0, len(grants))
	for p := range grants {
		principals = append(principals, p)
	}
	sort.Strings(principals)

	return e.mutateProjectACL(ctx, projectKey, caller, func(entries ACEList) ACEList {
		for _, principal := range principals {
			if i := entries.find(principal); i >= 0 {
				entries = append(entries[:i], entries[i+1:]...)
			}
			entries = append(entries, AccessControlEntry{
				Principal:  principal,
				Permission: grants[principal],
				Granting:   true,
			})
		}
		return entries
	})
}

// RevokeProjectPermission removes the entries of the listed principals from
// the project's ACL. Same OWNER-or-NotFound precondition as
// GrantPermissionsToExistingProject. Unlisted or absent principals are
// ignored.
func (e *Engine) RevokeProjectPermission(ctx context.Context, projectKey, caller string, principals []string) error {
	return e.mutateProjectACL(ctx, projectKey, caller, func(entries ACEList) ACEList {
		for _, principal := range principals {
			if i := entries.find(principal); i >= 0 {
				entries = append(entries[:i], entries[i+1:]...)
			}
		}
		return entries
	})
}

// GetProjectPermissions returns the principal → permission map of the
// project's ACL. Callers with no entry on the project get ErrNotFound,
// whether or not the project exists.
func (e *Engine) GetProjectPermissions(ctx context.Context, projectKey, caller string) (map[string]Permission, error) {
	acl, err := e.store.Get(ctx, ObjectProject, projectKey)
	if err != nil {
		return nil, err
	}
	if acl.Entries.find(caller) < 0 {
		return nil, ErrNotFound
	}
	perms := make(map[string]Permission, len(acl.Entries))
	for _, entry := range acl.Entries {
		if entry.Granting {
			perms[entry.Principal] = entry.Permission
		}
	}
	return perms, nil
}

// CheckAccess verifies that principal holds at least min on the object,
// resolving inheritance through the parent ACL when the object's own list
// has no entry for the principal. Returns ErrNotFound when the principal
// holds no entry anywhere on the chain, ErrAccessDenied when it holds one
// of insufficient rank.
func (e *Engine) CheckAccess(ctx context.Context, objectType, objectID, principal string, min Permission) error {
	acl, err := e.store.Get(ctx, objectType, objectID)
	if err != nil {
		return err
	}
	entry, found := e.resolveEntry(ctx, acl, principal)
	if !found {
		return ErrNotFound
	}
	if !entry.Granting || !entry.Permission.AtLeast(min) {
		return ErrAccessDenied
	}
	return nil
}

// resolveEntry finds the effective entry for principal on acl, following
// the parent pointer one level when entries are inherited.
func (e *Engine) resolveEntry(ctx context.Context, acl *ACLRecord, principal string) (AccessControlEntry, bool) {
	if i := acl.Entries.find(principal); i >= 0 {
		return acl.Entries[i], true
	}
	if !acl.EntriesInheriting || acl.ParentType == "" {
		return AccessControlEntry{}, false
	}
	parent, err := e.store.Get(ctx, acl.ParentType, acl.ParentID)
	if err != nil {
		return AccessControlEntry{}, false
	}
	if i := parent.Entries.find(principal); i >= 0 {
		return parent.Entries[i], true
	}
	return AccessControlEntry{}, false
}

// mutateProjectACL runs the OWNER precondition check and applies mutate to
// the project's entry list under optimistic concurrency, retrying when a
// concurrent writer bumps the revision. The precondition is re-evaluated on
// every attempt against the freshly loaded list.
func (e *Engine) mutateProjectACL(ctx context.Context, projectKey, caller string, mutate func(ACEList) ACEList) error {
	for attempt := 0; attempt < maxRevisionRetries; attempt++ {
		acl, err := e.store.Get(ctx, ObjectProject, projectKey)
		if err != nil {
			return err
		}
		i := acl.Entries.find(caller)
		if i < 0 {
			return ErrNotFound
		}
		if !acl.Entries[i].Granting || !acl.Entries[i].Permission.AtLeast(PermissionOwner) {
			return ErrAccessDenied
		}

		entries := make(ACEList, len(acl.Entries))
		copy(entries, acl.Entries)
		entries = mutate(entries)

		err = e.store.UpdateEntries(ctx, acl, entries)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errRevisionConflict) {
			return err
		}
		e.logger.Debug("acl revision conflict, retrying",
			"project", projectKey, "attempt", attempt+1)
	}
	return fmt.Errorf("update acl for project %s: %w", projectKey, errRevisionConflict)
}
