package authz

import (
	"context"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// A single connection serializes writers so concurrent tests exercise
	// the optimistic-concurrency path instead of SQLITE_BUSY.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&ACLRecord{}))
	return db
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(NewACLStore(setupTestDB(t)), nil)
}

func TestGrantPermissionToNewProject(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.GrantPermissionToNewProject(ctx, "proj-1", "u1", PermissionOwner))

	perms, err := engine.GetProjectPermissions(ctx, "proj-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]Permission{"u1": PermissionOwner}, perms)
}

func TestGrantPermissionToNewProjectDuplicateFails(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.GrantPermissionToNewProject(ctx, "proj-1", "u1", PermissionOwner))
	assert.Error(t, engine.GrantPermissionToNewProject(ctx, "proj-1", "u2", PermissionOwner))
}

func TestGrantBasedOnProjectWithoutProjectACL(t *testing.T) {
	engine := newTestEngine(t)

	err := engine.GrantPermissionBasedOnProject(context.Background(), "no-such-project", "exp-1", ObjectExperiment)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChildACLInheritsProjectEntries(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.GrantPermissionToNewProject(ctx, "proj-1", "u1", PermissionOwner))
	require.NoError(t, engine.GrantPermissionBasedOnProject(ctx, "proj-1", "exp-1", ObjectExperiment))

	assert.NoError(t, engine.CheckAccess(ctx, ObjectExperiment, "exp-1", "u1", PermissionOwner))
	assert.ErrorIs(t, engine.CheckAccess(ctx, ObjectExperiment, "exp-1", "u2", PermissionViewer), ErrNotFound)
}

func TestGrantPermissionsReplacesExistingEntry(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.GrantPermissionToNewProject(ctx, "proj-1", "u1", PermissionOwner))
	require.NoError(t, engine.GrantPermissionsToExistingProject(ctx, "proj-1", "u1",
		map[string]Permission{"u2": PermissionViewer}))
	require.NoError(t, engine.GrantPermissionsToExistingProject(ctx, "proj-1", "u1",
		map[string]Permission{"u2": PermissionContributor}))

	perms, err := engine.GetProjectPermissions(ctx, "proj-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, PermissionContributor, perms["u2"])

	// One entry per principal, never two.
	store := engine.store
	acl, err := store.Get(ctx, ObjectProject, "proj-1")
	require.NoError(t, err)
	count := 0
	for _, e := range acl.Entries {
		if e.Principal == "u2" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestGrantPermissionsRequiresOwner(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.GrantPermissionToNewProject(ctx, "proj-1", "u1", PermissionOwner))
	require.NoError(t, engine.GrantPermissionsToExistingProject(ctx, "proj-1", "u1",
		map[string]Permission{"viewer": PermissionViewer}))

	err := engine.GrantPermissionsToExistingProject(ctx, "proj-1", "viewer",
		map[string]Permission{"u3": PermissionOwner})
	assert.ErrorIs(t, err, ErrAccessDenied)

	// The denied call must not leave partial mutations behind.
	perms, err := engine.GetProjectPermissions(ctx, "proj-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]Permission{
		"u1":     PermissionOwner,
		"viewer": PermissionViewer,
	}, perms)
}

func TestGrantPermissionsMasksExistenceForStrangers(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.GrantPermissionToNewProject(ctx, "proj-1", "u1", PermissionOwner))

	err := engine.GrantPermissionsToExistingProject(ctx, "proj-1", "stranger",
		map[string]Permission{"u3": PermissionViewer})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetProjectPermissionsMasksExistence(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.GrantPermissionToNewProject(ctx, "proj-1", "u1", PermissionOwner))

	_, err := engine.GetProjectPermissions(ctx, "proj-1", "stranger")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = engine.GetProjectPermissions(ctx, "no-such-project", "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeOwnEntryLocksCallerOut(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.GrantPermissionToNewProject(ctx, "proj-1", "u1", PermissionOwner))
	require.NoError(t, engine.RevokeProjectPermission(ctx, "proj-1", "u1", []string{"u1"}))

	_, err := engine.GetProjectPermissions(ctx, "proj-1", "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevokePreservesSurvivorOrder(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.GrantPermissionToNewProject(ctx, "proj-1", "u1", PermissionOwner))
	require.NoError(t, engine.GrantPermissionsToExistingProject(ctx, "proj-1", "u1",
		map[string]Permission{"a": PermissionViewer}))
	require.NoError(t, engine.GrantPermissionsToExistingProject(ctx, "proj-1", "u1",
		map[string]Permission{"b": PermissionViewer}))
	require.NoError(t, engine.GrantPermissionsToExistingProject(ctx, "proj-1", "u1",
		map[string]Permission{"c": PermissionViewer}))

	require.NoError(t, engine.RevokeProjectPermission(ctx, "proj-1", "u1", []string{"b"}))

	acl, err := engine.store.Get(ctx, ObjectProject, "proj-1")
	require.NoError(t, err)
	var order []string
	for _, e := range acl.Entries {
		order = append(order, e.Principal)
	}
	assert.Equal(t, []string{"u1", "a", "c"}, order)
}

func TestCheckAccessRanks(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.GrantPermissionToNewProject(ctx, "proj-1", "owner", PermissionOwner))
	require.NoError(t, engine.GrantPermissionsToExistingProject(ctx, "proj-1", "owner",
		map[string]Permission{"contrib": PermissionContributor}))

	tests := []struct {
		name      string
		principal string
		min       Permission
		wantErr   error
	}{
		{"owner has owner", "owner", PermissionOwner, nil},
		{"contributor has viewer", "contrib", PermissionViewer, nil},
		{"contributor lacks owner", "contrib", PermissionOwner, ErrAccessDenied},
		{"stranger is masked", "stranger", PermissionViewer, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.CheckAccess(ctx, ObjectProject, "proj-1", tt.principal, tt.min)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestConcurrentGrantsLoseNoUpdates(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.GrantPermissionToNewProject(ctx, "proj-1", "u1", PermissionOwner))

	grants := []map[string]Permission{
		{"a": PermissionViewer},
		{"b": PermissionContributor},
		{"c": PermissionViewer},
		{"d": PermissionOwner},
	}
	var wg sync.WaitGroup
	errs := make([]error, len(grants))
	for i, g := range grants {
		wg.Add(1)
		go func(i int, g map[string]Permission) {
			defer wg.Done()
			errs[i] = engine.GrantPermissionsToExistingProject(ctx, "proj-1", "u1", g)
		}(i, g)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "grant %d", i)
	}

	perms, err := engine.GetProjectPermissions(ctx, "proj-1", "u1")
	require.NoError(t, err)
	assert.Len(t, perms, 5) // u1 plus a, b, c, d — no grant dropped
}

func TestPermissionRankOrdering(t *testing.T) {
	assert.True(t, PermissionOwner.AtLeast(PermissionContributor))
	assert.True(t, PermissionContributor.AtLeast(PermissionViewer))
	assert.True(t, PermissionViewer.AtLeast(PermissionViewer))
	assert.False(t, PermissionViewer.AtLeast(PermissionContributor))
	assert.False(t, Permission("BOGUS").AtLeast(PermissionViewer))
}

func TestParsePermission(t *testing.T) {
	p, err := ParsePermission("OWNER")
	require.NoError(t, err)
	assert.Equal(t, PermissionOwner, p)

	_, err = ParsePermission("ADMIN")
	assert.Error(t, err)
}
