package sequence

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

func setupTestCounter(t *testing.T) *Counter {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	counter := NewCounter(db)
	require.NoError(t, counter.AutoMigrate())
	return counter
}

func TestNextValueStartsAtOne(t *testing.T) {
	counter := setupTestCounter(t)

	v, err := counter.NextValue(context.Background(), "proj-1.run")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestNextValueIncrements(t *testing.T) {
	counter := setupTestCounter(t)
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		v, err := counter.NextValue(ctx, "proj-1.run")
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	counter := setupTestCounter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := counter.NextValue(ctx, "proj-1.artifact.model.resnet")
		require.NoError(t, err)
	}

	v, err := counter.NextValue(ctx, "proj-1.artifact.model.bert")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "a different artifact name must not share the counter")

	v, err = counter.NextValue(ctx, "proj-2.artifact.model.resnet")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "a different project must not share the counter")
}

func TestConcurrentNextValueDistinct(t *testing.T) {
	counter := setupTestCounter(t)
	ctx := context.Background()

	const n = 32
	values := make([]int64, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			values[i], errs[i] = counter.NextValue(ctx, "proj-1.run")
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[values[i]], "value %d handed out twice", values[i])
		seen[values[i]] = true
	}
	assert.Len(t, seen, n)
}
