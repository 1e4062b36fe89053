package analytics

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnerMemo_ResolvesOnce(t *testing.T) {
	ownership := newFakeOwnership().own("t1", ContentCourse, "c1")
	memo := NewOwnerMemo(ownership)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		owner, found, err := memo.FindOwnerTenant(ctx, ContentCourse, "c1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "t1", owner)
	}
	for i := 0; i < 2; i++ {
		_, found, err := memo.FindOwnerTenant(ctx, ContentPost, "orphan")
		require.NoError(t, err)
		assert.False(t, found)
	}

	assert.Equal(t, 2, ownership.calls)
	assert.Equal(t, 2, memo.Len())
}

func TestOwnerMemo_KeysByTypeAndID(t *testing.T) {
	ownership := newFakeOwnership().own("t1", ContentCourse, "x").own("t2", ContentPost, "x")
	memo := NewOwnerMemo(ownership)

	owner, _, err := memo.FindOwnerTenant(context.Background(), ContentCourse, "x")
	require.NoError(t, err)
	assert.Equal(t, "t1", owner)

	owner, _, err = memo.FindOwnerTenant(context.Background(), ContentPost, "x")
	require.NoError(t, err)
	assert.Equal(t, "t2", owner)
}

func TestOwnerMemo_DoesNotRememberFailures(t *testing.T) {
	ownership := newFakeOwnership().own("t1", ContentPost, "p1")
	ownership.errs["p1"] = errBoom
	memo := NewOwnerMemo(ownership)
	ctx := context.Background()

	_, _, err := memo.FindOwnerTenant(ctx, ContentPost, "p1")
	assert.ErrorIs(t, err, errBoom)

	delete(ownership.errs, "p1")
	owner, found, err := memo.FindOwnerTenant(ctx, ContentPost, "p1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "t1", owner)
	assert.Equal(t, 2, ownership.calls)
}

func TestOwnerMemo_Concurrent(t *testing.T) {
	ownership := newFakeOwnership().own("t1", ContentPost, "p1", "p2")
	memo := NewOwnerMemo(ownership)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "p1"
			if i%2 == 1 {
				id = "p2"
			}
			owner, found, err := memo.FindOwnerTenant(context.Background(), ContentPost, id)
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "t1", owner)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 2, ownership.calls)
}

func TestRollupWithOwners_SharedAcrossTenants(t *testing.T) {
	f := newAggregatorFixture(
		event("", ContentCourse, "c1", ActionView, "u1", at(testDay, 1), nil),
		event("", ContentCourse, "c2", ActionView, "u2", at(testDay, 2), nil),
		event("", ContentPost, "orphan", ActionView, "u3", at(testDay, 3), nil),
	)
	f.ownership.own("t1", ContentCourse, "c1").own("t2", ContentCourse, "c2")
	ctx := context.Background()

	memo := f.agg.NewOwnerMemo()
	for _, tenant := range []string{"t1", "t2"} {
		res, err := f.agg.RollupWithOwners(ctx, memo, tenant, testDay)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Active)
		assert.Equal(t, 1, res.Written)
	}
	assert.Equal(t, 3, f.ownership.calls, "one lookup per active content")

	_, ok := f.store.get("t2", ContentCourse, "c2", testDay)
	assert.True(t, ok)

	// without a shared memo every tenant resolves every active content
	for _, tenant := range []string{"t1", "t2"} {
		_, err := f.agg.Rollup(ctx, tenant, testDay)
		require.NoError(t, err)
	}
	assert.Equal(t, 9, f.ownership.calls)
}

func TestBackfillForCreator_ResolvesOwnershipOnce(t *testing.T) {
	f := newAggregatorFixture(
		event("", ContentPost, "p1", ActionView, "u1", at(testDay.AddDate(0, 0, -2), 1), nil),
		event("", ContentPost, "p1", ActionView, "u1", at(testDay.AddDate(0, 0, -1), 1), nil),
		event("", ContentPost, "p1", ActionView, "u1", at(testDay, 1), nil),
	)
	f.ownership.own("t1", ContentPost, "p1")

	res, err := f.agg.BackfillForCreator(context.Background(), "t1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowsWritten())
	assert.Equal(t, 1, f.ownership.calls)
}
