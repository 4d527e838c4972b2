package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PengC8899/didi-bot/internal/channel"
	"github.com/PengC8899/didi-bot/internal/order"
	"github.com/PengC8899/didi-bot/internal/ratelimit"
)

func TestForceResync_AlwaysEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "job")
	require.Equal(t, 0, f.transport.Edits())

	require.NoError(t, f.engine.ForceResync(ctx, admin, o.ID))
	require.NoError(t, f.engine.ForceResync(ctx, admin, o.ID))
	assert.Equal(t, 2, f.transport.Edits())
	assert.Equal(t, 1, f.transport.Publishes())
}

func TestForceResync_ReturnsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "job")
	f.transport.Delete(f.get(t, o.ID).MessageRef)

	err := f.engine.ForceResync(ctx, admin, o.ID)
	require.ErrorIs(t, err, order.ErrFatalSyncFailure)

	got := f.get(t, o.ID)
	require.NotNil(t, got.SyncFailure)
	assert.Equal(t, order.SyncFailureFatal, got.SyncFailure.Kind)
}

func TestForceResync_Errors(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	assert.ErrorIs(t, f.engine.ForceResync(ctx, bob, 1), order.ErrUnauthorized)
	assert.ErrorIs(t, f.engine.ForceResync(ctx, admin, 999), order.ErrNotFound)

	bare := New(f.store, WithRoles(NewRoles([]int64{admin.ID}, nil)), WithLimiter(ratelimit.Unlimited{}))
	assert.ErrorIs(t, bare.ForceResync(ctx, admin, 1), ErrNoChannel)
	_, err := bare.Reconcile(ctx, admin)
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestReconcile_RepublishesAndReports(t *testing.T) {
	f := newFixture(t, WithReconcileConcurrency(2))
	ctx := context.Background()

	// Never published: the first publish fails fatally.
	f.transport.FailNext(&channel.FatalError{Reason: "chat not found"})
	unpublished := f.create(t, "unpublished")
	require.False(t, f.get(t, unpublished.ID).Published())

	healthy := f.create(t, "healthy")

	// Published, then the message disappears.
	lost := f.create(t, "lost")
	f.transport.Delete(f.get(t, lost.ID).MessageRef)
	require.Error(t, f.engine.ForceResync(ctx, admin, lost.ID))

	report, err := f.engine.Reconcile(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Synced)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, lost.ID, report.Failures[0].OrderID)
	assert.Equal(t, string(order.CodeFatalSyncFailure), report.Failures[0].Code)

	assert.True(t, f.get(t, unpublished.ID).Published())
	assert.Nil(t, f.get(t, unpublished.ID).SyncFailure)
	assert.Nil(t, f.get(t, healthy.ID).SyncFailure)
}

func TestReconcile_NothingToDo(t *testing.T) {
	f := newFixture(t)
	f.create(t, "job")

	report, err := f.engine.Reconcile(context.Background(), admin)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Failures: []ReconcileFailure{}}, report)
}

func TestReconcile_AdminOnly(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Reconcile(context.Background(), operator)
	assert.ErrorIs(t, err, order.ErrUnauthorized)
}
