package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PengC8899/didi-bot/internal/channel"
	"github.com/PengC8899/didi-bot/internal/order"
	"github.com/PengC8899/didi-bot/internal/ratelimit"
	"github.com/PengC8899/didi-bot/internal/store"
)

func TestEndToEnd_FixSink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	amount := order.Amount(4000)

	o, err := f.engine.CreateOrder(ctx, operator, CreateInput{
		Title:  "Fix sink",
		Body:   "Kitchen sink leaks",
		Amount: &amount,
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusNew, o.Status)
	assert.Equal(t, int64(1), o.Version)

	post := f.post(t, o.ID)
	assert.Contains(t, post.Text, "Status: NEW")
	assert.Contains(t, post.Text, "Amount: 40.00")
	assert.Equal(t, []string{"apply:1"}, controlData(post))

	applied, err := f.engine.Apply(ctx, bob, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ApplicationPending, applied.Application.Status)
	assert.False(t, applied.Existing)
	assert.Equal(t, int64(1), f.get(t, o.ID).Version, "apply is not a transition")

	o, err = f.engine.Approve(ctx, admin, o.ID, applied.Application.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusInProgress, o.Status)
	assert.Equal(t, int64(2), o.Version)
	require.NotNil(t, o.Claimant)
	assert.Equal(t, bob.ID, o.Claimant.ID)

	post = f.post(t, o.ID)
	assert.Contains(t, post.Text, "Status: IN_PROGRESS")
	assert.Contains(t, post.Text, "Claimant: @bob")
	assert.Equal(t, []string{"done:1", "cancel:1"}, controlData(post))

	o, err = f.engine.MarkDone(ctx, bob, o.ID, "fixed")
	require.NoError(t, err)
	assert.Equal(t, order.StatusDone, o.Status)
	assert.Equal(t, int64(3), o.Version)

	post = f.post(t, o.ID)
	assert.Contains(t, post.Text, "Status: DONE")
	assert.Empty(t, controlData(post))

	history, err := f.engine.History(ctx, admin, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Nil(t, history[0].From)
	assert.Equal(t, order.StatusNew, history[0].To)
	assert.Equal(t, order.StatusNew, *history[1].From)
	assert.Equal(t, order.StatusInProgress, history[1].To)
	assert.Equal(t, admin.ID, history[1].ActorID)
	assert.Equal(t, order.StatusDone, history[2].To)
	assert.Equal(t, "fixed", history[2].Note)
	assert.Equal(t, []string{"flow-1", "flow-3", "flow-4"},
		[]string{history[0].FlowToken, history[1].FlowToken, history[2].FlowToken})

	apps, err := f.engine.Applications(ctx, admin, o.ID, nil)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, order.ApplicationApproved, apps[0].Status)
	assert.NotNil(t, apps[0].DecidedAt)

	assert.Equal(t, 1, f.transport.Publishes())
	assert.Equal(t, 2, f.transport.Edits())
}

func TestEndToEnd_WithoutAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.engine.CreateOrder(ctx, operator, CreateInput{Title: "Fix sink", Body: "Kitchen sink leaks"})
	require.NoError(t, err)
	assert.Nil(t, o.Amount)

	post := f.post(t, o.ID)
	assert.NotContains(t, post.Text, "Amount:")
	assert.Contains(t, post.Text, "Status: NEW")
	assert.Equal(t, 1, f.transport.Publishes())
	assert.Equal(t, 0, f.transport.Edits())

	applied, err := f.engine.Apply(ctx, bob, o.ID)
	require.NoError(t, err)
	o, err = f.engine.Approve(ctx, admin, o.ID, applied.Application.ID)
	require.NoError(t, err)

	post = f.post(t, o.ID)
	assert.NotContains(t, post.Text, "Amount:")
	assert.Contains(t, post.Text, "Status: IN_PROGRESS")
	assert.Equal(t, 1, f.transport.Publishes())
	assert.Equal(t, 1, f.transport.Edits())

	o, err = f.engine.MarkDone(ctx, bob, o.ID, "")
	require.NoError(t, err)

	post = f.post(t, o.ID)
	assert.NotContains(t, post.Text, "Amount:")
	assert.Contains(t, post.Text, "Status: DONE")
	assert.Empty(t, controlData(post))
	assert.Equal(t, 1, f.transport.Publishes())
	assert.Equal(t, 2, f.transport.Edits())

	history, err := f.engine.History(ctx, admin, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []order.Status{order.StatusNew, order.StatusInProgress, order.StatusDone},
		[]order.Status{history[0].To, history[1].To, history[2].To})
}

func TestCreateOrder_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateInput
	}{
		{"empty title", CreateInput{Title: "  ", Body: "b"}},
		{"long title", CreateInput{Title: strings.Repeat("x", MaxTitleLen+1), Body: "b"}},
		{"empty body", CreateInput{Title: "t", Body: "\n"}},
		{"negative amount", CreateInput{Title: "t", Body: "b", Amount: amountPtr(-1)}},
		{"bad media kind", CreateInput{Title: "t", Body: "b", Media: []store.NewMedia{{Kind: "video", Ref: "x"}}}},
		{"empty media ref", CreateInput{Title: "t", Body: "b", Media: []store.NewMedia{{Kind: order.MediaPhoto}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateOrder(ctx, operator, tt.in)
			assert.ErrorIs(t, err, order.ErrInvalidInput)
		})
	}

	// Exactly the limit is fine.
	_, err := f.engine.CreateOrder(ctx, operator, CreateInput{Title: strings.Repeat("x", MaxTitleLen), Body: "b"})
	require.NoError(t, err)

	orders, err := f.store.ListOrders(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestCreateOrder_WithPhotoPublishesPhoto(t *testing.T) {
	f := newFixture(t)

	o, err := f.engine.CreateOrder(context.Background(), admin, CreateInput{
		Title: "Paint wall",
		Body:  "Two coats",
		Media: []store.NewMedia{{Kind: order.MediaPhoto, Ref: "photo-1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "photo-1", f.post(t, o.ID).Photo)

	detail, err := f.engine.Get(context.Background(), bob, o.ID)
	require.NoError(t, err)
	require.Len(t, detail.Media, 1)
	assert.Equal(t, "photo-1", detail.Media[0].Ref)
}

func TestCreateOrder_RequiresOperator(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateOrder(context.Background(), bob, CreateInput{Title: "t", Body: "b"})
	assert.ErrorIs(t, err, order.ErrUnauthorized)
	assert.Zero(t, f.transport.Publishes())
}

func TestApply_DuplicateReturnsExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "job")

	first, err := f.engine.Apply(ctx, bob, o.ID)
	require.NoError(t, err)
	second, err := f.engine.Apply(ctx, bob, o.ID)
	require.NoError(t, err)

	assert.True(t, second.Existing)
	assert.Equal(t, first.Application.ID, second.Application.ID)
	assert.Equal(t, "https://t.me/ops", second.OperatorLink)
	assert.Equal(t, "https://t.me/orderbot?start=apply_1", second.BotLink)

	apps, err := f.store.ListApplications(ctx, o.ID, nil)
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestApply_ConcurrentSameActorCreatesOne(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, "job")

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[int64]bool{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.Apply(context.Background(), bob, o.ID)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[res.Application.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
}

func TestApply_RejectedApplicantGetsExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "job")

	res, err := f.engine.Apply(ctx, bob, o.ID)
	require.NoError(t, err)
	_, err = f.engine.Reject(ctx, admin, o.ID, res.Application.ID)
	require.NoError(t, err)

	again, err := f.engine.Apply(ctx, bob, o.ID)
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.Equal(t, order.ApplicationRejected, again.Application.Status)
}

func TestApply_RequiresNewOrder(t *testing.T) {
	f := newFixture(t)
	o := f.claimed(t, "job")

	_, err := f.engine.Apply(context.Background(), carol, o.ID)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	_, err = f.engine.Apply(context.Background(), carol, 999)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestApprove_RequiresPendingApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "job")
	res, err := f.engine.Apply(ctx, bob, o.ID)
	require.NoError(t, err)
	_, err = f.engine.Reject(ctx, admin, o.ID, res.Application.ID)
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, admin, o.ID, res.Application.ID)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	got := f.get(t, o.ID)
	assert.Equal(t, order.StatusNew, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

func TestApprove_ApplicationOfAnotherOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b")
	res, err := f.engine.Apply(ctx, bob, a.ID)
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, admin, b.ID, res.Application.ID)
	assert.ErrorIs(t, err, order.ErrNotFound)

	_, err = f.engine.Reject(ctx, admin, b.ID, res.Application.ID)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestApprove_AdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "job")
	res, err := f.engine.Apply(ctx, bob, o.ID)
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, operator, o.ID, res.Application.ID)
	assert.ErrorIs(t, err, order.ErrUnauthorized)
	_, err = f.engine.Reject(ctx, bob, o.ID, res.Application.ID)
	assert.ErrorIs(t, err, order.ErrUnauthorized)
}

// barrierStore holds every armed GetOrder caller until n callers have read,
// so concurrent approvals all see the same version.
type barrierStore struct {
	*store.Store

	mu   sync.Mutex
	gate *sync.WaitGroup
}

func (b *barrierStore) arm(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = &sync.WaitGroup{}
	b.gate.Add(n)
}

func (b *barrierStore) GetOrder(ctx context.Context, id int64) (order.Order, error) {
	o, err := b.Store.GetOrder(ctx, id)
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		gate.Done()
		gate.Wait()
	}
	return o, err
}

func TestApprove_ConcurrentApprovalsOneWins(t *testing.T) {
	var bs *barrierStore
	f := newFixtureWithStore(t, func(s *store.Store) Store {
		bs = &barrierStore{Store: s}
		return bs
	})
	ctx := context.Background()
	o := f.create(t, "job")
	appBob, err := f.engine.Apply(ctx, bob, o.ID)
	require.NoError(t, err)
	appCarol, err := f.engine.Apply(ctx, carol, o.ID)
	require.NoError(t, err)

	bs.arm(2)
	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, app := range []int64{appBob.Application.ID, appCarol.Application.ID} {
		wg.Add(1)
		go func(i int, appID int64) {
			defer wg.Done()
			_, errs[i] = f.engine.Approve(ctx, admin, o.ID, appID)
		}(i, app)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, order.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	got := f.get(t, o.ID)
	assert.Equal(t, order.StatusInProgress, got.Status)
	assert.Equal(t, int64(2), got.Version)

	pending := order.ApplicationPending
	stillPending, err := f.store.ListApplications(ctx, o.ID, &pending)
	require.NoError(t, err)
	assert.Len(t, stillPending, 1, "the losing approval wrote nothing")

	history, err := f.store.ListHistory(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestMarkDone_ClaimantOrAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := f.claimed(t, "a")
	_, err := f.engine.MarkDone(ctx, carol, o.ID, "")
	assert.ErrorIs(t, err, order.ErrUnauthorized)
	_, err = f.engine.MarkDone(ctx, operator, o.ID, "")
	assert.ErrorIs(t, err, order.ErrUnauthorized)

	done, err := f.engine.MarkDone(ctx, admin, o.ID, "closed by admin")
	require.NoError(t, err)
	assert.Equal(t, order.StatusDone, done.Status)
}

func TestCancel_Permissions(t *testing.T) {
	ctx := context.Background()

	t.Run("creator cancel disabled", func(t *testing.T) {
		f := newFixture(t)
		o := f.create(t, "job")
		_, err := f.engine.Cancel(ctx, operator, o.ID, "")
		assert.ErrorIs(t, err, order.ErrUnauthorized)

		canceled, err := f.engine.Cancel(ctx, admin, o.ID, "duplicate")
		require.NoError(t, err)
		assert.Equal(t, order.StatusCanceled, canceled.Status)
	})

	t.Run("creator cancel enabled", func(t *testing.T) {
		f := newFixture(t, WithCreatorCancel(true))
		o := f.claimed(t, "job")

		_, err := f.engine.Cancel(ctx, bob, o.ID, "")
		assert.ErrorIs(t, err, order.ErrUnauthorized, "claimant is not creator")

		canceled, err := f.engine.Cancel(ctx, operator, o.ID, "")
		require.NoError(t, err)
		assert.Equal(t, order.StatusCanceled, canceled.Status)
		assert.Empty(t, controlData(f.post(t, o.ID)))
	})
}

func TestInvalidTransitionsWriteNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fresh := f.create(t, "fresh")
	_, err := f.engine.MarkDone(ctx, admin, fresh.ID, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	finished := f.claimed(t, "finished")
	finished, err = f.engine.MarkDone(ctx, bob, finished.ID, "")
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, admin, finished.ID, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
	_, err = f.engine.MarkDone(ctx, admin, finished.ID, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	canceled, err := f.engine.Cancel(ctx, admin, fresh.ID, "")
	require.NoError(t, err)
	_, err = f.engine.Cancel(ctx, admin, canceled.ID, "")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	assert.Equal(t, finished.Version, f.get(t, finished.ID).Version)
	assert.Equal(t, canceled.Version, f.get(t, canceled.ID).Version)
}

func TestSyncFailureDoesNotUnwindTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.create(t, "job")
	res, err := f.engine.Apply(ctx, bob, o.ID)
	require.NoError(t, err)

	down := &channel.TransientError{Reason: "503"}
	f.transport.FailNext(down, down, down, down)

	approved, err := f.engine.Approve(ctx, admin, o.ID, res.Application.ID)
	require.NoError(t, err, "sync failure is not reported to the caller")
	assert.Equal(t, order.StatusInProgress, approved.Status)

	got := f.get(t, o.ID)
	assert.Equal(t, order.StatusInProgress, got.Status)
	require.NotNil(t, got.SyncFailure)
	assert.Equal(t, order.SyncFailureTransient, got.SyncFailure.Kind)
	assert.Contains(t, f.post(t, o.ID).Text, "Status: NEW", "channel still shows the stale post")

	// The next transition heals the post.
	_, err = f.engine.MarkDone(ctx, bob, o.ID, "")
	require.NoError(t, err)
	assert.Contains(t, f.post(t, o.ID).Text, "Status: DONE")
	assert.Nil(t, f.get(t, o.ID).SyncFailure)
}

func TestRateLimit_SecondTapRejected(t *testing.T) {
	f := newFixture(t)
	limiter := ratelimit.NewWindow(5*time.Second, 1, ratelimit.WithClock(f.clock))
	f.engine = New(f.store,
		WithRoles(NewRoles([]int64{admin.ID}, []int64{operator.ID})),
		WithLimiter(limiter),
		WithClock(f.clock),
		WithLogger(f.engine.logger),
	)
	ctx := context.Background()

	a, err := f.engine.CreateOrder(ctx, operator, CreateInput{Title: "a", Body: "b"})
	require.NoError(t, err)
	_, err = f.engine.CreateOrder(ctx, operator, CreateInput{Title: "b", Body: "b"})
	assert.ErrorIs(t, err, order.ErrRateLimited)

	f.tick(5 * time.Second)
	b, err := f.engine.CreateOrder(ctx, operator, CreateInput{Title: "b", Body: "b"})
	require.NoError(t, err)

	_, err = f.engine.Apply(ctx, bob, a.ID)
	require.NoError(t, err)
	_, err = f.engine.Apply(ctx, bob, b.ID)
	require.ErrorIs(t, err, order.ErrRateLimited)
	assert.Equal(t, b.ID, asDomain(t, err).OrderID)

	// Another actor has their own quota.
	_, err = f.engine.Apply(ctx, carol, b.ID)
	require.NoError(t, err)

	apps, err := f.store.ListApplications(ctx, b.ID, nil)
	require.NoError(t, err)
	assert.Len(t, apps, 1, "rate-limited apply wrote nothing")
}

type fakeMembership map[int64]bool

func (m fakeMembership) IsMember(_ context.Context, id int64) (bool, error) {
	return m[id], nil
}

func TestMembershipGuard_AppliesOnlyToApply(t *testing.T) {
	f := newFixture(t, WithMembership(fakeMembership{bob.ID: true}))
	ctx := context.Background()
	o := f.create(t, "job")

	_, err := f.engine.Apply(ctx, carol, o.ID)
	assert.ErrorIs(t, err, order.ErrUnauthorized)
	_, err = f.engine.Apply(ctx, bob, o.ID)
	assert.NoError(t, err)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, "a")
	f.tick(time.Hour)
	b := f.claimed(t, "b")
	f.tick(time.Hour)
	f.create(t, "c")

	mine, err := f.engine.UserOrders(ctx, bob)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)

	created, err := f.engine.UserOrders(ctx, operator)
	require.NoError(t, err)
	assert.Len(t, created, 3)

	newStatus := order.StatusNew
	list, err := f.engine.List(ctx, carol, ListFilter{Status: &newStatus})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[1].ID)

	_, err = f.engine.List(ctx, carol, ListFilter{Offset: -1})
	assert.ErrorIs(t, err, order.ErrInvalidInput)

	_, err = f.engine.Stats(ctx, bob, f.clock.Now().Add(-24*time.Hour), f.clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, order.ErrUnauthorized)
	stats, err := f.engine.Stats(ctx, admin, f.clock.Now().Add(-24*time.Hour), f.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []store.StatusStat{
		{Status: order.StatusInProgress, Count: 1},
		{Status: order.StatusNew, Count: 2},
	}, stats)

	_, err = f.engine.Stats(ctx, admin, f.clock.Now(), f.clock.Now())
	assert.ErrorIs(t, err, order.ErrInvalidInput)

	_, err = f.engine.Applications(ctx, bob, b.ID, nil)
	assert.ErrorIs(t, err, order.ErrUnauthorized)

	_, err = f.engine.History(ctx, bob, 999)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func amountPtr(cents int64) *order.Amount {
	a := order.Amount(cents)
	return &a
}

func asDomain(t *testing.T, err error) *order.Error {
	t.Helper()
	var e *order.Error
	require.True(t, errors.As(err, &e), "not a domain error: %v", err)
	return e
}
