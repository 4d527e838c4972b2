package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PengC8899/didi-bot/internal/channel"
	"github.com/PengC8899/didi-bot/internal/clock"
	"github.com/PengC8899/didi-bot/internal/order"
	"github.com/PengC8899/didi-bot/internal/ratelimit"
	"github.com/PengC8899/didi-bot/internal/store"
	"github.com/PengC8899/didi-bot/internal/testutil"
)

var (
	admin    = order.Actor{ID: 1, Username: "admin"}
	operator = order.Actor{ID: 2, Username: "op"}
	bob      = order.Actor{ID: 42, Username: "bob"}
	carol    = order.Actor{ID: 43}
)

var testLinks = channel.Links{OperatorUsername: "ops", BotUsername: "orderbot"}

type fixture struct {
	store     *store.Store
	transport *channel.MemoryTransport
	clock     *clock.FakeClock
	sync      *channel.Synchronizer
	engine    *Engine
}

// newFixture builds an engine over a real store with an in-memory channel
// synced inline. Rate limiting is off unless opts turn it on.
func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	return newFixtureWithStore(t, nil, opts...)
}

// newFixtureWithStore is newFixture with the engine reading through wrap.
func newFixtureWithStore(t *testing.T, wrap func(*store.Store) Store, opts ...EngineOption) *fixture {
	t.Helper()
	f := &fixture{
		store:     testutil.NewStore(t),
		transport: channel.NewMemoryTransport(),
		clock:     testutil.NewClock(),
	}
	logger := testutil.DiscardLogger()
	f.sync = channel.NewSynchronizer(f.store, f.transport,
		channel.WithRenderer(channel.Renderer{Links: testLinks}),
		channel.WithClock(f.clock),
		channel.WithLogger(logger),
	)

	var st Store = f.store
	if wrap != nil {
		st = wrap(f.store)
	}
	base := []EngineOption{
		WithRoles(NewRoles([]int64{admin.ID}, []int64{operator.ID})),
		WithLimiter(ratelimit.Unlimited{}),
		WithSync(channel.Inline{Syncer: f.sync, Logger: logger}, f.sync),
		WithLinks(testLinks),
		WithClock(f.clock),
		WithLogger(logger),
		WithFlowGenerator(testutil.NewSequenceFlowGenerator("flow")),
	}
	f.engine = New(st, append(base, opts...)...)
	return f
}

func (f *fixture) create(t *testing.T, title string) order.Order {
	t.Helper()
	o, err := f.engine.CreateOrder(context.Background(), operator, CreateInput{
		Title: title,
		Body:  "body of " + title,
	})
	require.NoError(t, err)
	return o
}

// claimed creates an order and takes it to IN_PROGRESS with bob as claimant.
func (f *fixture) claimed(t *testing.T, title string) order.Order {
	t.Helper()
	ctx := context.Background()
	o := f.create(t, title)
	res, err := f.engine.Apply(ctx, bob, o.ID)
	require.NoError(t, err)
	o, err = f.engine.Approve(ctx, admin, o.ID, res.Application.ID)
	require.NoError(t, err)
	return o
}

func (f *fixture) get(t *testing.T, id int64) order.Order {
	t.Helper()
	o, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) post(t *testing.T, id int64) channel.Payload {
	t.Helper()
	o := f.get(t, id)
	require.True(t, o.Published(), "order %d has no channel post", id)
	p, ok := f.transport.Message(o.MessageRef)
	require.True(t, ok)
	return p
}

func (f *fixture) tick(d time.Duration) {
	f.clock.Advance(d)
}

func controlData(p channel.Payload) []string {
	var out []string
	for _, row := range p.Controls {
		for _, c := range row {
			if c.Data != "" {
				out = append(out, c.Data)
			}
		}
	}
	return out
}
