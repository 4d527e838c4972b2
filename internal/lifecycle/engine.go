package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/PengC8899/didi-bot/internal/channel"
	"github.com/PengC8899/didi-bot/internal/clock"
	"github.com/PengC8899/didi-bot/internal/order"
	"github.com/PengC8899/didi-bot/internal/ratelimit"
	"github.com/PengC8899/didi-bot/internal/store"
)

// Store is the store surface the engine needs. *store.Store satisfies it.
type Store interface {
	ApplicationStore
	OperatorStore

	CreateOrder(ctx context.Context, in store.NewOrder) (order.Order, error)
	GetOrder(ctx context.Context, id int64) (order.Order, error)
	UpdateOrderConditional(ctx context.Context, id, expectedVersion int64, patch store.OrderPatch) (order.Order, error)
	PublishDraft(ctx context.Context, id, expectedVersion int64, at time.Time) (order.Order, error)
	GetApplication(ctx context.Context, id int64) (order.Application, error)
	DecideApplication(ctx context.Context, id int64, decision order.ApplicationStatus, now time.Time) (order.Application, error)
	ListOrders(ctx context.Context, opts store.ListOptions) ([]order.Order, error)
	ListUserOrders(ctx context.Context, actorID int64, limit int) ([]order.Order, error)
	ListHistory(ctx context.Context, orderID int64) ([]order.HistoryEntry, error)
	ListApplications(ctx context.Context, orderID int64, status *order.ApplicationStatus) ([]order.Application, error)
	ListMedia(ctx context.Context, orderID int64) ([]order.MediaItem, error)
	ListUnsynced(ctx context.Context, limit int) ([]order.Order, error)
	Stats(ctx context.Context, from, to time.Time) ([]store.StatusStat, error)
}

// Defaults.
const (
	DefaultReconcileConcurrency = 4
	DefaultReconcileBatch       = 500
	UserOrdersLimit             = 20
)

// Engine runs order lifecycle operations.
//
// Thread-safety: all methods are safe for concurrent use. The engine holds
// no per-order state; concurrency control lives in the store's conditional
// writes.
type Engine struct {
	store      Store
	dedup      *Deduplicator
	dispatcher channel.Dispatcher
	syncer     channel.Syncer
	roles      Roles
	limiter    ratelimit.Limiter
	membership MembershipChecker
	extra      []Guard
	guards     []Guard
	links      channel.Links
	clock      clock.Clock
	logger     *slog.Logger
	flowGen    FlowTokenGenerator

	allowCreatorCancel   bool
	reconcileConcurrency int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRoles sets the configured role table (default: everyone is a
// member). Runtime operator grants from the store are layered on top.
func WithRoles(r Roles) EngineOption {
	return func(e *Engine) { e.roles = r }
}

// WithLimiter sets the rate limiter (default: one action per 5s per class).
func WithLimiter(l ratelimit.Limiter) EngineOption {
	return func(e *Engine) { e.limiter = l }
}

// WithMembership enables the channel membership check on apply.
func WithMembership(c MembershipChecker) EngineOption {
	return func(e *Engine) { e.membership = c }
}

// WithGuards appends guards after the built-in chain.
func WithGuards(g ...Guard) EngineOption {
	return func(e *Engine) { e.extra = append(e.extra, g...) }
}

// WithSync wires the channel: d receives a job after every commit and s
// serves ForceResync and Reconcile.
func WithSync(d channel.Dispatcher, s channel.Syncer) EngineOption {
	return func(e *Engine) {
		e.dispatcher = d
		e.syncer = s
	}
}

// WithLinks sets the contact links returned from Apply.
func WithLinks(l channel.Links) EngineOption {
	return func(e *Engine) { e.links = l }
}

// WithClock sets the time source for timestamps.
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithFlowGenerator sets the flow token source (default: UUIDv7Generator).
func WithFlowGenerator(g FlowTokenGenerator) EngineOption {
	return func(e *Engine) { e.flowGen = g }
}

// WithCreatorCancel lets an order's creator cancel it without being admin.
func WithCreatorCancel(allow bool) EngineOption {
	return func(e *Engine) { e.allowCreatorCancel = allow }
}

// WithReconcileConcurrency bounds parallel resyncs during Reconcile.
func WithReconcileConcurrency(n int) EngineOption {
	return func(e *Engine) { e.reconcileConcurrency = n }
}

// New creates an Engine over st.
//
// The guard chain is, in order: role, rate limit, channel membership
// (if configured), then any WithGuards extras.
func New(st Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:                st,
		dispatcher:           channel.Discard{},
		clock:                clock.Real(),
		logger:               slog.Default(),
		flowGen:              UUIDv7Generator{},
		reconcileConcurrency: DefaultReconcileConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.limiter == nil {
		e.limiter = ratelimit.NewWindow(ratelimit.DefaultWindow, ratelimit.DefaultLimit, ratelimit.WithClock(e.clock))
	}
	if e.reconcileConcurrency <= 0 {
		e.reconcileConcurrency = DefaultReconcileConcurrency
	}

	e.guards = []Guard{RoleGuard(grantedRoles{static: e.roles, grants: st}), RateLimitGuard(e.limiter)}
	if e.membership != nil {
		e.guards = append(e.guards, MembershipGuard(e.membership))
	}
	e.guards = append(e.guards, e.extra...)
	e.dedup = NewDeduplicator(st, e.links)
	return e
}

// Roles returns the configured role table.
func (e *Engine) Roles() Roles {
	return e.roles
}

// NewFlow generates a new flow token for an external request.
func (e *Engine) NewFlow() string {
	return e.flowGen.Generate()
}

// begin starts a request: it assigns a flow token and runs the guards.
func (e *Engine) begin(ctx context.Context, actor order.Actor, op Op, orderID int64) (string, error) {
	req := Request{Actor: actor, Op: op, OrderID: orderID, Flow: e.NewFlow()}
	for _, g := range e.guards {
		if err := g(ctx, req); err != nil {
			e.logger.Info("request rejected",
				"op", op,
				"order_id", orderID,
				"actor", actor.ID,
				"flow", req.Flow,
				"error", err,
			)
			return req.Flow, err
		}
	}
	return req.Flow, nil
}

// schedule hands a committed order to the channel dispatcher.
func (e *Engine) schedule(ctx context.Context, orderID int64, flow string) {
	e.dispatcher.Dispatch(ctx, channel.Job{OrderID: orderID, Flow: flow})
}
