package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/PengC8899/didi-bot/internal/clock"
	"github.com/PengC8899/didi-bot/internal/order"
)

// DefaultCallTimeout bounds a single transport call.
const DefaultCallTimeout = 10 * time.Second

// DefaultBackoff is the delay before each retry of a transient failure.
// Its length is the retry count: one initial attempt plus len retries.
var DefaultBackoff = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// maxPasses bounds how often one sync re-renders an order that kept
// changing while it was being sent.
const maxPasses = 3

// maxRetryDelay caps a wait requested by the remote side.
const maxRetryDelay = time.Minute

// Store is the subset of the store the synchronizer reads and writes.
// *store.Store satisfies it.
type Store interface {
	GetOrder(ctx context.Context, id int64) (order.Order, error)
	ListMedia(ctx context.Context, orderID int64) ([]order.MediaItem, error)
	SetMessageRef(ctx context.Context, id int64, ref order.MessageRef, renderedHash string, renderedVersion int64) error
	SetRenderedHash(ctx context.Context, id int64, renderedHash string, renderedVersion int64) error
	RecordSyncFailure(ctx context.Context, id int64, failure order.SyncFailure) error
}

// Synchronizer brings channel posts in line with the store.
//
// Thread-safety: all methods are safe for concurrent use. Concurrent syncs
// of one order share a single flight, so at most one runs per order at a
// time; syncs of different orders never wait for each other. No lock is
// held across store or transport calls.
type Synchronizer struct {
	store       Store
	transport   Transport
	renderer    Renderer
	clock       clock.Clock
	logger      *slog.Logger
	callTimeout time.Duration
	backoff     []time.Duration

	group singleflight.Group
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithRenderer sets the renderer (default: zero Renderer, no contact links).
func WithRenderer(r Renderer) SyncOption {
	return func(s *Synchronizer) { s.renderer = r }
}

// WithClock sets the time source used for backoff and failure stamps.
func WithClock(c clock.Clock) SyncOption {
	return func(s *Synchronizer) { s.clock = c }
}

// WithLogger sets the logger (default: slog.Default()).
func WithLogger(l *slog.Logger) SyncOption {
	return func(s *Synchronizer) { s.logger = l }
}

// WithCallTimeout sets the per-call transport timeout.
func WithCallTimeout(d time.Duration) SyncOption {
	return func(s *Synchronizer) { s.callTimeout = d }
}

// WithBackoff sets the retry delays. An empty slice disables retries.
func WithBackoff(delays ...time.Duration) SyncOption {
	return func(s *Synchronizer) {
		s.backoff = append([]time.Duration(nil), delays...)
	}
}

// NewSynchronizer creates a synchronizer writing through t.
func NewSynchronizer(st Store, t Transport, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		store:       st,
		transport:   t,
		clock:       clock.Real(),
		logger:      slog.Default(),
		callTimeout: DefaultCallTimeout,
		backoff:     DefaultBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Renderer returns the renderer used for payloads.
func (s *Synchronizer) Renderer() Renderer {
	return s.renderer
}

// Sync publishes the order if it has no channel message, otherwise edits
// the message. The edit is skipped when the rendered payload is unchanged
// since the last successful send.
func (s *Synchronizer) Sync(ctx context.Context, orderID int64) error {
	return s.do(ctx, orderID, false)
}

// Resync is Sync without the unchanged-payload shortcut.
func (s *Synchronizer) Resync(ctx context.Context, orderID int64) error {
	return s.do(ctx, orderID, true)
}

// do runs the sync in the order's flight. A caller that joined a flight
// already under way cannot know whether that flight read the order before
// or after the caller's own commit, so it runs once more; that second
// flight necessarily started after the commit. A forced caller also runs
// again when the flight it joined was not forced.
func (s *Synchronizer) do(ctx context.Context, orderID int64, force bool) error {
	key := strconv.FormatInt(orderID, 10)
	for joined := false; ; joined = true {
		led := false
		v, err, _ := s.group.Do(key, func() (any, error) {
			led = true
			return force, s.run(ctx, orderID, force)
		})
		if led {
			return err
		}
		forced, _ := v.(bool)
		if joined && (forced || !force) {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
	}
}

// run repeats while the order's version moves under it so the last send
// reflects the latest commit. Orders still moving after maxPasses are left
// with a stale rendered version for reconciliation to pick up.
func (s *Synchronizer) run(ctx context.Context, orderID int64, force bool) error {
	for pass := 0; pass < maxPasses; pass++ {
		o, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("sync order %d: %w", orderID, err)
		}
		if o.Draft {
			s.logger.Debug("draft order, not syncing", "order_id", orderID)
			return nil
		}
		if err := s.syncOrder(ctx, o, force || pass > 0); err != nil {
			return err
		}

		latest, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("sync order %d: %w", orderID, err)
		}
		if latest.Version == o.Version {
			return nil
		}
		s.logger.Debug("order changed during sync, re-rendering",
			"order_id", orderID,
			"rendered_version", o.Version,
			"latest_version", latest.Version,
		)
	}
	return nil
}

func (s *Synchronizer) syncOrder(ctx context.Context, o order.Order, force bool) error {
	media, err := s.store.ListMedia(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("sync order %d: %w", o.ID, err)
	}
	payload := s.renderer.Render(o, media)
	hash, err := PayloadHash(payload)
	if err != nil {
		return fmt.Errorf("sync order %d: %w", o.ID, err)
	}

	if !o.Published() {
		return s.publish(ctx, o, payload, hash)
	}
	if !force && hash == o.RenderedHash && o.SyncFailure == nil {
		s.logger.Debug("channel post unchanged, skipping edit",
			"order_id", o.ID,
			"message_ref", o.MessageRef,
			"payload_hash", hash,
		)
		if o.RenderedVersion < o.Version {
			if err := s.store.SetRenderedHash(ctx, o.ID, hash, o.Version); err != nil {
				return fmt.Errorf("record rendered hash for order %d: %w", o.ID, err)
			}
		}
		return nil
	}
	return s.edit(ctx, o, payload, hash)
}

func (s *Synchronizer) publish(ctx context.Context, o order.Order, p Payload, hash string) error {
	var ref order.MessageRef
	err := s.withRetry(ctx, "publish", o, hash, func(ctx context.Context) error {
		var err error
		ref, err = s.transport.Publish(ctx, p)
		return err
	})
	if err != nil {
		return s.fail(ctx, o, hash, err)
	}

	if err := s.store.SetMessageRef(ctx, o.ID, ref, hash, o.Version); err != nil {
		// The post exists but the store does not know it.
		s.logger.Error("channel post orphaned",
			"order_id", o.ID,
			"message_ref", ref,
			"payload_hash", hash,
			"error", err,
		)
		return fmt.Errorf("record message ref for order %d: %w", o.ID, err)
	}
	s.logger.Info("channel post published",
		"order_id", o.ID,
		"message_ref", ref,
		"payload_hash", hash,
	)
	return nil
}

func (s *Synchronizer) edit(ctx context.Context, o order.Order, p Payload, hash string) error {
	err := s.withRetry(ctx, "edit", o, hash, func(ctx context.Context) error {
		return s.transport.Edit(ctx, o.MessageRef, p)
	})
	if err != nil {
		return s.fail(ctx, o, hash, err)
	}

	if err := s.store.SetRenderedHash(ctx, o.ID, hash, o.Version); err != nil {
		return fmt.Errorf("record rendered hash for order %d: %w", o.ID, err)
	}
	s.logger.Info("channel post edited",
		"order_id", o.ID,
		"message_ref", o.MessageRef,
		"payload_hash", hash,
	)
	return nil
}

// withRetry calls fn once and then once per backoff delay while it fails
// transiently.
func (s *Synchronizer) withRetry(ctx context.Context, op string, o order.Order, hash string, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := s.call(ctx, fn)
		if err == nil {
			return nil
		}
		if IsFatal(err) || attempt >= len(s.backoff) || ctx.Err() != nil {
			return err
		}

		delay := s.backoff[attempt]
		if hint := min(RetryDelay(err), maxRetryDelay); hint > delay {
			delay = hint
		}
		s.logger.Warn("channel "+op+" failed, retrying",
			"order_id", o.ID,
			"message_ref", o.MessageRef,
			"payload_hash", hash,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(delay):
		}
	}
}

func (s *Synchronizer) call(ctx context.Context, fn func(context.Context) error) error {
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}
	err := fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) && !IsFatal(err) {
		return &TransientError{Reason: "call timed out", Err: err}
	}
	return err
}

// fail flags the order and converts err into a domain sync error.
func (s *Synchronizer) fail(ctx context.Context, o order.Order, hash string, err error) error {
	kind, code := order.SyncFailureTransient, order.CodeTransientSyncFailure
	if IsFatal(err) {
		kind, code = order.SyncFailureFatal, order.CodeFatalSyncFailure
	}
	s.logger.Error("channel sync failed",
		"order_id", o.ID,
		"message_ref", o.MessageRef,
		"payload_hash", hash,
		"kind", kind,
		"error", err,
	)

	failure := order.SyncFailure{Kind: kind, Reason: err.Error(), At: s.clock.Now()}
	// The caller's context may be what expired; flag the order regardless.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultCallTimeout)
	defer cancel()
	if rerr := s.store.RecordSyncFailure(recordCtx, o.ID, failure); rerr != nil {
		s.logger.Error("record sync failure", "order_id", o.ID, "error", rerr)
	}

	return &order.Error{
		Code:    code,
		Message: "channel sync failed",
		OrderID: o.ID,
		Err:     err,
	}
}
