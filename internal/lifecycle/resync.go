package lifecycle

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/PengC8899/didi-bot/internal/order"
)

// ErrNoChannel is returned by ForceResync and Reconcile when the engine was
// built without WithSync.
var ErrNoChannel = errors.New("no channel configured")

// ForceResync re-renders and re-sends an order's channel post now,
// bypassing the unchanged-payload shortcut. Unlike the post-commit sync,
// failures are returned. Admin only.
func (e *Engine) ForceResync(ctx context.Context, actor order.Actor, orderID int64) error {
	flow, err := e.begin(ctx, actor, OpResync, orderID)
	if err != nil {
		return err
	}
	if e.syncer == nil {
		return ErrNoChannel
	}
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Draft {
		return order.NewInvalidInput("order %d is a draft; publish it first", orderID)
	}

	if err := e.syncer.Resync(ctx, orderID); err != nil {
		e.logger.Warn("forced resync failed", "order_id", orderID, "actor", actor.ID, "flow", flow, "error", err)
		return err
	}
	e.logger.Info("forced resync done", "order_id", orderID, "actor", actor.ID, "flow", flow)
	return nil
}

// ReconcileFailure is one order Reconcile could not sync.
type ReconcileFailure struct {
	OrderID int64  `json:"order_id"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error"`
}

// ReconcileReport summarizes a reconciliation pass.
type ReconcileReport struct {
	Checked  int                `json:"checked"`
	Synced   int                `json:"synced"`
	Failures []ReconcileFailure `json:"failures"`
}

// Reconcile force-resyncs every order that was never published, whose last
// sync failed, or whose post lags its version. Drafts are left alone.
// Individual failures are reported, not returned. Admin only.
func (e *Engine) Reconcile(ctx context.Context, actor order.Actor) (ReconcileReport, error) {
	flow, err := e.begin(ctx, actor, OpReconcile, 0)
	if err != nil {
		return ReconcileReport{}, err
	}
	if e.syncer == nil {
		return ReconcileReport{}, ErrNoChannel
	}

	pending, err := e.store.ListUnsynced(ctx, DefaultReconcileBatch)
	if err != nil {
		return ReconcileReport{}, err
	}

	report := ReconcileReport{Checked: len(pending), Failures: []ReconcileFailure{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.reconcileConcurrency)
	for _, o := range pending {
		id := o.ID
		g.Go(func() error {
			err := e.syncer.Resync(gctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures = append(report.Failures, ReconcileFailure{
					OrderID: id,
					Code:    string(order.CodeOf(err)),
					Error:   err.Error(),
				})
				return nil
			}
			report.Synced++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	slices.SortFunc(report.Failures, func(a, b ReconcileFailure) int {
		return cmp.Compare(a.OrderID, b.OrderID)
	})
	e.logger.Info("reconciliation done",
		"checked", report.Checked,
		"synced", report.Synced,
		"failed", len(report.Failures),
		"flow", flow,
	)
	return report, nil
}
