package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/PengC8899/didi-bot/internal/order"
	"github.com/PengC8899/didi-bot/internal/store"
)

// ListFilter selects orders for List.
type ListFilter struct {
	Status *order.Status
	Offset int
	Limit  int
}

// OrderDetail is an order with its attachments.
type OrderDetail struct {
	Order order.Order       `json:"order"`
	Media []order.MediaItem `json:"media"`
}

// Get returns an order and its media.
func (e *Engine) Get(ctx context.Context, actor order.Actor, orderID int64) (OrderDetail, error) {
	if _, err := e.begin(ctx, actor, OpRead, orderID); err != nil {
		return OrderDetail{}, err
	}
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return OrderDetail{}, err
	}
	media, err := e.store.ListMedia(ctx, orderID)
	if err != nil {
		return OrderDetail{}, err
	}
	return OrderDetail{Order: o, Media: media}, nil
}

// List returns orders newest first.
func (e *Engine) List(ctx context.Context, actor order.Actor, f ListFilter) ([]order.Order, error) {
	if _, err := e.begin(ctx, actor, OpRead, 0); err != nil {
		return nil, err
	}
	if f.Offset < 0 || f.Limit < 0 {
		return nil, order.NewInvalidInput("offset and limit must not be negative")
	}
	return e.store.ListOrders(ctx, store.ListOptions{Status: f.Status, Offset: f.Offset, Limit: f.Limit})
}

// History returns an order's status history, oldest first.
func (e *Engine) History(ctx context.Context, actor order.Actor, orderID int64) ([]order.HistoryEntry, error) {
	if _, err := e.begin(ctx, actor, OpRead, orderID); err != nil {
		return nil, err
	}
	if _, err := e.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return e.store.ListHistory(ctx, orderID)
}

// Applications lists an order's applications, optionally by status.
// Admin only.
func (e *Engine) Applications(ctx context.Context, actor order.Actor, orderID int64, status *order.ApplicationStatus) ([]order.Application, error) {
	if _, err := e.begin(ctx, actor, OpReview, orderID); err != nil {
		return nil, err
	}
	if _, err := e.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return e.store.ListApplications(ctx, orderID, status)
}

// UserOrders returns the most recently updated orders the actor created or
// claimed.
func (e *Engine) UserOrders(ctx context.Context, actor order.Actor) ([]order.Order, error) {
	if _, err := e.begin(ctx, actor, OpRead, 0); err != nil {
		return nil, err
	}
	return e.store.ListUserOrders(ctx, actor.ID, UserOrdersLimit)
}

// Stats aggregates orders created in [from, to) per status. Admin only.
func (e *Engine) Stats(ctx context.Context, actor order.Actor, from, to time.Time) ([]store.StatusStat, error) {
	if _, err := e.begin(ctx, actor, OpReview, 0); err != nil {
		return nil, err
	}
	if !from.Before(to) {
		return nil, order.NewInvalidInput("empty range: %s is not before %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	stats, err := e.store.Stats(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}
