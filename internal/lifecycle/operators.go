package lifecycle

import (
	"context"

	"github.com/PengC8899/didi-bot/internal/order"
)

// OperatorEntry is one row of the operator list. Configured entries come
// from the access lists and cannot be removed at runtime.
type OperatorEntry struct {
	order.Operator
	Configured bool `json:"configured,omitempty"`
}

// AddOperator grants user the operator role. It reports false when user
// already has operator rights or more. Admin only.
func (e *Engine) AddOperator(ctx context.Context, actor, user order.Actor) (bool, error) {
	flow, err := e.begin(ctx, actor, OpManage, 0)
	if err != nil {
		return false, err
	}
	if user.ID <= 0 {
		return false, order.NewInvalidInput("user id must be positive")
	}
	if e.roles.Of(user.ID) != RoleMember {
		e.logger.Info("operator already configured", "user", user.ID, "actor", actor.ID, "flow", flow)
		return false, nil
	}

	added, err := e.store.AddOperator(ctx, user, actor.ID, e.clock.Now())
	if err != nil {
		return false, err
	}
	e.logger.Info("operator granted",
		"user", user.ID,
		"added", added,
		"actor", actor.ID,
		"flow", flow,
	)
	return added, nil
}

// RemoveOperator revokes a runtime grant and reports whether one existed.
// Configured operators are refused. Admin only.
func (e *Engine) RemoveOperator(ctx context.Context, actor order.Actor, userID int64) (bool, error) {
	flow, err := e.begin(ctx, actor, OpManage, 0)
	if err != nil {
		return false, err
	}
	if e.roles.Of(userID) != RoleMember {
		return false, order.NewInvalidInput("user %d is configured as %s; edit the access lists instead", userID, e.roles.Of(userID))
	}

	removed, err := e.store.RemoveOperator(ctx, userID)
	if err != nil {
		return false, err
	}
	e.logger.Info("operator revoked",
		"user", userID,
		"removed", removed,
		"actor", actor.ID,
		"flow", flow,
	)
	return removed, nil
}

// Operators lists configured operators followed by runtime grants. Admin
// only.
func (e *Engine) Operators(ctx context.Context, actor order.Actor) ([]OperatorEntry, error) {
	if _, err := e.begin(ctx, actor, OpReview, 0); err != nil {
		return nil, err
	}
	granted, err := e.store.ListOperators(ctx)
	if err != nil {
		return nil, err
	}

	configured := e.roles.Operators()
	entries := make([]OperatorEntry, 0, len(configured)+len(granted))
	for _, id := range configured {
		entries = append(entries, OperatorEntry{Operator: order.Operator{ID: id}, Configured: true})
	}
	for _, op := range granted {
		entries = append(entries, OperatorEntry{Operator: op})
	}
	return entries, nil
}
