package lifecycle

import (
	"context"
	"fmt"

	"github.com/PengC8899/didi-bot/internal/order"
)

// Outcome is the result of a dispatched action. Exactly one field is set,
// except for Resync, which sets none.
type Outcome struct {
	Order       *order.Order       `json:"order,omitempty"`
	Application *order.Application `json:"application,omitempty"`
	Apply       *ApplyResult       `json:"apply,omitempty"`
}

// Dispatch runs a parsed control action on behalf of actor.
func (e *Engine) Dispatch(ctx context.Context, actor order.Actor, action order.Action) (Outcome, error) {
	switch a := action.(type) {
	case order.Apply:
		res, err := e.Apply(ctx, actor, a.OrderID)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Apply: &res}, nil

	case order.Approve:
		o, err := e.Approve(ctx, actor, a.OrderID, a.ApplicationID)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Order: &o}, nil

	case order.Reject:
		app, err := e.Reject(ctx, actor, a.OrderID, a.ApplicationID)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Application: &app}, nil

	case order.Done:
		o, err := e.MarkDone(ctx, actor, a.OrderID, "")
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Order: &o}, nil

	case order.Cancel:
		o, err := e.Cancel(ctx, actor, a.OrderID, "")
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Order: &o}, nil

	case order.Resync:
		return Outcome{}, e.ForceResync(ctx, actor, a.OrderID)

	case order.Publish:
		o, err := e.PublishDraft(ctx, actor, a.OrderID)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Order: &o}, nil

	default:
		return Outcome{}, fmt.Errorf("unsupported action %T", action)
	}
}

// HandleControl parses raw control data and dispatches it.
func (e *Engine) HandleControl(ctx context.Context, actor order.Actor, data string) (Outcome, error) {
	action, err := order.ParseAction(data)
	if err != nil {
		return Outcome{}, err
	}
	return e.Dispatch(ctx, actor, action)
}
