package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PengC8899/didi-bot/internal/order"
	"github.com/PengC8899/didi-bot/internal/store"
)

// Input limits.
const (
	MaxTitleLen = 120
	MaxBodyLen  = 3000
	MaxNoteLen  = 500
	MaxMedia    = 10
)

// CreateInput describes a new order.
type CreateInput struct {
	Title  string
	Body   string
	Amount *order.Amount
	Media  []store.NewMedia

	// Draft keeps the order off the channel until PublishDraft.
	Draft bool
}

func (in CreateInput) validate() error {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return order.NewInvalidInput("title is required")
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleLen {
		return order.NewInvalidInput("title has %d characters, limit is %d", n, MaxTitleLen)
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return order.NewInvalidInput("body is required")
	}
	if n := utf8.RuneCountInString(body); n > MaxBodyLen {
		return order.NewInvalidInput("body has %d characters, limit is %d", n, MaxBodyLen)
	}
	if in.Amount != nil && *in.Amount < 0 {
		return order.NewInvalidInput("amount must not be negative")
	}
	if len(in.Media) > MaxMedia {
		return order.NewInvalidInput("%d media items, limit is %d", len(in.Media), MaxMedia)
	}
	for i, m := range in.Media {
		if m.Kind != order.MediaPhoto && m.Kind != order.MediaDocument {
			return order.NewInvalidInput("media %d: unknown kind %q", i, m.Kind)
		}
		if strings.TrimSpace(m.Ref) == "" {
			return order.NewInvalidInput("media %d: empty reference", i)
		}
	}
	return nil
}

func validateNote(note string) error {
	if n := utf8.RuneCountInString(note); n > MaxNoteLen {
		return order.NewInvalidInput("note has %d characters, limit is %d", n, MaxNoteLen)
	}
	return nil
}

// CreateOrder creates a NEW order and schedules its first publish. Drafts
// are stored without scheduling anything. Requires operator or admin.
func (e *Engine) CreateOrder(ctx context.Context, actor order.Actor, in CreateInput) (order.Order, error) {
	flow, err := e.begin(ctx, actor, OpCreate, 0)
	if err != nil {
		return order.Order{}, err
	}
	if err := in.validate(); err != nil {
		return order.Order{}, err
	}

	o, err := e.store.CreateOrder(ctx, store.NewOrder{
		Title:     strings.TrimSpace(in.Title),
		Body:      strings.TrimSpace(in.Body),
		Amount:    in.Amount,
		Creator:   actor,
		Media:     in.Media,
		FlowToken: flow,
		CreatedAt: e.clock.Now(),
		Draft:     in.Draft,
	})
	if err != nil {
		return order.Order{}, err
	}

	e.logger.Info("order created",
		"order_id", o.ID,
		"draft", o.Draft,
		"actor", actor.ID,
		"flow", flow,
	)
	if !o.Draft {
		e.schedule(ctx, o.ID, flow)
	}
	return o, nil
}

// PublishDraft releases a draft to the channel and schedules its first
// publish. Allowed for the creator and admins; only NEW drafts qualify.
func (e *Engine) PublishDraft(ctx context.Context, actor order.Actor, orderID int64) (order.Order, error) {
	flow, err := e.begin(ctx, actor, OpPublish, orderID)
	if err != nil {
		return order.Order{}, err
	}

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if !o.Draft || o.Status != order.StatusNew {
		return order.Order{}, &order.Error{
			Code:    order.CodeInvalidTransition,
			Message: fmt.Sprintf("only NEW drafts can be published (status %s, draft %t)", o.Status, o.Draft),
			OrderID: orderID,
		}
	}
	if o.Creator.ID != actor.ID && !e.roles.IsAdmin(actor.ID) {
		return order.Order{}, e.unauthorized(actor, OpPublish, orderID)
	}

	published, err := e.store.PublishDraft(ctx, o.ID, o.Version, e.clock.Now())
	if err != nil {
		return order.Order{}, err
	}
	e.logger.Info("draft published",
		"order_id", o.ID,
		"version", published.Version,
		"actor", actor.ID,
		"flow", flow,
	)
	e.schedule(ctx, o.ID, flow)
	return published, nil
}

// Apply registers the actor's interest in a NEW order. It is not a
// transition: order status and version are untouched and no sync is
// scheduled. Applying twice returns the first application.
func (e *Engine) Apply(ctx context.Context, actor order.Actor, orderID int64) (ApplyResult, error) {
	flow, err := e.begin(ctx, actor, OpApply, orderID)
	if err != nil {
		return ApplyResult{}, err
	}

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return ApplyResult{}, err
	}
	if o.Draft {
		return ApplyResult{}, &order.Error{
			Code:    order.CodeInvalidTransition,
			Message: "order is a draft; applications open once it is published",
			OrderID: orderID,
		}
	}
	if o.Status != order.StatusNew {
		return ApplyResult{}, &order.Error{
			Code:    order.CodeInvalidTransition,
			Message: fmt.Sprintf("order is %s; applications are accepted only while NEW", o.Status),
			OrderID: orderID,
		}
	}

	res, err := e.dedup.Apply(ctx, orderID, actor, e.clock.Now())
	if err != nil {
		return ApplyResult{}, err
	}
	e.logger.Info("application recorded",
		"order_id", orderID,
		"application_id", res.Application.ID,
		"actor", actor.ID,
		"existing", res.Existing,
		"flow", flow,
	)
	return res, nil
}

// Approve accepts a PENDING application: the order moves NEW -> IN_PROGRESS,
// the applicant becomes claimant and the application becomes APPROVED, all
// in one conditional write. Admin only.
func (e *Engine) Approve(ctx context.Context, actor order.Actor, orderID, applicationID int64) (order.Order, error) {
	flow, err := e.begin(ctx, actor, OpApprove, orderID)
	if err != nil {
		return order.Order{}, err
	}

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	app, err := e.application(ctx, orderID, applicationID)
	if err != nil {
		return order.Order{}, err
	}
	if err := order.CheckTransition(o.ID, o.Status, order.StatusInProgress); err != nil {
		return order.Order{}, err
	}
	if app.Status != order.ApplicationPending {
		return order.Order{}, &order.Error{
			Code:          order.CodeInvalidTransition,
			Message:       fmt.Sprintf("application %d is %s, not PENDING", app.ID, app.Status),
			OrderID:       orderID,
			ApplicationID: app.ID,
		}
	}

	claimant := app.Applicant
	return e.transition(ctx, o, flow, actor, store.OrderPatch{
		Status:   order.StatusInProgress,
		Claimant: &claimant,
		Decide:   &store.ApplicationDecision{ApplicationID: app.ID, Status: order.ApplicationApproved},
	}, "")
}

// Reject declines a PENDING application. The order is not changed and no
// sync is scheduled. Admin only.
func (e *Engine) Reject(ctx context.Context, actor order.Actor, orderID, applicationID int64) (order.Application, error) {
	flow, err := e.begin(ctx, actor, OpReject, orderID)
	if err != nil {
		return order.Application{}, err
	}

	if _, err := e.application(ctx, orderID, applicationID); err != nil {
		return order.Application{}, err
	}
	app, err := e.store.DecideApplication(ctx, applicationID, order.ApplicationRejected, e.clock.Now())
	if err != nil {
		return order.Application{}, err
	}
	e.logger.Info("application rejected",
		"order_id", orderID,
		"application_id", applicationID,
		"actor", actor.ID,
		"flow", flow,
	)
	return app, nil
}

// MarkDone moves IN_PROGRESS -> DONE. Allowed for the claimant and admins.
func (e *Engine) MarkDone(ctx context.Context, actor order.Actor, orderID int64, note string) (order.Order, error) {
	flow, err := e.begin(ctx, actor, OpDone, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if err := validateNote(note); err != nil {
		return order.Order{}, err
	}

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if err := order.CheckTransition(o.ID, o.Status, order.StatusDone); err != nil {
		return order.Order{}, err
	}
	isClaimant := o.Claimant != nil && o.Claimant.ID == actor.ID
	if !isClaimant && !e.roles.IsAdmin(actor.ID) {
		return order.Order{}, e.unauthorized(actor, OpDone, orderID)
	}

	return e.transition(ctx, o, flow, actor, store.OrderPatch{Status: order.StatusDone}, note)
}

// Cancel moves NEW or IN_PROGRESS -> CANCELED. Allowed for admins, and for
// the creator when creator cancellation is enabled.
func (e *Engine) Cancel(ctx context.Context, actor order.Actor, orderID int64, note string) (order.Order, error) {
	flow, err := e.begin(ctx, actor, OpCancel, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if err := validateNote(note); err != nil {
		return order.Order{}, err
	}

	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if err := order.CheckTransition(o.ID, o.Status, order.StatusCanceled); err != nil {
		return order.Order{}, err
	}
	isCreator := e.allowCreatorCancel && o.Creator.ID == actor.ID
	if !isCreator && !e.roles.IsAdmin(actor.ID) {
		return order.Order{}, e.unauthorized(actor, OpCancel, orderID)
	}

	return e.transition(ctx, o, flow, actor, store.OrderPatch{Status: order.StatusCanceled}, note)
}

// transition commits patch conditionally on o.Version and schedules a sync.
func (e *Engine) transition(ctx context.Context, o order.Order, flow string, actor order.Actor, patch store.OrderPatch, note string) (order.Order, error) {
	from := o.Status
	patch.UpdatedAt = e.clock.Now()
	patch.History = order.HistoryEntry{
		From:      &from,
		ActorID:   actor.ID,
		Note:      note,
		FlowToken: flow,
	}

	updated, err := e.store.UpdateOrderConditional(ctx, o.ID, o.Version, patch)
	if err != nil {
		e.logger.Info("transition not applied",
			"order_id", o.ID,
			"from", from,
			"to", patch.Status,
			"version", o.Version,
			"actor", actor.ID,
			"flow", flow,
			"error", err,
		)
		return order.Order{}, err
	}

	e.logger.Info("order transitioned",
		"order_id", o.ID,
		"from", from,
		"to", updated.Status,
		"version", updated.Version,
		"actor", actor.ID,
		"flow", flow,
	)
	e.schedule(ctx, o.ID, flow)
	return updated, nil
}

// application loads an application and checks it belongs to orderID.
func (e *Engine) application(ctx context.Context, orderID, applicationID int64) (order.Application, error) {
	app, err := e.store.GetApplication(ctx, applicationID)
	if err != nil {
		return order.Application{}, err
	}
	if app.OrderID != orderID {
		return order.Application{}, order.NewApplicationNotFound(orderID, applicationID)
	}
	return app, nil
}

func (e *Engine) unauthorized(actor order.Actor, op Op, orderID int64) error {
	err := order.NewUnauthorized(actor.ID, string(op))
	err.OrderID = orderID
	return err
}
