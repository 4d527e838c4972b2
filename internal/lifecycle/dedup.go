package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/PengC8899/didi-bot/internal/channel"
	"github.com/PengC8899/didi-bot/internal/order"
)

// ApplicationStore is the store surface the Deduplicator needs.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, orderID int64, applicant order.Actor, now time.Time) (order.Application, error)
}

// ApplyResult is the outcome of an apply. It is the same whether the
// application was just created or already existed.
type ApplyResult struct {
	Application order.Application `json:"application"`
	// Existing is true when the actor had already applied.
	Existing bool `json:"existing"`
	// OperatorLink opens a private chat with the operator.
	OperatorLink string `json:"operator_link,omitempty"`
	// BotLink opens a private chat with the bot about this order.
	BotLink string `json:"bot_link,omitempty"`
}

// Deduplicator creates at most one application per (order, applicant).
type Deduplicator struct {
	store ApplicationStore
	links channel.Links
}

// NewDeduplicator creates a Deduplicator.
func NewDeduplicator(st ApplicationStore, links channel.Links) *Deduplicator {
	return &Deduplicator{store: st, links: links}
}

// Apply creates a PENDING application, or returns the one the applicant
// already has on this order. A duplicate is not an error.
func (d *Deduplicator) Apply(ctx context.Context, orderID int64, applicant order.Actor, now time.Time) (ApplyResult, error) {
	app, err := d.store.CreateApplication(ctx, orderID, applicant, now)
	existing := false
	if errors.Is(err, order.ErrAlreadyExists) {
		existing, err = true, nil
	}
	if err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{
		Application:  app,
		Existing:     existing,
		OperatorLink: d.links.Operator(),
		BotLink:      d.links.ApplyStart(orderID),
	}, nil
}
