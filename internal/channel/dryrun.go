package channel

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/PengC8899/didi-bot/internal/order"
)

// DryRun is the Transport used when no bot token is configured. It logs
// what would be sent and accepts every call. References are random, so
// posts from separate runs never collide, and edits of any reference
// succeed.
type DryRun struct {
	Logger *slog.Logger
}

func (d DryRun) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Publish logs p and returns a fresh "dry:" reference.
func (d DryRun) Publish(_ context.Context, p Payload) (order.MessageRef, error) {
	ref := order.MessageRef("dry:" + uuid.NewString())
	d.logger().Info("dry-run publish",
		"message_ref", ref,
		"photo", p.Photo != "",
		"text", p.Text,
	)
	return ref, nil
}

// Edit logs p.
func (d DryRun) Edit(_ context.Context, ref order.MessageRef, p Payload) error {
	d.logger().Info("dry-run edit",
		"message_ref", ref,
		"photo", p.Photo != "",
		"text", p.Text,
	)
	return nil
}
