package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PengC8899/didi-bot/internal/order"
)

// Transport sends payloads to the broadcast channel.
//
// Implementations classify failures by returning *TransientError (worth
// retrying: timeouts, rate limits, server errors, network) or *FatalError
// (retrying cannot help: message deleted, bot removed, malformed request).
// Unclassified errors are treated as transient.
type Transport interface {
	// Publish posts a new message and returns its reference.
	Publish(ctx context.Context, p Payload) (order.MessageRef, error)

	// Edit replaces the content of an existing message. Editing to
	// identical content succeeds.
	Edit(ctx context.Context, ref order.MessageRef, p Payload) error
}

// TransientError is a channel failure that may succeed on retry.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient: %s: %v", e.Reason, e.Err)
	}
	return "transient: " + e.Reason
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError is a channel failure that will not succeed on retry.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
	}
	return "fatal: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err is, or wraps, a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// RetryDelay returns the wait the remote side requested before retrying
// err, or zero. Errors carry the hint by implementing
// RetryDelay() time.Duration anywhere in their chain.
func RetryDelay(err error) time.Duration {
	var hint interface{ RetryDelay() time.Duration }
	if errors.As(err, &hint) {
		return hint.RetryDelay()
	}
	return 0
}
