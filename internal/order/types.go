package order

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an Order.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusCanceled   Status = "CANCELED"
)

// Statuses lists every order status in lifecycle order.
var Statuses = []Status{StatusNew, StatusInProgress, StatusDone, StatusCanceled}

// ParseStatus converts a string to a Status. Matching is exact.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCanceled
}

// ApplicationStatus is the state of a claim attempt.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "PENDING"
	ApplicationApproved ApplicationStatus = "APPROVED"
	ApplicationRejected ApplicationStatus = "REJECTED"
)

// ParseApplicationStatus converts a string to an ApplicationStatus.
func ParseApplicationStatus(s string) (ApplicationStatus, error) {
	switch ApplicationStatus(s) {
	case ApplicationPending, ApplicationApproved, ApplicationRejected:
		return ApplicationStatus(s), nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// Actor identifies a person acting on orders: a Telegram user id plus an
// optional handle used for display only.
type Actor struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Display renders the actor the way channel posts show it.
func (a Actor) Display() string {
	if a.Username != "" {
		return "@" + a.Username
	}
	return fmt.Sprintf("#%d", a.ID)
}

// MessageRef references a published channel message. Empty means the order
// has not been published yet.
type MessageRef string

// SyncFailureKind classifies the last failed channel sync.
type SyncFailureKind string

const (
	SyncFailureTransient SyncFailureKind = "TRANSIENT"
	SyncFailureFatal     SyncFailureKind = "FATAL"
)

// SyncFailure records the last channel sync that could not be completed.
// Fatal failures need manual reconciliation; transient ones self-heal on the
// next sync.
type SyncFailure struct {
	Kind   SyncFailureKind `json:"kind"`
	Reason string          `json:"reason"`
	At     time.Time       `json:"at"`
}

// Order is a work ticket. The store is authoritative for every field.
type Order struct {
	ID           int64        `json:"id"`
	Title        string       `json:"title"`
	Body         string       `json:"body"`
	Amount       *Amount      `json:"amount,omitempty"`
	Status       Status       `json:"status"`
	Creator      Actor        `json:"creator"`
	Claimant     *Actor       `json:"claimant,omitempty"`
	MessageRef   MessageRef   `json:"message_ref,omitempty"`
	RenderedHash string       `json:"rendered_hash,omitempty"`
	SyncFailure  *SyncFailure `json:"sync_failure,omitempty"`
	Version      int64        `json:"version"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`

	// RenderedVersion is the order version the channel post last showed.
	RenderedVersion int64 `json:"rendered_version,omitempty"`

	// Draft orders are held back from the channel until published.
	Draft bool `json:"draft,omitempty"`
}

// Published reports whether the order has a channel message.
func (o Order) Published() bool {
	return o.MessageRef != ""
}

// MediaKind tags the content of a MediaItem.
type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
)

// MediaItem is an attachment of an order. Immutable once created.
type MediaItem struct {
	ID       int64     `json:"id"`
	OrderID  int64     `json:"order_id"`
	Position int       `json:"position"`
	Kind     MediaKind `json:"kind"`
	Ref      string    `json:"ref"`
}

// Application is one actor's claim attempt on one order.
type Application struct {
	ID        int64             `json:"id"`
	OrderID   int64             `json:"order_id"`
	Applicant Actor             `json:"applicant"`
	Status    ApplicationStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	DecidedAt *time.Time        `json:"decided_at,omitempty"`
}

// HistoryEntry is an append-only record of one status transition.
// From is nil for the initial NEW assignment.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	From      *Status   `json:"from,omitempty"`
	To        Status    `json:"to"`
	ActorID   int64     `json:"actor_id"`
	Note      string    `json:"note,omitempty"`
	FlowToken string    `json:"flow_token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Operator is a user granted the operator role at runtime, on top of the
// configured lists.
type Operator struct {
	ID       int64     `json:"id"`
	Username string    `json:"username,omitempty"`
	AddedBy  int64     `json:"added_by"`
	AddedAt  time.Time `json:"added_at"`
}
