package order

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxActionDataLen is the largest encoded action accepted. Telegram limits
// callback data to 64 bytes.
const MaxActionDataLen = 64

// Action is a control on a channel post or a review message. The set of
// implementations is closed: Apply, Approve, Reject, Done, Cancel, Resync,
// Publish.
type Action interface {
	// Tag is the wire tag of the action kind.
	Tag() string
	// Order is the target order id.
	Order() int64

	sealed()
}

// Apply expresses interest in claiming an order.
type Apply struct{ OrderID int64 }

// Approve accepts a pending application, moving the order to IN_PROGRESS.
type Approve struct{ OrderID, ApplicationID int64 }

// Reject declines a pending application.
type Reject struct{ OrderID, ApplicationID int64 }

// Done marks an in-progress order as finished.
type Done struct{ OrderID int64 }

// Cancel cancels an order that is not finished.
type Cancel struct{ OrderID int64 }

// Resync re-sends the channel post of an order.
type Resync struct{ OrderID int64 }

// Publish releases a draft order to the channel.
type Publish struct{ OrderID int64 }

func (Apply) Tag() string   { return "apply" }
func (Approve) Tag() string { return "approve" }
func (Reject) Tag() string  { return "reject" }
func (Done) Tag() string    { return "done" }
func (Cancel) Tag() string  { return "cancel" }
func (Resync) Tag() string  { return "resync" }
func (Publish) Tag() string { return "publish" }

func (a Apply) Order() int64   { return a.OrderID }
func (a Approve) Order() int64 { return a.OrderID }
func (a Reject) Order() int64  { return a.OrderID }
func (a Done) Order() int64    { return a.OrderID }
func (a Cancel) Order() int64  { return a.OrderID }
func (a Resync) Order() int64  { return a.OrderID }
func (a Publish) Order() int64 { return a.OrderID }

func (Apply) sealed()   {}
func (Approve) sealed() {}
func (Reject) sealed()  {}
func (Done) sealed()    {}
func (Cancel) sealed()  {}
func (Resync) sealed()  {}
func (Publish) sealed() {}

// EncodeAction renders a as "tag:order" or "tag:order:application".
func EncodeAction(a Action) string {
	switch v := a.(type) {
	case Approve:
		return fmt.Sprintf("%s:%d:%d", v.Tag(), v.OrderID, v.ApplicationID)
	case Reject:
		return fmt.Sprintf("%s:%d:%d", v.Tag(), v.OrderID, v.ApplicationID)
	default:
		return fmt.Sprintf("%s:%d", a.Tag(), a.Order())
	}
}

// ParseAction parses control data produced by EncodeAction.
//
// Parsing is strict so that every encoded action round-trips and no other
// string is accepted: the tag must be known, ids must be canonical positive
// decimals (no sign, no leading zeros), and the field count must match the
// tag exactly.
func ParseAction(data string) (Action, error) {
	if len(data) > MaxActionDataLen {
		return nil, NewInvalidInput("action data exceeds %d bytes", MaxActionDataLen)
	}
	parts := strings.Split(data, ":")
	tag := parts[0]

	want := 2
	if tag == "approve" || tag == "reject" {
		want = 3
	}
	switch tag {
	case "apply", "approve", "reject", "done", "cancel", "resync", "publish":
	default:
		return nil, NewInvalidInput("unknown action %q", tag)
	}
	if len(parts) != want {
		return nil, NewInvalidInput("action %q: want %d fields, got %d", tag, want, len(parts))
	}

	orderID, err := parseID(parts[1])
	if err != nil {
		return nil, NewInvalidInput("action %q: order id: %v", tag, err)
	}
	var appID int64
	if want == 3 {
		appID, err = parseID(parts[2])
		if err != nil {
			return nil, NewInvalidInput("action %q: application id: %v", tag, err)
		}
	}

	switch tag {
	case "apply":
		return Apply{OrderID: orderID}, nil
	case "approve":
		return Approve{OrderID: orderID, ApplicationID: appID}, nil
	case "reject":
		return Reject{OrderID: orderID, ApplicationID: appID}, nil
	case "done":
		return Done{OrderID: orderID}, nil
	case "cancel":
		return Cancel{OrderID: orderID}, nil
	case "publish":
		return Publish{OrderID: orderID}, nil
	default:
		return Resync{OrderID: orderID}, nil
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%q is not positive", s)
	}
	if strconv.FormatInt(id, 10) != s {
		return 0, fmt.Errorf("%q is not canonical", s)
	}
	return id, nil
}
