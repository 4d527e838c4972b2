package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/PengC8899/didi-bot/internal/order"
	"github.com/PengC8899/didi-bot/internal/ratelimit"
)

// Op names an engine operation for guards.
type Op string

const (
	OpCreate    Op = "create"
	OpApply     Op = "apply"
	OpApprove   Op = "approve"
	OpReject    Op = "reject"
	OpDone      Op = "done"
	OpCancel    Op = "cancel"
	OpResync    Op = "resync"
	OpReconcile Op = "reconcile"
	OpPublish   Op = "publish"
	// OpManage covers operator grants.
	OpManage Op = "manage"
	// OpRead covers queries any actor may run.
	OpRead Op = "read"
	// OpReview covers admin queries: applications, statistics and operators.
	OpReview Op = "review"
)

// Request describes an operation about to run.
type Request struct {
	Actor   order.Actor
	Op      Op
	OrderID int64
	Flow    string
}

// Guard vets a request before the engine touches the store. A non-nil
// error aborts the operation and is returned to the caller unchanged.
type Guard func(ctx context.Context, req Request) error

// rateClasses maps mutating operations to limiter classes. Reads are not
// limited.
var rateClasses = map[Op]ratelimit.Class{
	OpCreate:    ratelimit.ClassCommand,
	OpApply:     ratelimit.ClassApply,
	OpApprove:   ratelimit.ClassApprove,
	OpReject:    ratelimit.ClassReject,
	OpDone:      ratelimit.ClassDone,
	OpCancel:    ratelimit.ClassCancel,
	OpResync:    ratelimit.ClassCommand,
	OpReconcile: ratelimit.ClassCommand,
	OpPublish:   ratelimit.ClassCommand,
	OpManage:    ratelimit.ClassCommand,
}

// minRoles is the static role each operation needs. Done and Cancel are
// open to members here; the engine checks claimant/creator after reading
// the order.
var minRoles = map[Op]Role{
	OpCreate:    RoleOperator,
	OpApply:     RoleMember,
	OpApprove:   RoleAdmin,
	OpReject:    RoleAdmin,
	OpDone:      RoleMember,
	OpCancel:    RoleMember,
	OpResync:    RoleAdmin,
	OpReconcile: RoleAdmin,
	OpRead:      RoleMember,
	OpReview:    RoleAdmin,
	OpPublish:   RoleOperator,
	OpManage:    RoleAdmin,
}

// RateLimitGuard consumes one slot of the actor's quota for the
// operation's class. It runs after RoleGuard, so refused actors spend
// nothing.
func RateLimitGuard(l ratelimit.Limiter) Guard {
	return func(_ context.Context, req Request) error {
		class, ok := rateClasses[req.Op]
		if !ok {
			return nil
		}
		if err := l.Allow(req.Actor.ID, class); err != nil {
			var e *order.Error
			if errors.As(err, &e) && e.OrderID == 0 {
				e.OrderID = req.OrderID
			}
			return err
		}
		return nil
	}
}

// RoleGuard rejects actors below the operation's static role. Operations
// open to members skip the lookup.
func RoleGuard(roles RoleResolver) Guard {
	return func(ctx context.Context, req Request) error {
		min, ok := minRoles[req.Op]
		if !ok {
			return fmt.Errorf("role guard: unknown operation %q", req.Op)
		}
		if min == RoleMember {
			return nil
		}
		role, err := roles.RoleOf(ctx, req.Actor.ID)
		if err != nil {
			return err
		}
		if !role.Satisfies(min) {
			e := order.NewUnauthorized(req.Actor.ID, string(req.Op))
			e.OrderID = req.OrderID
			return e
		}
		return nil
	}
}

// MembershipChecker answers whether a user belongs to the channel.
// *telegram.Client satisfies it.
type MembershipChecker interface {
	IsMember(ctx context.Context, userID int64) (bool, error)
}

// MembershipGuard requires channel membership to apply. Other operations
// pass through.
func MembershipGuard(checker MembershipChecker) Guard {
	return func(ctx context.Context, req Request) error {
		if req.Op != OpApply {
			return nil
		}
		ok, err := checker.IsMember(ctx, req.Actor.ID)
		if err != nil {
			return fmt.Errorf("check channel membership: %w", err)
		}
		if !ok {
			return &order.Error{
				Code:    order.CodeUnauthorized,
				Message: fmt.Sprintf("actor %d is not a channel member", req.Actor.ID),
				OrderID: req.OrderID,
			}
		}
		return nil
	}
}
