package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/PengC8899/didi-bot/internal/order"
)

// Role is an actor's static permission level.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleMember   Role = "member"
)

// Roles maps actor ids to roles. Admins have every operator permission.
// Anyone not listed is a member. The zero value treats everyone as a member.
type Roles struct {
	admins    map[int64]struct{}
	operators map[int64]struct{}
}

// NewRoles builds a role table from the configured id lists.
func NewRoles(admins, operators []int64) Roles {
	r := Roles{
		admins:    make(map[int64]struct{}, len(admins)),
		operators: make(map[int64]struct{}, len(operators)),
	}
	for _, id := range admins {
		r.admins[id] = struct{}{}
	}
	for _, id := range operators {
		r.operators[id] = struct{}{}
	}
	return r
}

// Of returns the role of actorID.
func (r Roles) Of(actorID int64) Role {
	if _, ok := r.admins[actorID]; ok {
		return RoleAdmin
	}
	if _, ok := r.operators[actorID]; ok {
		return RoleOperator
	}
	return RoleMember
}

// IsAdmin reports whether actorID is an admin.
func (r Roles) IsAdmin(actorID int64) bool {
	return r.Of(actorID) == RoleAdmin
}

// Operators returns the configured operator ids, sorted.
func (r Roles) Operators() []int64 {
	ids := make([]int64, 0, len(r.operators))
	for id := range r.operators {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// RoleOf implements RoleResolver from the configured lists alone.
func (r Roles) RoleOf(_ context.Context, actorID int64) (Role, error) {
	return r.Of(actorID), nil
}

// RoleResolver resolves an actor's role when a request arrives.
type RoleResolver interface {
	RoleOf(ctx context.Context, actorID int64) (Role, error)
}

// OperatorStore keeps runtime operator grants. *store.Store satisfies it.
type OperatorStore interface {
	AddOperator(ctx context.Context, user order.Actor, addedBy int64, now time.Time) (bool, error)
	RemoveOperator(ctx context.Context, userID int64) (bool, error)
	IsOperator(ctx context.Context, userID int64) (bool, error)
	ListOperators(ctx context.Context) ([]order.Operator, error)
}

// grantedRoles layers runtime grants over the configured lists. A grant
// only lifts a member to operator; admins come from configuration.
type grantedRoles struct {
	static Roles
	grants OperatorStore
}

func (g grantedRoles) RoleOf(ctx context.Context, actorID int64) (Role, error) {
	if role := g.static.Of(actorID); role != RoleMember {
		return role, nil
	}
	ok, err := g.grants.IsOperator(ctx, actorID)
	if err != nil {
		return RoleMember, fmt.Errorf("resolve role of %d: %w", actorID, err)
	}
	if ok {
		return RoleOperator, nil
	}
	return RoleMember, nil
}

// Satisfies reports whether role meets min (admin > operator > member).
func (role Role) Satisfies(min Role) bool {
	return rank(role) >= rank(min)
}

func rank(r Role) int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleOperator:
		return 1
	default:
		return 0
	}
}
