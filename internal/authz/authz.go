// Package authz gates HTTP operations by staff role. The ledger and loan
// services never see roles; handlers are wrapped with Middleware.Require.
package authz

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/branchledger/branchledger/internal/platform/httpx"
)

// Role is a staff role.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleStaff   Role = "STAFF"
)

// ParseRole normalises raw into a known Role.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(raw)))
	switch r {
	case RoleAdmin, RoleManager, RoleStaff:
		return r, true
	}
	return "", false
}

// Capability names one gated operation.
type Capability string

const (
	CapAccountOpen     Capability = "account.open"
	CapAccountFreeze   Capability = "account.freeze"
	CapAccountUnfreeze Capability = "account.unfreeze"
	CapAccountClose    Capability = "account.close"
	CapLedgerPost      Capability = "ledger.post"
	CapLoanApply       Capability = "loan.apply"
	CapLoanApprove     Capability = "loan.approve"
	CapLoanDisburse    Capability = "loan.disburse"
	CapReportView      Capability = "report.view"
	CapReportExport    Capability = "report.export"
	CapCustomerManage  Capability = "customer.manage"
)

var staffCaps = []Capability{
	CapAccountOpen, CapAccountFreeze, CapLedgerPost, CapLoanApply, CapReportView, CapCustomerManage,
}

var managerCaps = append(append([]Capability(nil), staffCaps...),
	CapAccountUnfreeze, CapAccountClose, CapLoanApprove, CapLoanDisburse, CapReportExport)

// Authorizer answers capability questions.
type Authorizer interface {
	Can(role Role, c Capability) bool
}

// Policy is the static role table.
type Policy struct {
	grants map[Role]map[Capability]struct{}
}

// DefaultPolicy grants STAFF the teller operations, MANAGER the approvals on
// top, and ADMIN everything.
func DefaultPolicy() *Policy {
	p := &Policy{grants: map[Role]map[Capability]struct{}{}}
	p.grant(RoleStaff, staffCaps...)
	p.grant(RoleManager, managerCaps...)
	return p
}

func (p *Policy) grant(role Role, caps ...Capability) {
	set := p.grants[role]
	if set == nil {
		set = map[Capability]struct{}{}
		p.grants[role] = set
	}
	for _, c := range caps {
		set[c] = struct{}{}
	}
}

// Can implements Authorizer.
func (p *Policy) Can(role Role, c Capability) bool {
	if role == RoleAdmin {
		return true
	}
	_, ok := p.grants[role][c]
	return ok
}

// Actor is the authenticated staff member behind a request.
type Actor struct {
	ID       int64
	Username string
	Role     Role
}

type actorKey struct{}

// WithActor stores the actor in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom extracts the actor from ctx.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// ActorID returns the authenticated actor's id, or 0.
func ActorID(ctx context.Context) int64 {
	a, _ := ActorFrom(ctx)
	return a.ID
}

// Middleware wires authorization checks for HTTP handlers.
type Middleware struct {
	Authorizer Authorizer
	Logger     *slog.Logger
}

// Require lets the request through only when the actor's role holds c.
func (m Middleware) Require(c Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			if m.Authorizer == nil || !m.Authorizer.Can(actor.Role, c) {
				if m.Logger != nil {
					m.Logger.Warn("capability denied", slog.Int64("actor_id", actor.ID),
						slog.String("role", string(actor.Role)), slog.String("capability", string(c)))
				}
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing capability "+string(c))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
