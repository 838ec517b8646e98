// Package policy decides whether a session may enter a space-gated
// surface. Evaluate is pure; callers audit the decision and translate a
// denial into the transport-level rejection.
package policy

import (
	identitydomain "github.com/nubera-hq/nubera/internal/identity/domain"
)

// SignInPath is where unauthenticated or unsalvageable sessions are sent.
const SignInPath = "/signin"

type Reason string

const (
	ReasonNoSession           Reason = "no_session"
	ReasonWrongSpace          Reason = "wrong_space"
	ReasonInsufficientRole    Reason = "insufficient_role"
	ReasonInvalidRoleForSpace Reason = "invalid_role_for_space"
)

// Decision is the outcome of a policy evaluation. Redirect, when set,
// points at the session's own landing page or sign-in, never at the
// resource that was denied.
type Decision struct {
	Allowed  bool
	Reason   Reason
	Redirect string
}

// Evaluate applies the gate rules in order:
//
//  1. no space requirement: allow
//  2. no session: deny, redirect to sign-in
//  3. wrong space: deny, redirect to the session's own landing page
//  4. required roles set and session role not among them: deny
//  5. session role not valid for its space at all (stale or corrupted
//     session): deny, redirect to sign-in
//  6. otherwise allow
func Evaluate(session *identitydomain.Session, requiredSpace identitydomain.Space, requiredRoles []identitydomain.Role) Decision {
	if requiredSpace == "" {
		return Decision{Allowed: true}
	}

	if session == nil {
		return Decision{
			Reason:   ReasonNoSession,
			Redirect: SignInPath,
		}
	}

	if session.Space != requiredSpace {
		return Decision{
			Reason:   ReasonWrongSpace,
			Redirect: session.Space.LandingPath(),
		}
	}

	if len(requiredRoles) > 0 && !roleIn(session.Role, requiredRoles) {
		return Decision{
			Reason:   ReasonInsufficientRole,
			Redirect: session.Space.LandingPath(),
		}
	}

	if !identitydomain.RoleValidForSpace(session.Role, session.Space) {
		return Decision{
			Reason:   ReasonInvalidRoleForSpace,
			Redirect: SignInPath,
		}
	}

	return Decision{Allowed: true}
}

func roleIn(role identitydomain.Role, set []identitydomain.Role) bool {
	if role == "" {
		return false
	}
	for _, r := range set {
		if r == role {
			return true
		}
	}
	return false
}
