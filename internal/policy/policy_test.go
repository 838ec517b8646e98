package policy

import (
	"testing"

	identitydomain "github.com/nubera-hq/nubera/internal/identity/domain"
	"github.com/stretchr/testify/assert"
)

func customerSession(role identitydomain.Role) *identitydomain.Session {
	return &identitydomain.Session{
		UserID: 100,
		OrgID:  200,
		Space:  identitydomain.SpaceCustomer,
		Role:   role,
	}
}

func TestEvaluate_NoSpaceRequirementAllows(t *testing.T) {
	decision := Evaluate(nil, "", nil)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Redirect)
}

func TestEvaluate_NoSessionRedirectsToSignIn(t *testing.T) {
	decision := Evaluate(nil, identitydomain.SpaceCustomer, nil)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonNoSession, decision.Reason)
	assert.Equal(t, SignInPath, decision.Redirect)
}

func TestEvaluate_WrongSpaceRedirectsToOwnLanding(t *testing.T) {
	session := &identitydomain.Session{
		UserID: 100,
		OrgID:  200,
		Space:  identitydomain.SpaceOperator,
		Role:   identitydomain.RoleSupport,
	}

	decision := Evaluate(session, identitydomain.SpaceCustomer, nil)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonWrongSpace, decision.Reason)
	assert.Equal(t, identitydomain.SpaceOperator.LandingPath(), decision.Redirect)
}

func TestEvaluate_InsufficientRole(t *testing.T) {
	session := customerSession(identitydomain.RoleViewer)

	decision := Evaluate(session, identitydomain.SpaceCustomer,
		[]identitydomain.Role{identitydomain.RoleOwner, identitydomain.RoleAdmin})
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonInsufficientRole, decision.Reason)
	assert.Equal(t, identitydomain.SpaceCustomer.LandingPath(), decision.Redirect)
}

func TestEvaluate_RoleNotValidForSpace(t *testing.T) {
	// An operator role inside a customer-space session means the session
	// is stale or corrupted; it goes back to sign-in.
	session := customerSession(identitydomain.RoleOperatorAdmin)

	decision := Evaluate(session, identitydomain.SpaceCustomer, nil)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonInvalidRoleForSpace, decision.Reason)
	assert.Equal(t, SignInPath, decision.Redirect)
}

func TestEvaluate_RoleCheckBeforeSpaceValidity(t *testing.T) {
	session := customerSession(identitydomain.RoleOperatorAdmin)

	decision := Evaluate(session, identitydomain.SpaceCustomer,
		[]identitydomain.Role{identitydomain.RoleOwner})
	assert.Equal(t, ReasonInsufficientRole, decision.Reason)
}

func TestEvaluate_Allows(t *testing.T) {
	for _, role := range identitydomain.RolesForSpace(identitydomain.SpaceCustomer) {
		decision := Evaluate(customerSession(role), identitydomain.SpaceCustomer, nil)
		assert.True(t, decision.Allowed, "role %s", role)
	}

	decision := Evaluate(customerSession(identitydomain.RoleAdmin), identitydomain.SpaceCustomer,
		[]identitydomain.Role{identitydomain.RoleOwner, identitydomain.RoleAdmin})
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Redirect)
}
