package tenantscope

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/nubera-hq/nubera/internal/identity/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ownedEntity struct {
	orgID snowflake.ID
}

func (e *ownedEntity) OwnerOrgID() snowflake.ID       { return e.orgID }
func (e *ownedEntity) SetOwnerOrgID(org snowflake.ID) { e.orgID = org }

func session(space identitydomain.Space, orgID snowflake.ID) *identitydomain.Session {
	return &identitydomain.Session{
		UserID: 1,
		OrgID:  orgID,
		Space:  space,
		Role:   identitydomain.RoleAdmin,
	}
}

func TestScopePredicate(t *testing.T) {
	scope, err := ScopePredicate(session(identitydomain.SpaceCustomer, 42))
	require.NoError(t, err)
	assert.Equal(t, Predicate{OrgColumn: snowflake.ID(42)}, scope)

	_, err = ScopePredicate(nil)
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = ScopePredicate(session(identitydomain.SpaceCustomer, 0))
	assert.ErrorIs(t, err, ErrNoOrg)
}

func TestAssertOwned(t *testing.T) {
	sess := session(identitydomain.SpaceCustomer, 42)

	assert.NoError(t, AssertOwned(sess, &ownedEntity{orgID: 42}))
	assert.ErrorIs(t, AssertOwned(sess, &ownedEntity{orgID: 7}), ErrCrossTenantAccess)
	assert.ErrorIs(t, AssertOwned(sess, &ownedEntity{}), ErrEntityMissingOrg)
	assert.ErrorIs(t, AssertOwned(sess, nil), ErrNilEntity)
	assert.ErrorIs(t, AssertOwned(nil, &ownedEntity{orgID: 42}), ErrNoSession)
}

func TestStampOwnership(t *testing.T) {
	sess := session(identitydomain.SpaceCustomer, 42)

	entity := &ownedEntity{}
	require.NoError(t, StampOwnership(sess, entity))
	assert.Equal(t, snowflake.ID(42), entity.OwnerOrgID())

	// Stamping again is a no-op.
	require.NoError(t, StampOwnership(sess, entity))
	assert.Equal(t, snowflake.ID(42), entity.OwnerOrgID())

	conflicting := &ownedEntity{orgID: 7}
	assert.ErrorIs(t, StampOwnership(sess, conflicting), ErrOrgMismatch)
	assert.Equal(t, snowflake.ID(7), conflicting.OwnerOrgID())
}

func TestMergePredicateTenantWins(t *testing.T) {
	sess := session(identitydomain.SpaceCustomer, 42)

	merged, err := MergePredicate(sess, Predicate{
		"module_key": "reports",
		OrgColumn:    snowflake.ID(7),
	})
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(42), merged[OrgColumn])
	assert.Equal(t, "reports", merged["module_key"])
}

func TestCrossTenantPredicate(t *testing.T) {
	_, err := CrossTenantPredicate(session(identitydomain.SpaceCustomer, 42))
	assert.ErrorIs(t, err, ErrCrossTenantDenied)

	scope, err := CrossTenantPredicate(session(identitydomain.SpaceOperator, 42))
	require.NoError(t, err)
	assert.Empty(t, scope)

	scope, err = CrossTenantPredicate(session(identitydomain.SpaceAccounting, 42))
	require.NoError(t, err)
	assert.Empty(t, scope)
}
