// Package tenantscope is the single chokepoint between sessions and
// tenant-partitioned persistence. Every read predicate and write payload
// elsewhere in the system is built or validated here; there is no second
// path around it.
package tenantscope

import (
	"errors"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/nubera-hq/nubera/internal/identity/domain"
	"gorm.io/gorm"
)

// OrgColumn is the tenant foreign-key column on every scoped table.
const OrgColumn = "org_id"

var (
	ErrNoSession         = errors.New("no_session")
	ErrNoOrg             = errors.New("no_org")
	ErrNilEntity         = errors.New("nil_entity")
	ErrEntityMissingOrg  = errors.New("entity_missing_org")
	ErrCrossTenantAccess = errors.New("cross_tenant_access")
	ErrOrgMismatch       = errors.New("org_mismatch")
	ErrCrossTenantDenied = errors.New("cross_tenant_denied")
)

// Predicate is a column -> value query filter.
type Predicate map[string]any

// Owned is implemented by every tenant-partitioned entity.
type Owned interface {
	OwnerOrgID() snowflake.ID
}

// OrgAssignable is implemented by write payloads whose tenant id the
// guard stamps before persistence.
type OrgAssignable interface {
	Owned
	SetOwnerOrgID(snowflake.ID)
}

// ScopePredicate derives the tenant filter for the session. Every
// tenant-scoped read starts from this predicate.
func ScopePredicate(session *identitydomain.Session) (Predicate, error) {
	if session == nil {
		return nil, ErrNoSession
	}
	return OrgPredicate(session.OrgID)
}

// OrgPredicate builds the tenant filter for a known org id. The usage
// governor, which receives the tenant id directly, routes its persistence
// access through this.
func OrgPredicate(orgID snowflake.ID) (Predicate, error) {
	if orgID == 0 {
		return nil, ErrNoOrg
	}
	return Predicate{OrgColumn: orgID}, nil
}

// AssertOwned verifies the entity belongs to the session's tenant. A
// mismatch is a programming-contract violation and is always surfaced,
// never silently corrected.
func AssertOwned(session *identitydomain.Session, entity Owned) error {
	if session == nil {
		return ErrNoSession
	}
	if session.OrgID == 0 {
		return ErrNoOrg
	}
	return AssertOrg(session.OrgID, entity)
}

// AssertOrg is the org-id form of AssertOwned.
func AssertOrg(orgID snowflake.ID, entity Owned) error {
	if orgID == 0 {
		return ErrNoOrg
	}
	if entity == nil {
		return ErrNilEntity
	}
	if entity.OwnerOrgID() == 0 {
		return ErrEntityMissingOrg
	}
	if entity.OwnerOrgID() != orgID {
		return ErrCrossTenantAccess
	}
	return nil
}

// ValidateWriteData rejects payloads that carry an explicit tenant id
// disagreeing with the session's. An absent tenant id is permitted; the
// caller stamps it via StampOwnership.
func ValidateWriteData(session *identitydomain.Session, data Owned) error {
	if session == nil {
		return ErrNoSession
	}
	if session.OrgID == 0 {
		return ErrNoOrg
	}
	if data == nil {
		return ErrNilEntity
	}
	if data.OwnerOrgID() != 0 && data.OwnerOrgID() != session.OrgID {
		return ErrOrgMismatch
	}
	return nil
}

// StampOwnership sets the payload's tenant id to the session's. Stamping
// data that already carries the correct id is a no-op; a conflicting id
// fails with ErrOrgMismatch.
func StampOwnership(session *identitydomain.Session, data OrgAssignable) error {
	if err := ValidateWriteData(session, data); err != nil {
		return err
	}
	data.SetOwnerOrgID(session.OrgID)
	return nil
}

// MergePredicate combines caller-supplied filter conditions with the
// session's tenant filter. The tenant id always wins, so a cross-tenant
// predicate cannot be smuggled in through extra.
func MergePredicate(session *identitydomain.Session, extra Predicate) (Predicate, error) {
	scope, err := ScopePredicate(session)
	if err != nil {
		return nil, err
	}
	merged := make(Predicate, len(extra)+1)
	for column, value := range extra {
		merged[column] = value
	}
	for column, value := range scope {
		merged[column] = value
	}
	return merged, nil
}

// CrossTenantPredicate grants the explicit multi-tenant read mode: an
// unscoped predicate, available only to spaces allowed to aggregate
// across tenants. Scoping is never merely omitted.
func CrossTenantPredicate(session *identitydomain.Session) (Predicate, error) {
	if session == nil {
		return nil, ErrNoSession
	}
	if !session.Space.AllowsCrossTenantRead() {
		return nil, ErrCrossTenantDenied
	}
	return Predicate{}, nil
}

// Scope returns a gorm scope applying the session's tenant filter.
func Scope(session *identitydomain.Session) (func(*gorm.DB) *gorm.DB, error) {
	predicate, err := ScopePredicate(session)
	if err != nil {
		return nil, err
	}
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(map[string]any(predicate))
	}, nil
}
