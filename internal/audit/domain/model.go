package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nubera-hq/nubera/internal/tenantscope"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// Actions recorded by the access auditor. Route actions come from the
// space gate, usage actions from the governor.
const (
	ActionRouteAccessGranted = "route.access.granted"
	ActionRouteAccessDenied  = "route.access.denied"
	ActionUsageGranted       = "usage.granted"
	ActionUsageDenied        = "usage.denied"
	ActionUsageError         = "usage.error"
)

// AuditLog is one append-only entry. OrgID is nullable: denials for
// requests with no resolvable session still get recorded.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      *snowflake.ID     `gorm:"column:org_id;index:ix_audit_logs_org_created,priority:1" json:"org_id,omitempty"`
	ActorType  string            `gorm:"column:actor_type;type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id;type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:text;not null;index" json:"action"`
	TargetType string            `gorm:"column:target_type;type:text;not null" json:"target_type"`
	TargetID   *string           `gorm:"column:target_id;type:text" json:"target_id,omitempty"`
	Decision   string            `gorm:"type:text;not null" json:"decision"`
	Reason     *string           `gorm:"type:text" json:"reason,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	IPAddress  *string           `gorm:"column:ip_address;type:text" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"column:user_agent;type:text" json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index:ix_audit_logs_org_created,priority:2" json:"created_at"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// AuditCursor is the keyset position for paginated listing.
type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// ListFilter narrows an audit listing. Scope is always built by the
// tenant scope guard; an empty scope is the guard's explicit
// cross-tenant grant, never an accidental omission.
type ListFilter struct {
	Scope      tenantscope.Predicate
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	Decision   string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}
