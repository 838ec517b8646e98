package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Principal is a persisted identity record the default profile source
// resolves tokens against. Deployments that front an external IdP replace
// the ProfileSource implementation instead of this table.
type Principal struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	TokenHash   string            `gorm:"column:token_hash;type:text;not null;uniqueIndex"`
	Space       Space             `gorm:"type:text;not null"`
	UserID      snowflake.ID      `gorm:"column:user_id;not null"`
	OrgID       snowflake.ID      `gorm:"column:org_id"`
	Role        Role              `gorm:"type:text;not null"`
	Permissions datatypes.JSON    `gorm:"type:jsonb"`
	Owner       bool              `gorm:"not null;default:false"`
	Privileged  bool              `gorm:"not null;default:false"`
	ExpiresAt   *time.Time        `gorm:"column:expires_at"`
	RevokedAt   *time.Time        `gorm:"column:revoked_at"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Principal) TableName() string { return "identity_principals" }
