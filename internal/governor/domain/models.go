// Package domain contains persistence models and the service contract for
// the usage governor.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ModuleConfig is the per-tenant configuration row for one meterable
// feature module. Ceilings are optional; a nil ceiling means unlimited on
// that axis. Monetary values are integer cents.
type ModuleConfig struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	OrgID       snowflake.ID      `gorm:"column:org_id;not null;uniqueIndex:ux_module_configs_org_key,priority:1"`
	ModuleKey   string            `gorm:"column:module_key;type:text;not null;uniqueIndex:ux_module_configs_org_key,priority:2"`
	// No default tag: gorm would omit a false value on insert and the
	// column default would flip the module back to enabled. The schema
	// default lives in the migration only.
	Enabled     bool              `gorm:"not null"`
	UsageLimit  *int64            `gorm:"column:usage_limit"`
	BudgetLimit *int64            `gorm:"column:budget_limit"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ModuleConfig) TableName() string { return "module_configs" }

// OwnerOrgID implements tenantscope.Owned.
func (m *ModuleConfig) OwnerOrgID() snowflake.ID { return m.OrgID }

// SetOwnerOrgID implements tenantscope.OrgAssignable.
func (m *ModuleConfig) SetOwnerOrgID(orgID snowflake.ID) { m.OrgID = orgID }

// OrganizationBudget is the single budget row per tenant. CurrentSpend is
// mutated only inside the governor's atomic usage-recording transaction;
// period-boundary resets happen outside this core.
type OrganizationBudget struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrgID          snowflake.ID `gorm:"column:org_id;not null;uniqueIndex"`
	MonthlyLimit   int64        `gorm:"column:monthly_limit;not null"`
	CurrentSpend   int64        `gorm:"column:current_spend;not null;default:0"`
	AlertThreshold int64        `gorm:"column:alert_threshold;not null;default:80"`
	AutoDisable    bool         `gorm:"column:auto_disable;not null;default:false"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrganizationBudget) TableName() string { return "org_budgets" }

// OwnerOrgID implements tenantscope.Owned.
func (b *OrganizationBudget) OwnerOrgID() snowflake.ID { return b.OrgID }

// UsageRecord is the append-only fact written once per successful grant.
// Records are never mutated or deleted by this core.
type UsageRecord struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	OrgID      snowflake.ID      `gorm:"column:org_id;not null;index:ix_usage_records_org_module,priority:1"`
	ModuleKey  string            `gorm:"column:module_key;type:text;not null;index:ix_usage_records_org_module,priority:2"`
	Amount     int64             `gorm:"not null"`
	Cost       int64             `gorm:"not null"`
	RecordedAt time.Time         `gorm:"column:recorded_at;not null;index"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// OwnerOrgID implements tenantscope.Owned.
func (r *UsageRecord) OwnerOrgID() snowflake.ID { return r.OrgID }

// SetOwnerOrgID implements tenantscope.OrgAssignable.
func (r *UsageRecord) SetOwnerOrgID(orgID snowflake.ID) { r.OrgID = orgID }

// PeriodStart returns the start of the billing period containing t: the
// first instant of its UTC calendar month.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
