package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	governordomain "github.com/nubera-hq/nubera/internal/governor/domain"
	"github.com/nubera-hq/nubera/internal/tenantscope"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the governor's persistence access. Every method takes a
// tenantscope predicate built by the scope guard; nothing here queries a
// tenant-scoped table without one.
type Repository interface {
	ModuleConfig(ctx context.Context, tx *gorm.DB, scope tenantscope.Predicate, moduleKey string) (*governordomain.ModuleConfig, error)
	BudgetForUpdate(ctx context.Context, tx *gorm.DB, scope tenantscope.Predicate) (*governordomain.OrganizationBudget, error)
	Budget(ctx context.Context, tx *gorm.DB, scope tenantscope.Predicate) (*governordomain.OrganizationBudget, error)
	PeriodTotals(ctx context.Context, tx *gorm.DB, scope tenantscope.Predicate, moduleKey string, periodStart time.Time) (amount int64, cost int64, err error)
	InsertUsage(ctx context.Context, tx *gorm.DB, record *governordomain.UsageRecord) error
	UpdateSpend(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, fromSpend, toSpend int64, now time.Time) error
	DisableModule(ctx context.Context, tx *gorm.DB, scope tenantscope.Predicate, moduleKey string, now time.Time) error
}

// ErrSpendConflict means the conditional spend update matched no row: the
// budget row changed underneath us despite the lock. The transaction must
// fail rather than over-grant.
var ErrSpendConflict = errors.New("spend_conflict")

type repository struct{}

func Provide() Repository {
	return &repository{}
}

func (r *repository) ModuleConfig(ctx context.Context, tx *gorm.DB, scope tenantscope.Predicate, moduleKey string) (*governordomain.ModuleConfig, error) {
	var config governordomain.ModuleConfig
	err := tx.WithContext(ctx).
		Where(map[string]any(scope)).
		Where("module_key = ?", moduleKey).
		First(&config).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &config, nil
}

// BudgetForUpdate loads the budget row under a row-level write lock. The
// lock is acquired before any aggregate read so concurrent requests for
// the same organization serialize. sqlite has no FOR UPDATE; there the
// governor's per-org mutex carries the guarantee alone.
func (r *repository) BudgetForUpdate(ctx context.Context, tx *gorm.DB, scope tenantscope.Predicate) (*governordomain.OrganizationBudget, error) {
	stmt := tx.WithContext(ctx).Where(map[string]any(scope))
	if !isSQLite(tx) {
		stmt = stmt.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}

	var budget governordomain.OrganizationBudget
	if err := stmt.First(&budget).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &budget, nil
}

func (r *repository) Budget(ctx context.Context, tx *gorm.DB, scope tenantscope.Predicate) (*governordomain.OrganizationBudget, error) {
	var budget governordomain.OrganizationBudget
	err := tx.WithContext(ctx).
		Where(map[string]any(scope)).
		First(&budget).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &budget, nil
}

func (r *repository) PeriodTotals(ctx context.Context, tx *gorm.DB, scope tenantscope.Predicate, moduleKey string, periodStart time.Time) (int64, int64, error) {
	var totals struct {
		Amount int64 `gorm:"column:amount"`
		Cost   int64 `gorm:"column:cost"`
	}
	err := tx.WithContext(ctx).
		Model(&governordomain.UsageRecord{}).
		Select("COALESCE(SUM(amount), 0) AS amount, COALESCE(SUM(cost), 0) AS cost").
		Where(map[string]any(scope)).
		Where("module_key = ? AND recorded_at >= ?", moduleKey, periodStart).
		Scan(&totals).Error
	if err != nil {
		return 0, 0, err
	}
	return totals.Amount, totals.Cost, nil
}

func (r *repository) InsertUsage(ctx context.Context, tx *gorm.DB, record *governordomain.UsageRecord) error {
	return tx.WithContext(ctx).Create(record).Error
}

// UpdateSpend writes the new running spend only if the row still holds the
// value read earlier in the transaction.
func (r *repository) UpdateSpend(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, fromSpend, toSpend int64, now time.Time) error {
	result := tx.WithContext(ctx).
		Model(&governordomain.OrganizationBudget{}).
		Where("org_id = ? AND current_spend = ?", orgID, fromSpend).
		Updates(map[string]any{
			"current_spend": toSpend,
			"updated_at":    now.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSpendConflict
	}
	return nil
}

func (r *repository) DisableModule(ctx context.Context, tx *gorm.DB, scope tenantscope.Predicate, moduleKey string, now time.Time) error {
	return tx.WithContext(ctx).
		Model(&governordomain.ModuleConfig{}).
		Where(map[string]any(scope)).
		Where("module_key = ?", moduleKey).
		Updates(map[string]any{
			"enabled":    false,
			"updated_at": now.UTC(),
		}).Error
}

func isSQLite(tx *gorm.DB) bool {
	return tx != nil && tx.Dialector != nil && strings.EqualFold(tx.Dialector.Name(), "sqlite")
}
