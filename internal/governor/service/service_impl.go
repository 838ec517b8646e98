package service

import (
	"context"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/nubera-hq/nubera/internal/audit/domain"
	"github.com/nubera-hq/nubera/internal/clock"
	"github.com/nubera-hq/nubera/internal/governor/breaker"
	governordomain "github.com/nubera-hq/nubera/internal/governor/domain"
	"github.com/nubera-hq/nubera/internal/governor/repository"
	obsmetrics "github.com/nubera-hq/nubera/internal/observability/metrics"
	"github.com/nubera-hq/nubera/internal/tenantscope"
	"github.com/nubera-hq/nubera/pkg/rls"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Breaker *breaker.Breaker
	Repo    repository.Repository
	Audit   auditdomain.Service `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	breaker *breaker.Breaker
	repo    repository.Repository
	audit   auditdomain.Service
	metrics *obsmetrics.Metrics

	// One mutex per organization so concurrent requests against the same
	// budget serialize even on databases without row locks.
	orgLocks sync.Map
}

func NewService(p Params) governordomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("governor.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		breaker: p.Breaker,
		repo:    p.Repo,
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

func (s *Service) RequestUsage(ctx context.Context, input governordomain.RequestUsageInput) (*governordomain.GrantResult, error) {
	input.ModuleKey = strings.TrimSpace(input.ModuleKey)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	key := breaker.Key(input.OrgID, input.ModuleKey)
	allowed, state, err := s.breaker.Allow(ctx, key)
	if err != nil {
		// Breaker state is advisory; the budget transaction below is the
		// actual safety boundary.
		s.log.Warn("breaker store unavailable, proceeding", zap.Error(err))
		allowed = true
	}
	if !allowed {
		recoverAt := state.RecoverAt
		res := &governordomain.GrantResult{
			Allowed:   false,
			Reason:    governordomain.ReasonTemporarilyDisabled,
			RecoverAt: &recoverAt,
		}
		s.recordDenial(ctx, input, res)
		return res, governordomain.ErrTemporarilyDisabled
	}

	lock := s.orgLock(input.OrgID)
	lock.Lock()
	defer lock.Unlock()

	var (
		res     *governordomain.GrantResult
		denyErr error
	)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if isPostgres(tx) {
			if err := rls.WithTenant(tx, int64(input.OrgID)); err != nil {
				return err
			}
		}

		scope, err := tenantscope.OrgPredicate(input.OrgID)
		if err != nil {
			return err
		}

		config, err := s.repo.ModuleConfig(ctx, tx, scope, input.ModuleKey)
		if err != nil {
			return err
		}
		if config == nil {
			res = &governordomain.GrantResult{Allowed: false, Reason: governordomain.ReasonModuleNotFound}
			denyErr = governordomain.ErrModuleNotFound
			return nil
		}
		if !config.Enabled {
			res = &governordomain.GrantResult{Allowed: false, Reason: governordomain.ReasonModuleDisabled}
			denyErr = governordomain.ErrModuleDisabled
			return nil
		}

		budget, err := s.repo.BudgetForUpdate(ctx, tx, scope)
		if err != nil {
			return err
		}
		if budget == nil {
			res = &governordomain.GrantResult{Allowed: false, Reason: governordomain.ReasonBudgetNotConfigured}
			denyErr = governordomain.ErrBudgetNotConfigured
			return nil
		}

		now := s.clock.Now()
		usage, spend, err := s.repo.PeriodTotals(ctx, tx, scope, input.ModuleKey, governordomain.PeriodStart(now))
		if err != nil {
			return err
		}

		figures := governordomain.GrantResult{
			ModuleUsage:     usage,
			UsageLimit:      config.UsageLimit,
			ModuleSpend:     spend,
			BudgetLimit:     config.BudgetLimit,
			OrgSpend:        budget.CurrentSpend,
			OrgLimit:        budget.MonthlyLimit,
			RemainingBudget: budget.MonthlyLimit - budget.CurrentSpend,
			Utilization:     utilization(budget.CurrentSpend, budget.MonthlyLimit),
		}

		if config.UsageLimit != nil && usage+input.Amount > *config.UsageLimit {
			figures.Reason = governordomain.ReasonUsageLimitExceeded
			res = &figures
			denyErr = governordomain.ErrUsageLimitExceeded
			return nil
		}
		if config.BudgetLimit != nil && spend+input.Cost > *config.BudgetLimit {
			figures.Reason = governordomain.ReasonModuleBudgetExceeded
			res = &figures
			denyErr = governordomain.ErrModuleBudgetExceeded
			return nil
		}
		if budget.CurrentSpend+input.Cost > budget.MonthlyLimit {
			figures.Reason = governordomain.ReasonOrgBudgetExceeded
			if budget.AutoDisable {
				if err := s.repo.DisableModule(ctx, tx, scope, input.ModuleKey, now); err != nil {
					return err
				}
				figures.ModuleDisabled = true
			}
			res = &figures
			denyErr = governordomain.ErrOrgBudgetExceeded
			return nil
		}

		record := &governordomain.UsageRecord{
			ID:         s.genID.Generate(),
			OrgID:      input.OrgID,
			ModuleKey:  input.ModuleKey,
			Amount:     input.Amount,
			Cost:       input.Cost,
			RecordedAt: now,
			Metadata:   datatypes.JSONMap(input.Metadata),
		}
		if err := tenantscope.AssertOrg(input.OrgID, record); err != nil {
			return err
		}
		if err := s.repo.InsertUsage(ctx, tx, record); err != nil {
			return err
		}

		newSpend := budget.CurrentSpend + input.Cost
		if err := s.repo.UpdateSpend(ctx, tx, input.OrgID, budget.CurrentSpend, newSpend, now); err != nil {
			return err
		}

		res = &governordomain.GrantResult{
			Allowed:         true,
			Reason:          governordomain.ReasonGranted,
			ModuleUsage:     usage + input.Amount,
			UsageLimit:      config.UsageLimit,
			ModuleSpend:     spend + input.Cost,
			BudgetLimit:     config.BudgetLimit,
			OrgSpend:        newSpend,
			OrgLimit:        budget.MonthlyLimit,
			RemainingBudget: budget.MonthlyLimit - newSpend,
			Utilization:     utilization(newSpend, budget.MonthlyLimit),
			AlertTriggered:  crossedAlert(budget, newSpend),
		}
		return nil
	})

	if txErr != nil {
		s.log.Error("usage transaction failed",
			zap.String("org_id", input.OrgID.String()),
			zap.String("module_key", input.ModuleKey),
			zap.Error(txErr),
		)
		if _, err := s.breaker.RecordFailure(ctx, key); err != nil {
			s.log.Warn("failed to record breaker failure", zap.Error(err))
		}
		res = &governordomain.GrantResult{Allowed: false, Reason: governordomain.ReasonDeniedForSecurity}
		s.auditUsage(ctx, input, auditdomain.ActionUsageError, res, map[string]any{"error": txErr.Error()})
		s.metrics.RecordUsageDenied(ctx, input.ModuleKey, string(res.Reason))
		return res, governordomain.ErrDeniedForSecurity
	}

	if denyErr != nil {
		if governordomain.LimitExceeded(denyErr) {
			state, err := s.breaker.Trip(ctx, key)
			if err != nil {
				s.log.Warn("failed to trip breaker", zap.Error(err))
			} else {
				recoverAt := state.RecoverAt
				res.RecoverAt = &recoverAt
				s.metrics.RecordBreakerTrip(ctx, input.ModuleKey)
			}
		}
		s.recordDenial(ctx, input, res)
		return res, denyErr
	}

	if err := s.breaker.Reset(ctx, key); err != nil {
		s.log.Warn("failed to reset breaker", zap.Error(err))
	}
	s.auditUsage(ctx, input, auditdomain.ActionUsageGranted, res, nil)
	s.metrics.RecordUsageGranted(ctx, input.ModuleKey)
	return res, nil
}

func (s *Service) CheckAvailability(ctx context.Context, orgID snowflake.ID, moduleKey string) (*governordomain.AvailabilityResult, error) {
	moduleKey = strings.TrimSpace(moduleKey)
	if orgID == 0 {
		return nil, governordomain.ErrInvalidOrganization
	}
	if moduleKey == "" {
		return nil, governordomain.ErrInvalidModuleKey
	}

	state, err := s.breaker.Peek(ctx, breaker.Key(orgID, moduleKey))
	if err != nil {
		s.log.Warn("breaker store unavailable, proceeding", zap.Error(err))
	} else if state.Open {
		return &governordomain.AvailabilityResult{
			Available: false,
			Reason:    governordomain.ReasonTemporarilyDisabled,
		}, nil
	}

	scope, err := tenantscope.OrgPredicate(orgID)
	if err != nil {
		return nil, err
	}

	config, err := s.repo.ModuleConfig(ctx, s.db, scope, moduleKey)
	if err != nil {
		return nil, err
	}
	if config == nil {
		return &governordomain.AvailabilityResult{Available: false, Reason: governordomain.ReasonModuleNotFound}, nil
	}
	if !config.Enabled {
		return &governordomain.AvailabilityResult{Available: false, Reason: governordomain.ReasonModuleDisabled}, nil
	}

	budget, err := s.repo.Budget(ctx, s.db, scope)
	if err != nil {
		return nil, err
	}
	if budget == nil {
		return &governordomain.AvailabilityResult{Available: false, Reason: governordomain.ReasonBudgetNotConfigured}, nil
	}

	usage, spend, err := s.repo.PeriodTotals(ctx, s.db, scope, moduleKey, governordomain.PeriodStart(s.clock.Now()))
	if err != nil {
		return nil, err
	}

	result := &governordomain.AvailabilityResult{
		Available:       true,
		Reason:          governordomain.ReasonGranted,
		ModuleUsage:     usage,
		UsageLimit:      config.UsageLimit,
		ModuleSpend:     spend,
		BudgetLimit:     config.BudgetLimit,
		OrgSpend:        budget.CurrentSpend,
		OrgLimit:        budget.MonthlyLimit,
		RemainingBudget: budget.MonthlyLimit - budget.CurrentSpend,
	}

	switch {
	case config.UsageLimit != nil && usage >= *config.UsageLimit:
		result.Available = false
		result.Reason = governordomain.ReasonUsageLimitExceeded
	case config.BudgetLimit != nil && spend >= *config.BudgetLimit:
		result.Available = false
		result.Reason = governordomain.ReasonModuleBudgetExceeded
	case budget.CurrentSpend >= budget.MonthlyLimit:
		result.Available = false
		result.Reason = governordomain.ReasonOrgBudgetExceeded
	}
	return result, nil
}

func (s *Service) CircuitStatus(ctx context.Context) (map[string]breaker.State, error) {
	return s.breaker.Snapshot(ctx)
}

func (s *Service) orgLock(orgID snowflake.ID) *sync.Mutex {
	lock, _ := s.orgLocks.LoadOrStore(orgID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func (s *Service) recordDenial(ctx context.Context, input governordomain.RequestUsageInput, res *governordomain.GrantResult) {
	s.auditUsage(ctx, input, auditdomain.ActionUsageDenied, res, nil)
	s.metrics.RecordUsageDenied(ctx, input.ModuleKey, string(res.Reason))
}

func (s *Service) auditUsage(ctx context.Context, input governordomain.RequestUsageInput, action string, res *governordomain.GrantResult, extra map[string]any) {
	if s.audit == nil {
		return
	}
	metadata := map[string]any{
		"amount": input.Amount,
		"cost":   input.Cost,
	}
	for key, value := range extra {
		metadata[key] = value
	}

	decision := "denied"
	if res.Allowed {
		decision = "granted"
	}
	event := auditdomain.Event{
		OrgID:      input.OrgID,
		Action:     action,
		TargetType: "module",
		TargetID:   input.ModuleKey,
		Decision:   decision,
		Reason:     string(res.Reason),
		Metadata:   metadata,
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.log.Warn("failed to audit usage decision", zap.String("action", action), zap.Error(err))
	}
}

func validateInput(input governordomain.RequestUsageInput) error {
	if input.OrgID == 0 {
		return governordomain.ErrInvalidOrganization
	}
	if input.ModuleKey == "" {
		return governordomain.ErrInvalidModuleKey
	}
	if input.Amount <= 0 {
		return governordomain.ErrInvalidAmount
	}
	if input.Cost < 0 {
		return governordomain.ErrInvalidCost
	}
	return nil
}

func utilization(spend, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(spend) / float64(limit) * 100
}

func crossedAlert(budget *governordomain.OrganizationBudget, newSpend int64) bool {
	if budget.AlertThreshold <= 0 || budget.MonthlyLimit <= 0 {
		return false
	}
	mark := budget.MonthlyLimit * budget.AlertThreshold
	return newSpend*100 >= mark && budget.CurrentSpend*100 < mark
}

func isPostgres(tx *gorm.DB) bool {
	return tx != nil && tx.Dialector != nil && strings.EqualFold(tx.Dialector.Name(), "postgres")
}
