package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nubera-hq/nubera/internal/governor/breaker"
)

type RequestUsageInput struct {
	OrgID     snowflake.ID   `json:"org_id"`
	ModuleKey string         `json:"module_key"`
	Amount    int64          `json:"amount"`
	Cost      int64          `json:"cost"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type Reason string

const (
	ReasonGranted              Reason = "granted"
	ReasonModuleNotFound       Reason = "module_not_found"
	ReasonModuleDisabled       Reason = "module_disabled"
	ReasonBudgetNotConfigured  Reason = "budget_not_configured"
	ReasonUsageLimitExceeded   Reason = "usage_limit_exceeded"
	ReasonModuleBudgetExceeded Reason = "module_budget_exceeded"
	ReasonOrgBudgetExceeded    Reason = "org_budget_exceeded"
	ReasonTemporarilyDisabled  Reason = "temporarily_disabled"
	ReasonDeniedForSecurity    Reason = "denied_for_security"
)

// GrantResult reports the outcome of a usage request with the figures the
// caller needs either way: on a grant, the updated totals; on a denial,
// the current value against the limit that stopped it.
type GrantResult struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`

	ModuleUsage int64  `json:"module_usage"`
	UsageLimit  *int64 `json:"usage_limit,omitempty"`

	ModuleSpend int64  `json:"module_spend"`
	BudgetLimit *int64 `json:"budget_limit,omitempty"`

	OrgSpend        int64   `json:"org_spend"`
	OrgLimit        int64   `json:"org_limit"`
	RemainingBudget int64   `json:"remaining_budget"`
	Utilization     float64 `json:"utilization"`

	AlertTriggered bool       `json:"alert_triggered,omitempty"`
	ModuleDisabled bool       `json:"module_disabled,omitempty"`
	RecoverAt      *time.Time `json:"recover_at,omitempty"`
}

// AvailabilityResult is the read-only variant: whether a request would be
// allowed right now. Nothing is recorded and the breaker never trips.
type AvailabilityResult struct {
	Available bool   `json:"available"`
	Reason    Reason `json:"reason"`

	ModuleUsage int64  `json:"module_usage"`
	UsageLimit  *int64 `json:"usage_limit,omitempty"`

	ModuleSpend int64  `json:"module_spend"`
	BudgetLimit *int64 `json:"budget_limit,omitempty"`

	OrgSpend        int64 `json:"org_spend"`
	OrgLimit        int64 `json:"org_limit"`
	RemainingBudget int64 `json:"remaining_budget"`
}

type Service interface {
	// RequestUsage atomically gates, records, and accounts one unit of
	// feature usage. Denials return a populated result together with the
	// matching sentinel error.
	RequestUsage(ctx context.Context, input RequestUsageInput) (*GrantResult, error)

	// CheckAvailability reports whether usage would currently be allowed
	// without granting or recording anything.
	CheckAvailability(ctx context.Context, orgID snowflake.ID, moduleKey string) (*AvailabilityResult, error)

	// CircuitStatus exposes breaker state for operational introspection.
	CircuitStatus(ctx context.Context) (map[string]breaker.State, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidModuleKey    = errors.New("invalid_module_key")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidCost         = errors.New("invalid_cost")

	ErrModuleNotFound      = errors.New("module_not_found")
	ErrModuleDisabled      = errors.New("module_disabled")
	ErrBudgetNotConfigured = errors.New("budget_not_configured")

	ErrUsageLimitExceeded   = errors.New("usage_limit_exceeded")
	ErrModuleBudgetExceeded = errors.New("module_budget_exceeded")
	ErrOrgBudgetExceeded    = errors.New("org_budget_exceeded")

	ErrTemporarilyDisabled = errors.New("temporarily_disabled")
	ErrDeniedForSecurity   = errors.New("denied_for_security")
)

// LimitExceeded reports whether err is one of the limit denials that trip
// the circuit breaker. Configuration absence never trips it.
func LimitExceeded(err error) bool {
	return errors.Is(err, ErrUsageLimitExceeded) ||
		errors.Is(err, ErrModuleBudgetExceeded) ||
		errors.Is(err, ErrOrgBudgetExceeded)
}
