// Package authorization expands roles into permission sets through casbin.
// The session resolver uses it to populate Session.Permissions; route-level
// space/role gating lives in internal/policy and does not go through here.
package authorization

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	identitydomain "github.com/nubera-hq/nubera/internal/identity/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectUsage        = "usage"
	ObjectModuleConfig = "module_config"
	ObjectBudget       = "budget"
	ObjectCircuit      = "circuit"
	ObjectAuditLog     = "audit_log"
)

const (
	ActionUsageRequest = "usage.request"
	ActionUsageView    = "usage.view"

	ActionModuleConfigView   = "module_config.view"
	ActionModuleConfigManage = "module_config.manage"

	ActionBudgetView   = "budget.view"
	ActionBudgetManage = "budget.manage"

	ActionCircuitView = "circuit.view"

	ActionAuditLogView = "audit_log.view"
)

// objectActions enumerates every grantable permission, used to expand a
// role into its full permission set.
var objectActions = map[string][]string{
	ObjectUsage:        {ActionUsageRequest, ActionUsageView},
	ObjectModuleConfig: {ActionModuleConfigView, ActionModuleConfigManage},
	ObjectBudget:       {ActionBudgetView, ActionBudgetManage},
	ObjectCircuit:      {ActionCircuitView},
	ObjectAuditLog:     {ActionAuditLogView},
}

var (
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

type Service interface {
	Enforce(role identitydomain.Role, object, action string) (bool, error)
	PermissionsForRole(space identitydomain.Space, role identitydomain.Role) ([]string, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Enforce(role identitydomain.Role, object, action string) (bool, error) {
	if strings.TrimSpace(string(role)) == "" {
		return false, ErrInvalidRole
	}
	if strings.TrimSpace(object) == "" {
		return false, ErrInvalidObject
	}
	if strings.TrimSpace(action) == "" {
		return false, ErrInvalidAction
	}
	return s.enforcer.Enforce(subject(role), object, action)
}

func (s *ServiceImpl) PermissionsForRole(space identitydomain.Space, role identitydomain.Role) ([]string, error) {
	if !identitydomain.RoleValidForSpace(role, space) {
		return nil, ErrInvalidRole
	}

	var permissions []string
	for object, actions := range objectActions {
		for _, action := range actions {
			allowed, err := s.enforcer.Enforce(subject(role), object, action)
			if err != nil {
				return nil, err
			}
			if allowed {
				permissions = append(permissions, action)
			}
		}
	}
	return permissions, nil
}

func subject(role identitydomain.Role) string {
	return fmt.Sprintf("role:%s", strings.ToLower(string(role)))
}

// seedPolicies installs the default role grants when the policy store is
// empty, so a fresh deployment is usable out of the box.
func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	existing, err := enforcer.GetPolicy()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	policies := [][]string{
		{subject(identitydomain.RoleOwner), ObjectUsage, ActionUsageRequest},
		{subject(identitydomain.RoleOwner), ObjectUsage, ActionUsageView},
		{subject(identitydomain.RoleOwner), ObjectModuleConfig, ActionModuleConfigView},
		{subject(identitydomain.RoleOwner), ObjectModuleConfig, ActionModuleConfigManage},
		{subject(identitydomain.RoleOwner), ObjectBudget, ActionBudgetView},
		{subject(identitydomain.RoleOwner), ObjectBudget, ActionBudgetManage},
		{subject(identitydomain.RoleOwner), ObjectAuditLog, ActionAuditLogView},

		{subject(identitydomain.RoleAdmin), ObjectUsage, ActionUsageRequest},
		{subject(identitydomain.RoleAdmin), ObjectUsage, ActionUsageView},
		{subject(identitydomain.RoleAdmin), ObjectModuleConfig, ActionModuleConfigView},
		{subject(identitydomain.RoleAdmin), ObjectModuleConfig, ActionModuleConfigManage},
		{subject(identitydomain.RoleAdmin), ObjectBudget, ActionBudgetView},
		{subject(identitydomain.RoleAdmin), ObjectAuditLog, ActionAuditLogView},

		{subject(identitydomain.RoleMember), ObjectUsage, ActionUsageRequest},
		{subject(identitydomain.RoleMember), ObjectUsage, ActionUsageView},

		{subject(identitydomain.RoleViewer), ObjectUsage, ActionUsageView},

		{subject(identitydomain.RoleOperatorAdmin), ObjectCircuit, ActionCircuitView},
		{subject(identitydomain.RoleOperatorAdmin), ObjectAuditLog, ActionAuditLogView},
		{subject(identitydomain.RoleOperatorAdmin), ObjectModuleConfig, ActionModuleConfigView},
		{subject(identitydomain.RoleOperatorAdmin), ObjectModuleConfig, ActionModuleConfigManage},
		{subject(identitydomain.RoleOperatorAdmin), ObjectBudget, ActionBudgetView},
		{subject(identitydomain.RoleOperatorAdmin), ObjectBudget, ActionBudgetManage},

		{subject(identitydomain.RoleSupport), ObjectCircuit, ActionCircuitView},
		{subject(identitydomain.RoleSupport), ObjectModuleConfig, ActionModuleConfigView},
		{subject(identitydomain.RoleSupport), ObjectBudget, ActionBudgetView},

		{subject(identitydomain.RoleAccountant), ObjectBudget, ActionBudgetView},
		{subject(identitydomain.RoleAccountant), ObjectUsage, ActionUsageView},
		{subject(identitydomain.RoleAccountant), ObjectAuditLog, ActionAuditLogView},

		{subject(identitydomain.RoleAuditor), ObjectAuditLog, ActionAuditLogView},
		{subject(identitydomain.RoleAuditor), ObjectUsage, ActionUsageView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}
	return nil
}

// Module wires the casbin enforcer and authorization service.
var Module = fx.Module("authorization.service",
	fx.Provide(NewEnforcer),
	fx.Provide(NewService),
)
