package service

import (
	"context"
	"errors"
	"strings"

	"github.com/nubera-hq/nubera/internal/authorization"
	identitydomain "github.com/nubera-hq/nubera/internal/identity/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Source identitydomain.ProfileSource
	Authz  authorization.Service `optional:"true"`
}

type Service struct {
	log    *zap.Logger
	source identitydomain.ProfileSource
	authz  authorization.Service
}

func NewService(p Params) identitydomain.Service {
	return &Service{
		log:    p.Log.Named("identity.service"),
		source: p.Source,
		authz:  p.Authz,
	}
}

// Resolve maps request identity markers to a Session. Every ambiguous or
// failing path returns no session.
func (s *Service) Resolve(ctx context.Context, identity identitydomain.RequestIdentity) (*identitydomain.Session, error) {
	space, token, err := resolveMarker(identity)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	profile, err := s.source.Lookup(ctx, space, token)
	if err != nil {
		if errors.Is(err, identitydomain.ErrUnknownPrincipal) {
			return nil, nil
		}
		s.log.Warn("profile source lookup failed",
			zap.String("space", string(space)),
			zap.Error(err),
		)
		return nil, identitydomain.ErrProfileUnavailable
	}
	if profile == nil || profile.UserID == 0 {
		return nil, nil
	}

	session := &identitydomain.Session{
		UserID:      profile.UserID,
		OrgID:       profile.OrgID,
		Space:       space,
		Role:        profile.Role,
		Permissions: profile.Permissions,
		Owner:       profile.Owner,
		Privileged:  profile.Privileged,
	}

	if s.authz != nil && identitydomain.RoleValidForSpace(profile.Role, space) {
		expanded, err := s.authz.PermissionsForRole(space, profile.Role)
		if err != nil {
			s.log.Warn("permission expansion failed",
				zap.String("role", string(profile.Role)),
				zap.Error(err),
			)
		} else {
			session.Permissions = mergePermissions(profile.Permissions, expanded)
		}
	}

	return session, nil
}

// resolveMarker picks the single space marker present on the request.
// Zero markers is anonymous; more than one cannot be disambiguated and
// fails closed.
func resolveMarker(identity identitydomain.RequestIdentity) (identitydomain.Space, string, error) {
	type marker struct {
		space identitydomain.Space
		token string
	}

	var present []marker
	if token := strings.TrimSpace(identity.SessionToken); token != "" {
		present = append(present, marker{identitydomain.SpaceCustomer, token})
	}
	if token := strings.TrimSpace(identity.OperatorToken); token != "" {
		present = append(present, marker{identitydomain.SpaceOperator, token})
	}
	if token := strings.TrimSpace(identity.AccountingToken); token != "" {
		present = append(present, marker{identitydomain.SpaceAccounting, token})
	}

	switch len(present) {
	case 0:
		return "", "", nil
	case 1:
		return present[0].space, present[0].token, nil
	default:
		return "", "", identitydomain.ErrAmbiguousIdentity
	}
}

func mergePermissions(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	merged := make([]string, 0, len(base)+len(extra))
	for _, set := range [][]string{base, extra} {
		for _, p := range set {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			merged = append(merged, p)
		}
	}
	return merged
}
