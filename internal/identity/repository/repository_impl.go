package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nubera-hq/nubera/internal/clock"
	identitydomain "github.com/nubera-hq/nubera/internal/identity/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProfileSource backed by the identity_principals table.
type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type gormProfileSource struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func Provide(p Params) identitydomain.ProfileSource {
	return &gormProfileSource{
		db:    p.DB,
		log:   p.Log.Named("identity.repository"),
		clock: p.Clock,
	}
}

func (r *gormProfileSource) Lookup(ctx context.Context, space identitydomain.Space, token string) (*identitydomain.Profile, error) {
	var principal identitydomain.Principal
	err := r.db.WithContext(ctx).
		Where("token_hash = ? AND space = ?", identitydomain.HashToken(token), space).
		First(&principal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, identitydomain.ErrUnknownPrincipal
		}
		return nil, err
	}

	now := r.clock.Now()
	if principal.RevokedAt != nil {
		return nil, identitydomain.ErrUnknownPrincipal
	}
	if principal.ExpiresAt != nil && !principal.ExpiresAt.After(now) {
		return nil, identitydomain.ErrUnknownPrincipal
	}

	var permissions []string
	if len(principal.Permissions) > 0 {
		if err := json.Unmarshal(principal.Permissions, &permissions); err != nil {
			r.log.Warn("malformed principal permissions",
				zap.String("principal_id", principal.ID.String()),
				zap.Error(err),
			)
			permissions = nil
		}
	}

	return &identitydomain.Profile{
		UserID:      principal.UserID,
		OrgID:       principal.OrgID,
		Role:        principal.Role,
		Permissions: permissions,
		Owner:       principal.Owner,
		Privileged:  principal.Privileged,
	}, nil
}
