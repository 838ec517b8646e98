package service

import (
	"context"
	"errors"
	"testing"

	identitydomain "github.com/nubera-hq/nubera/internal/identity/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSource struct {
	profiles map[string]*identitydomain.Profile
	err      error
}

func (s *stubSource) Lookup(_ context.Context, _ identitydomain.Space, token string) (*identitydomain.Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	profile, ok := s.profiles[token]
	if !ok {
		return nil, identitydomain.ErrUnknownPrincipal
	}
	return profile, nil
}

func newTestService(source *stubSource) identitydomain.Service {
	return NewService(Params{
		Log:    zap.NewNop(),
		Source: source,
	})
}

func TestResolve_NoMarkerIsAnonymous(t *testing.T) {
	svc := newTestService(&stubSource{})

	session, err := svc.Resolve(context.Background(), identitydomain.RequestIdentity{})
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestResolve_MultipleMarkersFailClosed(t *testing.T) {
	svc := newTestService(&stubSource{})

	session, err := svc.Resolve(context.Background(), identitydomain.RequestIdentity{
		SessionToken:  "tok-a",
		OperatorToken: "tok-b",
	})
	assert.ErrorIs(t, err, identitydomain.ErrAmbiguousIdentity)
	assert.Nil(t, session)
}

func TestResolve_UnknownTokenIsAnonymous(t *testing.T) {
	svc := newTestService(&stubSource{profiles: map[string]*identitydomain.Profile{}})

	session, err := svc.Resolve(context.Background(), identitydomain.RequestIdentity{
		SessionToken: "missing",
	})
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestResolve_SourceOutageFailsClosed(t *testing.T) {
	svc := newTestService(&stubSource{err: errors.New("connection refused")})

	session, err := svc.Resolve(context.Background(), identitydomain.RequestIdentity{
		SessionToken: "tok",
	})
	assert.ErrorIs(t, err, identitydomain.ErrProfileUnavailable)
	assert.Nil(t, session)
}

func TestResolve_BuildsSessionFromProfile(t *testing.T) {
	svc := newTestService(&stubSource{profiles: map[string]*identitydomain.Profile{
		"tok": {
			UserID:      11,
			OrgID:       22,
			Role:        identitydomain.RoleAdmin,
			Permissions: []string{"usage.request"},
			Owner:       true,
		},
	}})

	session, err := svc.Resolve(context.Background(), identitydomain.RequestIdentity{
		SessionToken: "tok",
	})
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, identitydomain.SpaceCustomer, session.Space)
	assert.Equal(t, identitydomain.RoleAdmin, session.Role)
	assert.True(t, session.Owner)
	assert.True(t, session.HasPermission("usage.request"))
}

func TestResolve_MarkerSelectsSpace(t *testing.T) {
	source := &stubSource{profiles: map[string]*identitydomain.Profile{
		"op-tok": {UserID: 11, OrgID: 22, Role: identitydomain.RoleSupport},
		"ac-tok": {UserID: 11, OrgID: 22, Role: identitydomain.RoleAuditor},
	}}
	svc := newTestService(source)

	session, err := svc.Resolve(context.Background(), identitydomain.RequestIdentity{
		OperatorToken: "op-tok",
	})
	require.NoError(t, err)
	assert.Equal(t, identitydomain.SpaceOperator, session.Space)

	session, err = svc.Resolve(context.Background(), identitydomain.RequestIdentity{
		AccountingToken: "ac-tok",
	})
	require.NoError(t, err)
	assert.Equal(t, identitydomain.SpaceAccounting, session.Space)
}
