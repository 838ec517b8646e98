package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/nubera-hq/nubera/internal/audit/domain"
	"github.com/nubera-hq/nubera/internal/config"
	"github.com/nubera-hq/nubera/internal/governor/breaker"
	governordomain "github.com/nubera-hq/nubera/internal/governor/domain"
	identitydomain "github.com/nubera-hq/nubera/internal/identity/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubIdentity struct {
	sessions map[string]*identitydomain.Session
}

func (s *stubIdentity) Resolve(_ context.Context, identity identitydomain.RequestIdentity) (*identitydomain.Session, error) {
	markers := 0
	token := ""
	if identity.SessionToken != "" {
		markers++
		token = identity.SessionToken
	}
	if identity.OperatorToken != "" {
		markers++
		token = identity.OperatorToken
	}
	if identity.AccountingToken != "" {
		markers++
		token = identity.AccountingToken
	}
	if markers > 1 {
		return nil, identitydomain.ErrAmbiguousIdentity
	}
	return s.sessions[token], nil
}

type stubAuthz struct{}

func (stubAuthz) Enforce(identitydomain.Role, string, string) (bool, error) { return true, nil }
func (stubAuthz) PermissionsForRole(identitydomain.Space, identitydomain.Role) ([]string, error) {
	return nil, nil
}

type stubAudit struct {
	events []auditdomain.Event
}

func (s *stubAudit) Record(_ context.Context, event auditdomain.Event) error {
	s.events = append(s.events, event)
	return nil
}

func (s *stubAudit) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type stubGovernor struct {
	lastInput governordomain.RequestUsageInput
	result    *governordomain.GrantResult
	err       error
}

func (s *stubGovernor) RequestUsage(_ context.Context, input governordomain.RequestUsageInput) (*governordomain.GrantResult, error) {
	s.lastInput = input
	return s.result, s.err
}

func (s *stubGovernor) CheckAvailability(context.Context, snowflake.ID, string) (*governordomain.AvailabilityResult, error) {
	return &governordomain.AvailabilityResult{Available: true, Reason: governordomain.ReasonGranted}, nil
}

func (s *stubGovernor) CircuitStatus(context.Context) (map[string]breaker.State, error) {
	return map[string]breaker.State{}, nil
}

type serverFixture struct {
	engine   *gin.Engine
	audit    *stubAudit
	governor *stubGovernor
}

func setupServer(t *testing.T) *serverFixture {
	t.Helper()

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	identitySvc := &stubIdentity{sessions: map[string]*identitydomain.Session{
		"member-tok": {
			UserID: 11, OrgID: 22,
			Space: identitydomain.SpaceCustomer,
			Role:  identitydomain.RoleMember,
		},
		"viewer-tok": {
			UserID: 12, OrgID: 22,
			Space: identitydomain.SpaceCustomer,
			Role:  identitydomain.RoleViewer,
		},
		"op-tok": {
			UserID: 13, OrgID: 1,
			Space: identitydomain.SpaceOperator,
			Role:  identitydomain.RoleOperatorAdmin,
		},
	}}

	auditSvc := &stubAudit{}
	governorSvc := &stubGovernor{
		result: &governordomain.GrantResult{
			Allowed: true,
			Reason:  governordomain.ReasonGranted,
		},
	}

	engine := NewEngine(zap.NewNop())
	NewServer(ServerParams{
		Gin:         engine,
		Cfg:         config.Config{AppName: "nubera"},
		Log:         zap.NewNop(),
		GenID:       node,
		IdentitySvc: identitySvc,
		AuthzSvc:    stubAuthz{},
		AuditSvc:    auditSvc,
		GovernorSvc: governorSvc,
	})

	return &serverFixture{engine: engine, audit: auditSvc, governor: governorSvc}
}

func (f *serverFixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func TestUsageRequest_AnonymousIsRejected(t *testing.T) {
	f := setupServer(t)

	rec := f.do(http.MethodPost, "/v1/usage/request", "", gin.H{"module_key": "reports", "amount": 1})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_session")

	require.NotEmpty(t, f.audit.events)
	assert.Equal(t, auditdomain.ActionRouteAccessDenied, f.audit.events[0].Action)
}

func TestUsageRequest_WrongSpaceRedirectsToOwnLanding(t *testing.T) {
	f := setupServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/usage/request", bytes.NewBufferString(`{}`))
	req.Header.Set(HeaderOperatorToken, "op-tok")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "wrong_space")
	assert.Contains(t, rec.Body.String(), identitydomain.SpaceOperator.LandingPath())
}

func TestUsageRequest_ViewerRoleInsufficient(t *testing.T) {
	f := setupServer(t)

	rec := f.do(http.MethodPost, "/v1/usage/request", "viewer-tok", gin.H{"module_key": "reports", "amount": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient_role")
}

func TestUsageRequest_MemberGranted(t *testing.T) {
	f := setupServer(t)

	rec := f.do(http.MethodPost, "/v1/usage/request", "member-tok", gin.H{
		"module_key": "reports",
		"amount":     3,
		"cost":       150,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// The tenant comes from the session, never from the request body.
	assert.Equal(t, snowflake.ID(22), f.governor.lastInput.OrgID)
	assert.Equal(t, "reports", f.governor.lastInput.ModuleKey)
	assert.Equal(t, int64(3), f.governor.lastInput.Amount)
}

func TestUsageRequest_DenialStatusByReason(t *testing.T) {
	f := setupServer(t)
	f.governor.result = &governordomain.GrantResult{
		Allowed: false,
		Reason:  governordomain.ReasonUsageLimitExceeded,
	}
	f.governor.err = governordomain.ErrUsageLimitExceeded

	rec := f.do(http.MethodPost, "/v1/usage/request", "member-tok", gin.H{"module_key": "reports", "amount": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "usage_limit_exceeded")

	f.governor.result = &governordomain.GrantResult{
		Allowed: false,
		Reason:  governordomain.ReasonTemporarilyDisabled,
	}
	f.governor.err = governordomain.ErrTemporarilyDisabled
	rec = f.do(http.MethodPost, "/v1/usage/request", "member-tok", gin.H{"module_key": "reports", "amount": 1})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAmbiguousIdentityIsUnauthorized(t *testing.T) {
	f := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "member-tok"})
	req.Header.Set(HeaderOperatorToken, "op-tok")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCurrentSession(t *testing.T) {
	f := setupServer(t)

	rec := f.do(http.MethodGet, "/v1/session", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"authenticated":false`)

	rec = f.do(http.MethodGet, "/v1/session", "member-tok", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"authenticated":true`)
	assert.Contains(t, rec.Body.String(), `"landing_path":"/dashboard"`)
}

func TestOperatorCircuitEndpoint(t *testing.T) {
	f := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/operator/v1/circuit", nil)
	req.Header.Set(HeaderOperatorToken, "op-tok")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Customer sessions cannot reach the operator surface.
	rec = f.do(http.MethodGet, "/operator/v1/circuit", "member-tok", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOperatorAuditLogs(t *testing.T) {
	f := setupServer(t)

	// The elevated read requires a tenant to narrow to.
	req := httptest.NewRequest(http.MethodGet, "/operator/v1/audit-logs", nil)
	req.Header.Set(HeaderOperatorToken, "op-tok")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/operator/v1/audit-logs?org_id=22", nil)
	req.Header.Set(HeaderOperatorToken, "op-tok")
	rec = httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Customer sessions never reach the cross-tenant listing.
	rec = f.do(http.MethodGet, "/operator/v1/audit-logs?org_id=22", "member-tok", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	f := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "req-abc")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	assert.Equal(t, "req-abc", rec.Header().Get(HeaderRequestID))

	rec = f.do(http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}
