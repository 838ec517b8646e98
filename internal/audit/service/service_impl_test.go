package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/nubera-hq/nubera/internal/audit/domain"
	"github.com/nubera-hq/nubera/internal/audit/repository"
	"github.com/nubera-hq/nubera/internal/auditcontext"
	"github.com/nubera-hq/nubera/internal/clock"
	"github.com/nubera-hq/nubera/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupAudit(t *testing.T) (auditdomain.Service, *clock.FakeClock, snowflake.ID) {
	t.Helper()

	dsn := fmt.Sprintf("file:audit_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})

	return svc, clk, node.Generate()
}

func TestRecord_WritesEntryWithRequestContext(t *testing.T) {
	svc, _, orgID := setupAudit(t)

	ctx := auditcontext.WithRequestID(context.Background(), "req-123")
	ctx = auditcontext.WithIPAddress(ctx, "203.0.113.9")
	ctx = auditcontext.WithActor(ctx, "user", "42")

	err := svc.Record(ctx, auditdomain.Event{
		OrgID:      orgID,
		Action:     auditdomain.ActionUsageDenied,
		TargetType: "module",
		TargetID:   "reports",
		Decision:   "denied",
		Reason:     "usage_limit_exceeded",
		Metadata:   map[string]any{"amount": 10},
	})
	require.NoError(t, err)

	listCtx := orgcontext.WithOrgID(context.Background(), orgID)
	resp, err := svc.List(listCtx, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, auditdomain.ActionUsageDenied, entry.Action)
	assert.Equal(t, "denied", entry.Decision)
	assert.Equal(t, "user", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "42", *entry.ActorID)
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "203.0.113.9", *entry.IPAddress)
	assert.Equal(t, "req-123", entry.Metadata["request_id"])
}

func TestRecord_RequiresAction(t *testing.T) {
	svc, _, orgID := setupAudit(t)

	err := svc.Record(context.Background(), auditdomain.Event{OrgID: orgID})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestList_ScopedToOrganization(t *testing.T) {
	svc, _, orgID := setupAudit(t)
	otherOrg := orgID + 1

	for _, org := range []snowflake.ID{orgID, otherOrg} {
		require.NoError(t, svc.Record(context.Background(), auditdomain.Event{
			OrgID:    org,
			Action:   auditdomain.ActionRouteAccessDenied,
			Decision: "denied",
		}))
	}

	resp, err := svc.List(orgcontext.WithOrgID(context.Background(), orgID), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.AuditLogs, 1)

	_, err = svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidOrganization)
}

func TestList_CursorPagination(t *testing.T) {
	svc, clk, orgID := setupAudit(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Record(context.Background(), auditdomain.Event{
			OrgID:    orgID,
			Action:   auditdomain.ActionUsageGranted,
			Decision: "granted",
		}))
		clk.Advance(time.Minute)
	}

	ctx := orgcontext.WithOrgID(context.Background(), orgID)
	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 5)
	assert.False(t, first.HasMore)

	req := auditdomain.ListAuditLogRequest{}
	req.PageSize = 2
	page, err := svc.List(ctx, req)
	require.NoError(t, err)
	assert.Len(t, page.AuditLogs, 2)
	assert.True(t, page.HasMore)
	require.NotEmpty(t, page.NextPageToken)

	// Newest first, and the next page continues past the cursor.
	req.PageToken = page.NextPageToken
	next, err := svc.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, next.AuditLogs, 2)
	assert.True(t, next.AuditLogs[0].CreatedAt.Before(page.AuditLogs[1].CreatedAt))

	req.PageToken = "not-base64!"
	_, err = svc.List(ctx, req)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}

func TestList_FiltersByActionAndDecision(t *testing.T) {
	svc, _, orgID := setupAudit(t)

	entries := []auditdomain.Event{
		{OrgID: orgID, Action: auditdomain.ActionUsageGranted, Decision: "granted"},
		{OrgID: orgID, Action: auditdomain.ActionUsageDenied, Decision: "denied"},
		{OrgID: orgID, Action: auditdomain.ActionRouteAccessDenied, Decision: "denied"},
	}
	for _, event := range entries {
		require.NoError(t, svc.Record(context.Background(), event))
	}

	ctx := orgcontext.WithOrgID(context.Background(), orgID)

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Action: auditdomain.ActionUsageDenied})
	require.NoError(t, err)
	assert.Len(t, resp.AuditLogs, 1)

	resp, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Decision: "denied"})
	require.NoError(t, err)
	assert.Len(t, resp.AuditLogs, 2)
}
