package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/nubera-hq/nubera/internal/audit/domain"
	"github.com/nubera-hq/nubera/internal/orgcontext"
	"github.com/nubera-hq/nubera/internal/tenantscope"
	"github.com/nubera-hq/nubera/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	pagination.Pagination
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	ActorType  string `form:"actor_type"`
	Decision   string `form:"decision"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
}

func (s *Server) listAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	req, err := query.toRequest()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// listAuditLogsCrossTenant serves the operator surface: the target
// tenant comes from the query, not from the operator's own session. The
// elevated read is granted by the scope guard, then narrowed to the
// requested tenant.
func (s *Server) listAuditLogsCrossTenant(c *gin.Context) {
	if _, err := tenantscope.CrossTenantPredicate(sessionFromGin(c)); err != nil {
		AbortWithError(c, ErrForbidden)
		return
	}

	orgID, err := snowflake.ParseString(strings.TrimSpace(c.Query("org_id")))
	if err != nil || orgID == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	req, err := query.toRequest()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
	resp, err := s.auditSvc.List(ctx, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (q listAuditLogsQuery) toRequest() (auditdomain.ListAuditLogRequest, error) {
	req := auditdomain.ListAuditLogRequest{
		Pagination: q.Pagination,
		Action:     q.Action,
		TargetType: q.TargetType,
		TargetID:   q.TargetID,
		ActorType:  q.ActorType,
		Decision:   q.Decision,
	}

	if raw := strings.TrimSpace(q.StartAt); raw != "" {
		startAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return req, auditdomain.ErrInvalidTimeRange
		}
		req.StartAt = &startAt
	}
	if raw := strings.TrimSpace(q.EndAt); raw != "" {
		endAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return req, auditdomain.ErrInvalidTimeRange
		}
		req.EndAt = &endAt
	}
	return req, nil
}
