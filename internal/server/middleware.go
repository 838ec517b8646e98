package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	auditdomain "github.com/nubera-hq/nubera/internal/audit/domain"
	"github.com/nubera-hq/nubera/internal/auditcontext"
	identitydomain "github.com/nubera-hq/nubera/internal/identity/domain"
	"github.com/nubera-hq/nubera/internal/orgcontext"
	"github.com/nubera-hq/nubera/internal/policy"
	"go.uber.org/zap"
)

const (
	SessionCookieName     = "nubera_session"
	HeaderOperatorToken   = "X-Operator-Token"
	HeaderAccountingToken = "X-Accounting-Token"
	HeaderRequestID       = "X-Request-ID"

	contextSessionKey = "nubera_session_ctx"
)

// RequestID propagates the inbound request id or mints one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(
			auditcontext.WithRequestID(c.Request.Context(), requestID),
		)
		c.Next()
	}
}

// RequestMeta captures the client address and user agent for audit
// entries written further down the chain.
func RequestMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auditcontext.WithIPAddress(c.Request.Context(), c.ClientIP())
		ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// ResolveSession turns request identity markers into a session. Requests
// without markers continue anonymously; the space gate decides whether
// that is acceptable for the route.
func (s *Server) ResolveSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identitydomain.RequestIdentity{
			OperatorToken:   strings.TrimSpace(c.GetHeader(HeaderOperatorToken)),
			AccountingToken: strings.TrimSpace(c.GetHeader(HeaderAccountingToken)),
		}
		if cookie, err := c.Cookie(SessionCookieName); err == nil {
			identity.SessionToken = strings.TrimSpace(cookie)
		}

		session, err := s.identitySvc.Resolve(c.Request.Context(), identity)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if session == nil {
			c.Next()
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), session.OrgID)
		ctx = auditcontext.WithActor(ctx, "user", session.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextSessionKey, session)
		c.Next()
	}
}

// RequireSpace gates the route on the policy evaluator and records the
// decision either way.
func (s *Server) RequireSpace(space identitydomain.Space, roles ...identitydomain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessionFromGin(c)
		decision := policy.Evaluate(session, space, roles)
		s.auditRouteDecision(c, session, decision)

		if decision.Allowed {
			c.Next()
			return
		}

		s.metrics.RecordRouteDenied(c.Request.Context(), string(decision.Reason))
		status := http.StatusForbidden
		if decision.Reason == policy.ReasonNoSession {
			status = http.StatusUnauthorized
		}
		c.AbortWithStatusJSON(status, gin.H{
			"error": gin.H{
				"type":     "access_denied",
				"reason":   decision.Reason,
				"redirect": decision.Redirect,
			},
		})
	}
}

func (s *Server) rateLimitUsage() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.usageLimiter.Enabled() {
			c.Next()
			return
		}
		session := sessionFromGin(c)
		if session == nil {
			c.Next()
			return
		}

		allowed, err := s.usageLimiter.AllowOrg(c.Request.Context(), session.OrgID.String())
		if err != nil {
			s.log.Warn("usage rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			s.metrics.RecordRateLimitDenied(c.Request.Context(), "usage.request")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"type":    "rate_limited",
					"message": "too many usage requests",
				},
			})
			return
		}
		c.Next()
	}
}

func (s *Server) auditRouteDecision(c *gin.Context, session *identitydomain.Session, decision policy.Decision) {
	action := auditdomain.ActionRouteAccessDenied
	outcome := "denied"
	if decision.Allowed {
		action = auditdomain.ActionRouteAccessGranted
		outcome = "granted"
	}

	event := auditdomain.Event{
		Action:     action,
		TargetType: "route",
		TargetID:   c.FullPath(),
		Decision:   outcome,
		Reason:     string(decision.Reason),
	}
	if session != nil {
		event.OrgID = session.OrgID
		event.ActorType = "user"
		event.ActorID = session.UserID.String()
	}
	if err := s.auditSvc.Record(c.Request.Context(), event); err != nil && !errors.Is(err, auditdomain.ErrInvalidAction) {
		s.log.Warn("failed to audit route decision", zap.Error(err))
	}
}

func sessionFromGin(c *gin.Context) *identitydomain.Session {
	value, ok := c.Get(contextSessionKey)
	if !ok {
		return nil
	}
	session, _ := value.(*identitydomain.Session)
	return session
}
