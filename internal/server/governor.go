package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	governordomain "github.com/nubera-hq/nubera/internal/governor/domain"
)

type requestUsageBody struct {
	ModuleKey string         `json:"module_key" binding:"required"`
	Amount    int64          `json:"amount" binding:"required"`
	Cost      int64          `json:"cost"`
	Metadata  map[string]any `json:"metadata"`
}

func (s *Server) requestUsage(c *gin.Context) {
	session := sessionFromGin(c)
	if session == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var body requestUsageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.governorSvc.RequestUsage(c.Request.Context(), governordomain.RequestUsageInput{
		OrgID:     session.OrgID,
		ModuleKey: body.ModuleKey,
		Amount:    body.Amount,
		Cost:      body.Cost,
		Metadata:  body.Metadata,
	})
	if result == nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(grantStatus(result), result)
}

// grantStatus maps a governance outcome to an HTTP status. The body
// carries the full result either way so callers can show the figures.
func grantStatus(result *governordomain.GrantResult) int {
	if result.Allowed {
		return http.StatusOK
	}
	switch result.Reason {
	case governordomain.ReasonModuleNotFound:
		return http.StatusNotFound
	case governordomain.ReasonTemporarilyDisabled:
		return http.StatusTooManyRequests
	case governordomain.ReasonDeniedForSecurity:
		return http.StatusServiceUnavailable
	default:
		return http.StatusForbidden
	}
}

func (s *Server) checkAvailability(c *gin.Context) {
	session := sessionFromGin(c)
	if session == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	moduleKey := strings.TrimSpace(c.Query("module_key"))
	if moduleKey == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.governorSvc.CheckAvailability(c.Request.Context(), session.OrgID, moduleKey)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) circuitStatus(c *gin.Context) {
	states, err := s.governorSvc.CircuitStatus(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(states),
		"circuits": states,
	})
}
