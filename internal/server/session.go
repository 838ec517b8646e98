package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) currentSession(c *gin.Context) {
	session := sessionFromGin(c)
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user_id":       session.UserID.String(),
		"org_id":        session.OrgID.String(),
		"space":         session.Space,
		"role":          session.Role,
		"permissions":   session.Permissions,
		"owner":         session.Owner,
		"landing_path":  session.Space.LandingPath(),
	})
}
