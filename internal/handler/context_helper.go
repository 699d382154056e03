package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/civicfix/civicfix-api/internal/middleware"
	"github.com/civicfix/civicfix-api/internal/models"
)

// claimsFromContext returns the authenticated user's claims, or nil when
// the request passed through without the JWT middleware.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.JWTClaims)
	return claims
}
