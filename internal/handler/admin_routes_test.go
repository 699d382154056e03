package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/civicfix/civicfix-api/internal/dto"
	internalmiddleware "github.com/civicfix/civicfix-api/internal/middleware"
	"github.com/civicfix/civicfix-api/internal/models"
)

type statsIntegrationFake struct{}

func (statsIntegrationFake) Stats(context.Context) (*dto.DashboardStatsResponse, error) {
	return &dto.DashboardStatsResponse{TotalReports: 1}, nil
}

func buildAdminRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if role := c.GetHeader("X-Test-Role"); role != "" {
			c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{
				UserID: "test-user",
				Role:   models.UserRole(role),
			})
		}
		c.Next()
	})

	dashboard := NewDashboardHandler(statsIntegrationFake{})

	admin := router.Group("/admin")
	admin.Use(internalmiddleware.RequireRoles(models.RoleAdmin))
	admin.GET("/stats", dashboard.Stats)

	return router
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAdminRoutesRBAC(t *testing.T) {
	router := buildAdminRouter()

	t.Run("anonymous rejected", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/admin/stats", nil)
		resp := performRequest(router, req)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("citizen forbidden", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/admin/stats", nil)
		req.Header.Set("X-Test-Role", string(models.RoleUser))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("admin allowed", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/admin/stats", nil)
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
	})
}
