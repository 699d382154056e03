package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/civicfix/civicfix-api/internal/dto"
)

type fakeDashboardSrv struct {
	resp *dto.DashboardStatsResponse
	err  error
}

func (f *fakeDashboardSrv) Stats(context.Context) (*dto.DashboardStatsResponse, error) {
	return f.resp, f.err
}

func TestDashboardHandlerStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewDashboardHandler(&fakeDashboardSrv{
		resp: &dto.DashboardStatsResponse{
			TotalReports: 12,
			TodayReports: 3,
			TotalUsers:   7,
			ReportsByType: map[string]int{
				"Pothole": 8,
				"Garbage": 4,
			},
		},
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/admin/stats", nil)

	handler.Stats(c)

	assert.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data dto.DashboardStatsResponse `json:"data"`
	}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, 12, envelope.Data.TotalReports)
	assert.Equal(t, 3, envelope.Data.TodayReports)
	assert.Equal(t, 8, envelope.Data.ReportsByType["Pothole"])
}

func TestDashboardHandlerStatsNotConfigured(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewDashboardHandler(nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/admin/stats", nil)

	handler.Stats(c)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
