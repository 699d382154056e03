package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/civicfix/civicfix-api/internal/dto"
	appErrors "github.com/civicfix/civicfix-api/pkg/errors"
	"github.com/civicfix/civicfix-api/pkg/response"
)

type dashboardService interface {
	Stats(ctx context.Context) (*dto.DashboardStatsResponse, error)
}

// DashboardHandler wires the triage dashboard to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Stats godoc
// @Summary Triage dashboard aggregates
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/stats [get]
func (h *DashboardHandler) Stats(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}

	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, stats)
}
