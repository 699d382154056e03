package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/civicfix/civicfix-api/internal/dto"
	"github.com/civicfix/civicfix-api/internal/service"
	appErrors "github.com/civicfix/civicfix-api/pkg/errors"
	"github.com/civicfix/civicfix-api/pkg/response"
)

// ReportHandler exposes triage endpoints for stored reports.
type ReportHandler struct {
	reports *service.ReportService
}

// NewReportHandler constructs the handler.
func NewReportHandler(reports *service.ReportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// List godoc
// @Summary List reports
// @Tags Reports
// @Produce json
// @Param status query string false "Status filter"
// @Param type query string false "Issue type filter"
// @Param search query string false "Search in type and address"
// @Param minSeverity query int false "Minimum severity score"
// @Param sort query string false "Sort order (newest, oldest, severity)"
// @Param limit query int false "Maximum rows"
// @Success 200 {object} response.Envelope
// @Router /admin/reports [get]
func (h *ReportHandler) List(c *gin.Context) {
	filter := dto.ReportListFilter{
		Status: strings.TrimSpace(c.Query("status")),
		Type:   strings.TrimSpace(c.Query("type")),
		Search: strings.TrimSpace(c.Query("search")),
		Sort:   strings.TrimSpace(c.Query("sort")),
	}
	if raw := c.Query("minSeverity"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "minSeverity must be an integer"))
			return
		}
		filter.MinSeverity = &value
	}
	if raw := c.Query("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be an integer"))
			return
		}
		filter.Limit = value
	}

	reports, err := h.reports.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, reports)
}

// ListMine godoc
// @Summary List the current user's reports
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reports/mine [get]
func (h *ReportHandler) ListMine(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	reports, err := h.reports.ListMine(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, reports)
}

// Get godoc
// @Summary Get a single report
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/reports/{id} [get]
func (h *ReportHandler) Get(c *gin.Context) {
	report, err := h.reports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, report)
}

// UpdateStatus godoc
// @Summary Change report status
// @Tags Reports
// @Accept json
// @Produce json
// @Param id path string true "Report ID"
// @Param payload body dto.StatusUpdateRequest true "New status"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/reports/{id}/status [patch]
func (h *ReportHandler) UpdateStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}

	report, err := h.reports.UpdateStatus(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, report)
}

// Delete godoc
// @Summary Delete a report
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/reports/{id} [delete]
func (h *ReportHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.reports.Delete(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
