package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/civicfix/civicfix-api/internal/dto"
	"github.com/civicfix/civicfix-api/internal/service"
	appErrors "github.com/civicfix/civicfix-api/pkg/errors"
	"github.com/civicfix/civicfix-api/pkg/response"
)

// SubmissionHandler exposes the citizen report submission flow.
type SubmissionHandler struct {
	submissions *service.SubmissionService
}

// NewSubmissionHandler constructs the handler.
func NewSubmissionHandler(submissions *service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissions: submissions}
}

// CreateDraft godoc
// @Summary Start a report draft from a photo
// @Tags Submissions
// @Accept multipart/form-data
// @Produce json
// @Param image formData file true "Issue photo"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reports/drafts [post]
func (h *SubmissionHandler) CreateDraft(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "image is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open upload"))
		return
	}
	defer src.Close()

	draft, err := h.submissions.CreateDraft(
		c.Request.Context(),
		claims.UserID,
		src,
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		fileHeader.Size,
	)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, h.submissions.DraftResponse(draft))
}

// GetDraft godoc
// @Summary Get a submission draft
// @Tags Submissions
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports/drafts/{id} [get]
func (h *SubmissionHandler) GetDraft(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	draft, err := h.submissions.GetDraft(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, h.submissions.DraftResponse(draft))
}

// AttachLocation godoc
// @Summary Attach device coordinates to a draft
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "Draft ID"
// @Param payload body dto.LocationRequest true "Coordinates"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reports/drafts/{id}/location [post]
func (h *SubmissionHandler) AttachLocation(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req dto.LocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid location payload"))
		return
	}

	draft, err := h.submissions.AttachLocation(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, h.submissions.DraftResponse(draft))
}

// MarkLocationFailed godoc
// @Summary Record that geolocation was unavailable
// @Tags Submissions
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Router /reports/drafts/{id}/location/failure [post]
func (h *SubmissionHandler) MarkLocationFailed(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	draft, err := h.submissions.MarkLocationFailed(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, h.submissions.DraftResponse(draft))
}

// Analyze godoc
// @Summary Run AI classification on a draft
// @Tags Submissions
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /reports/drafts/{id}/analyze [post]
func (h *SubmissionHandler) Analyze(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	draft, err := h.submissions.Analyze(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.AnalyzeResponse{
		Draft:  h.submissions.DraftResponse(draft),
		Result: draft.Analysis,
	})
}

// Retry godoc
// @Summary Reset a failed draft for another analysis attempt
// @Tags Submissions
// @Produce json
// @Param id path string true "Draft ID"
// @Success 200 {object} response.Envelope
// @Router /reports/drafts/{id}/retry [post]
func (h *SubmissionHandler) Retry(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	draft, err := h.submissions.Retry(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, h.submissions.DraftResponse(draft))
}

// Save godoc
// @Summary Persist the analyzed draft as a report
// @Tags Submissions
// @Produce json
// @Param id path string true "Draft ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reports/drafts/{id}/save [post]
func (h *SubmissionHandler) Save(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	report, draft, err := h.submissions.Save(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.SaveResponse{ReportID: report.ID, State: draft.State})
}
