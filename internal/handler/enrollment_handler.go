package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/iut-admissions-api/internal/dto"
	"github.com/noah-isme/iut-admissions-api/internal/models"
	"github.com/noah-isme/iut-admissions-api/internal/service"
	"github.com/noah-isme/iut-admissions-api/pkg/response"
)

type enrollmentService interface {
	Submit(ctx context.Context, accountID string, req service.EnrollmentRequest) (*models.EnrollmentRecord, error)
	Update(ctx context.Context, accountID string, req service.EnrollmentRequest) (*models.EnrollmentRecord, error)
	GetByAccount(ctx context.Context, accountID string) (*models.EnrollmentRecord, error)
	ResubmitOwn(ctx context.Context, accountID string) (*models.EnrollmentRecord, error)
	Get(ctx context.Context, id string) (*models.EnrollmentRecord, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, *models.Pagination, error)
	Validate(ctx context.Context, id, adminID string) (*models.EnrollmentRecord, error)
	Reject(ctx context.Context, id, adminID, reason string) (*models.EnrollmentRecord, error)
	Reopen(ctx context.Context, id, adminID string) (*models.EnrollmentRecord, error)
	SetRegistrationStatus(ctx context.Context, id, adminID string, status models.RegistrationStatus) (*models.EnrollmentRecord, error)
}

type enrollmentReviewService interface {
	OverviewOwn(ctx context.Context, accountID string) (*models.EnrollmentOverview, error)
	CheckCompleteness(ctx context.Context, enrollmentID, adminID string) (*service.CompletenessCheck, error)
}

type enrollmentExporter interface {
	Roster(ctx context.Context, filter models.EnrollmentFilter, format service.ExportFormat) (*service.ExportFile, error)
	Sheet(ctx context.Context, accountID string) (*service.ExportFile, error)
}

type activeProgramLister interface {
	ListActive(ctx context.Context) ([]models.Program, error)
}

// EnrollmentHandler exposes enrollment record endpoints for students and staff.
type EnrollmentHandler struct {
	enrollments enrollmentService
	review      enrollmentReviewService
	exports     enrollmentExporter
	programs    activeProgramLister
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService, review enrollmentReviewService, exports enrollmentExporter, programs activeProgramLister) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, review: review, exports: exports, programs: programs}
}

// Submit godoc
// @Summary Submit enrollment
// @Description Creates the caller's enrollment record and issues its registration number
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.EnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Submit(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.EnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid enrollment payload"))
		return
	}
	record, err := h.enrollments.Submit(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Me godoc
// @Summary Get own enrollment
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/me [get]
func (h *EnrollmentHandler) Me(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	record, err := h.enrollments.GetByAccount(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// UpdateMe godoc
// @Summary Update own enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.EnrollmentRequest true "Enrollment payload"
// @Success 200 {object} response.Envelope
// @Router /enrollments/me [put]
func (h *EnrollmentHandler) UpdateMe(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req service.EnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid enrollment payload"))
		return
	}
	record, err := h.enrollments.Update(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// ResubmitMe godoc
// @Summary Resubmit a rejected enrollment
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /enrollments/me/resubmit [post]
func (h *EnrollmentHandler) ResubmitMe(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	record, err := h.enrollments.ResubmitOwn(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// OverviewMe godoc
// @Summary Own enrollment progress
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /enrollments/me/overview [get]
func (h *EnrollmentHandler) OverviewMe(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	overview, err := h.review.OverviewOwn(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil)
}

// SheetMe godoc
// @Summary Download registration sheet
// @Tags Enrollments
// @Produce application/pdf
// @Security BearerAuth
// @Success 200 {file} file
// @Router /enrollments/me/sheet.pdf [get]
func (h *EnrollmentHandler) SheetMe(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	file, err := h.exports.Sheet(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	sendFile(c, file)
}

// FormOptions godoc
// @Summary Enrollment form options
// @Description Programs selectable on the enrollment form
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /enrollments/me/form-options [get]
func (h *EnrollmentHandler) FormOptions(c *gin.Context) {
	programs, err := h.programs.ListActive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, programs, nil)
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param program_id query string false "Program"
// @Param registration_status query string false "pending, confirmed or cancelled"
// @Param validation_status query string false "pending, validated or rejected"
// @Param year query int false "Creation year"
// @Param q query string false "Search name, national id or registration number"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	filter, ok := bindEnrollmentFilter(c)
	if !ok {
		return
	}
	items, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Export godoc
// @Summary Export the enrollment roster
// @Tags Enrollments
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv (default) or pdf"
// @Param program_id query string false "Program"
// @Param registration_status query string false "Registration status"
// @Param validation_status query string false "Validation status"
// @Success 200 {file} file
// @Router /admin/enrollments/export [get]
func (h *EnrollmentHandler) Export(c *gin.Context) {
	filter, ok := bindEnrollmentFilter(c)
	if !ok {
		return
	}
	file, err := h.exports.Roster(c.Request.Context(), filter, service.ExportFormat(c.DefaultQuery("format", "csv")))
	if err != nil {
		response.Error(c, err)
		return
	}
	sendFile(c, file)
}

// Get godoc
// @Summary Get enrollment
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	record, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Validate godoc
// @Summary Validate enrollment
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /admin/enrollments/{id}/validate [post]
func (h *EnrollmentHandler) Validate(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	record, err := h.enrollments.Validate(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Reject godoc
// @Summary Reject enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Param payload body dto.RejectEnrollmentRequest true "Rejection reason"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /admin/enrollments/{id}/reject [post]
func (h *EnrollmentHandler) Reject(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.RejectEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "a rejection reason is required"))
		return
	}
	record, err := h.enrollments.Reject(c.Request.Context(), c.Param("id"), claims.UserID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Reopen godoc
// @Summary Reopen enrollment
// @Description Moves a validated or rejected record back to pending
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments/{id}/reopen [post]
func (h *EnrollmentHandler) Reopen(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	record, err := h.enrollments.Reopen(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// CompletenessCheck godoc
// @Summary Check required documents
// @Description Notifies the student when documents are missing
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments/{id}/completeness-check [post]
func (h *EnrollmentHandler) CompletenessCheck(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	result, err := h.review.CheckCompleteness(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// RegistrationStatus godoc
// @Summary Change registration status
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Param payload body dto.RegistrationStatusRequest true "New status"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/enrollments/{id}/registration-status [patch]
func (h *EnrollmentHandler) RegistrationStatus(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.RegistrationStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid status payload"))
		return
	}
	record, err := h.enrollments.SetRegistrationStatus(c.Request.Context(), c.Param("id"), claims.UserID, req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

func bindEnrollmentFilter(c *gin.Context) (models.EnrollmentFilter, bool) {
	var query dto.EnrollmentListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid query"))
		return models.EnrollmentFilter{}, false
	}
	filter, err := query.ToFilter()
	if err != nil {
		response.Error(c, err)
		return filter, false
	}
	return filter, true
}

func sendFile(c *gin.Context, file *service.ExportFile) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
