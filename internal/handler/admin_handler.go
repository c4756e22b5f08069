package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	"github.com/noah-isme/iut-admissions-api/internal/service"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
	"github.com/noah-isme/iut-admissions-api/pkg/response"
)

type dashboardService interface {
	Dashboard(ctx context.Context, adminID, sessionID string) (*models.AdminDashboard, error)
}

type importService interface {
	ImportBatch(ctx context.Context, upload service.ImportUpload, operatorID string) (*models.ImportBatch, error)
	ListBatches(ctx context.Context, page, size int) ([]models.ImportBatch, *models.Pagination, error)
	GetBatch(ctx context.Context, id string) (*models.ImportBatch, error)
}

type accountRemover interface {
	Delete(ctx context.Context, id string) error
}

// AdminHandler groups staff-only endpoints that are not tied to one record type.
type AdminHandler struct {
	dashboard dashboardService
	imports   importService
	accounts  accountRemover
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(dashboard dashboardService, imports importService, accounts accountRemover) *AdminHandler {
	return &AdminHandler{dashboard: dashboard, imports: imports, accounts: accounts}
}

// Dashboard godoc
// @Summary Admin dashboard
// @Description Aggregates, program load and recent enrollments. Raises a backlog reminder once per session.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /admin/dashboard [get]
func (h *AdminHandler) Dashboard(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	dashboard, err := h.dashboard.Dashboard(c.Request.Context(), claims.UserID, claims.SessionID())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dashboard, nil)
}

// CreateImport godoc
// @Summary Bulk import students
// @Description Creates accounts and enrollment records from an .xlsx or .csv file
// @Tags Admin
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "Spreadsheet"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /admin/imports [post]
func (h *AdminHandler) CreateImport(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.WithField(appErrors.ErrValidation, "file", "file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read upload"))
		return
	}
	defer file.Close()

	batch, err := h.imports.ImportBatch(c.Request.Context(), service.ImportUpload{
		Filename: header.Filename,
		Size:     header.Size,
		Content:  file,
	}, claims.UserID)
	if err != nil {
		if batch != nil {
			// Aborted batches are persisted; return them with the error.
			appErr := appErrors.FromError(err)
			c.AbortWithStatusJSON(appErr.Status, response.Envelope{Data: batch, Error: appErr})
			return
		}
		response.Error(c, err)
		return
	}
	response.Created(c, batch)
}

// ListImports godoc
// @Summary List import batches
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/imports [get]
func (h *AdminHandler) ListImports(c *gin.Context) {
	page, size := pageQuery(c)
	batches, pagination, err := h.imports.ListBatches(c.Request.Context(), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batches, pagination)
}

// GetImport godoc
// @Summary Get import batch
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /admin/imports/{id} [get]
func (h *AdminHandler) GetImport(c *gin.Context) {
	batch, err := h.imports.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// DeleteAccount godoc
// @Summary Delete an account
// @Description Removes the account with its enrollment record, documents and stored files
// @Tags Admin
// @Security BearerAuth
// @Param id path string true "Account ID"
// @Success 204
// @Router /admin/accounts/{id} [delete]
func (h *AdminHandler) DeleteAccount(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if c.Param("id") == claims.UserID {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "cannot delete your own account"))
		return
	}
	if err := h.accounts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
