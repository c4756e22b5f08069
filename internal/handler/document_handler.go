package handler

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/iut-admissions-api/internal/dto"
	"github.com/noah-isme/iut-admissions-api/internal/models"
	"github.com/noah-isme/iut-admissions-api/internal/service"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
	"github.com/noah-isme/iut-admissions-api/pkg/response"
)

type documentService interface {
	Upload(ctx context.Context, accountID string, kind models.DocumentKind, upload service.DocumentUpload) (*models.RequiredDocument, error)
	AdminUpload(ctx context.Context, enrollmentID string, kind models.DocumentKind, upload service.DocumentUpload) (*models.RequiredDocument, error)
	Remove(ctx context.Context, accountID, documentID string) error
	SetValidation(ctx context.Context, documentID, adminID string, approved bool, comment string) (*models.RequiredDocument, error)
	ListOwn(ctx context.Context, accountID string) (*service.DocumentChecklist, error)
	Checklist(ctx context.Context, enrollmentID string) (*service.DocumentChecklist, error)
	ListPending(ctx context.Context, filter models.PendingDocumentFilter) ([]models.PendingDocument, *models.Pagination, error)
	DownloadURL(ctx context.Context, documentID string, requester *models.JWTClaims) (*service.DocumentLink, error)
	Open(ctx context.Context, token string) (*service.DocumentDownload, error)
}

// DocumentHandler exposes required document uploads, review and downloads.
type DocumentHandler struct {
	documents documentService
}

// NewDocumentHandler constructs DocumentHandler.
func NewDocumentHandler(documents documentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Upload godoc
// @Summary Upload a required document
// @Description Replaces the previous file of the same kind
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param kind formData string true "Document kind"
// @Param file formData file true "PDF, JPEG or PNG file"
// @Success 201 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	kind, upload, closer, ok := bindUpload(c)
	if !ok {
		return
	}
	defer closer.Close()

	doc, err := h.documents.Upload(c.Request.Context(), claims.UserID, kind, upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// ListOwn godoc
// @Summary List own documents
// @Description Uploaded documents with the missing kinds and validation ratio
// @Tags Documents
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /documents [get]
func (h *DocumentHandler) ListOwn(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	checklist, err := h.documents.ListOwn(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, checklist, nil)
}

// Delete godoc
// @Summary Delete own document
// @Tags Documents
// @Security BearerAuth
// @Param id path string true "Document ID"
// @Success 204
// @Router /documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.documents.Remove(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Link godoc
// @Summary Signed download link
// @Tags Documents
// @Produce json
// @Security BearerAuth
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/link [get]
func (h *DocumentHandler) Link(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	link, err := h.documents.DownloadURL(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download a document
// @Description Streams the file behind a signed link
// @Tags Documents
// @Produce octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Router /documents/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "download token is required"))
		return
	}
	download, err := h.documents.Open(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.Content.Close()

	c.Header("Cache-Control", "private, no-store")
	c.DataFromReader(http.StatusOK, download.Size, download.ContentType, download.Content, map[string]string{
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", download.Filename),
	})
}

// AdminList godoc
// @Summary Documents of an enrollment
// @Tags Documents
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /admin/enrollments/{id}/documents [get]
func (h *DocumentHandler) AdminList(c *gin.Context) {
	checklist, err := h.documents.Checklist(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, checklist, nil)
}

// AdminUpload godoc
// @Summary Upload a document on behalf of a student
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Param kind formData string true "Document kind"
// @Param file formData file true "PDF, JPEG or PNG file"
// @Success 201 {object} response.Envelope
// @Router /admin/enrollments/{id}/documents [post]
func (h *DocumentHandler) AdminUpload(c *gin.Context) {
	kind, upload, closer, ok := bindUpload(c)
	if !ok {
		return
	}
	defer closer.Close()

	doc, err := h.documents.AdminUpload(c.Request.Context(), c.Param("id"), kind, upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// Pending godoc
// @Summary Document review queue
// @Tags Documents
// @Produce json
// @Security BearerAuth
// @Param kind query string false "Document kind"
// @Param program_id query string false "Program"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/documents/pending [get]
func (h *DocumentHandler) Pending(c *gin.Context) {
	var query dto.PendingDocumentQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "invalid query"))
		return
	}
	filter, err := query.ToFilter()
	if err != nil {
		response.Error(c, err)
		return
	}
	docs, pagination, err := h.documents.ListPending(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, pagination)
}

// SetValidation godoc
// @Summary Approve or reject a document
// @Tags Documents
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Document ID"
// @Param payload body dto.DocumentValidationRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Router /admin/documents/{id}/validation [patch]
func (h *DocumentHandler) SetValidation(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.DocumentValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid validation payload"))
		return
	}
	doc, err := h.documents.SetValidation(c.Request.Context(), c.Param("id"), claims.UserID, *req.Approved, req.Comment)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// bindUpload reads the multipart kind and file fields. The caller closes the file.
func bindUpload(c *gin.Context) (models.DocumentKind, service.DocumentUpload, multipart.File, bool) {
	kind := models.DocumentKind(c.PostForm("kind"))
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.WithField(appErrors.ErrValidation, "file", "file is required"))
		return "", service.DocumentUpload{}, nil, false
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read upload"))
		return "", service.DocumentUpload{}, nil, false
	}
	return kind, service.DocumentUpload{Filename: header.Filename, Size: header.Size, Content: file}, file, true
}
