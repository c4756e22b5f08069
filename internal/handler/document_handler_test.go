package handler

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	"github.com/noah-isme/iut-admissions-api/internal/service"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

type fakeDocuments struct {
	uploadedKind  models.DocumentKind
	uploadedName  string
	uploadedBytes string
	approved      *bool
	comment       string
	pendingFilter models.PendingDocumentFilter
	openedToken   string
}

func (f *fakeDocuments) Upload(_ context.Context, _ string, kind models.DocumentKind, upload service.DocumentUpload) (*models.RequiredDocument, error) {
	data, err := io.ReadAll(upload.Content)
	if err != nil {
		return nil, err
	}
	f.uploadedKind, f.uploadedName, f.uploadedBytes = kind, upload.Filename, string(data)
	return &models.RequiredDocument{ID: "doc-1", Kind: kind}, nil
}

func (f *fakeDocuments) AdminUpload(ctx context.Context, _ string, kind models.DocumentKind, upload service.DocumentUpload) (*models.RequiredDocument, error) {
	return f.Upload(ctx, "", kind, upload)
}

func (f *fakeDocuments) Remove(context.Context, string, string) error { return nil }

func (f *fakeDocuments) SetValidation(_ context.Context, id, _ string, approved bool, comment string) (*models.RequiredDocument, error) {
	f.approved, f.comment = &approved, comment
	return &models.RequiredDocument{ID: id, Validated: approved, Comment: comment}, nil
}

func (f *fakeDocuments) ListOwn(context.Context, string) (*service.DocumentChecklist, error) {
	return &service.DocumentChecklist{}, nil
}

func (f *fakeDocuments) Checklist(context.Context, string) (*service.DocumentChecklist, error) {
	return &service.DocumentChecklist{}, nil
}

func (f *fakeDocuments) ListPending(_ context.Context, filter models.PendingDocumentFilter) ([]models.PendingDocument, *models.Pagination, error) {
	f.pendingFilter = filter
	return []models.PendingDocument{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (f *fakeDocuments) DownloadURL(context.Context, string, *models.JWTClaims) (*service.DocumentLink, error) {
	return &service.DocumentLink{URL: "/api/v1/documents/download?token=t"}, nil
}

func (f *fakeDocuments) Open(_ context.Context, token string) (*service.DocumentDownload, error) {
	f.openedToken = token
	if token != "valid" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid download token")
	}
	return &service.DocumentDownload{
		Content:     io.NopCloser(strings.NewReader("%PDF-1.4")),
		Filename:    "cni.pdf",
		ContentType: "application/pdf",
		Size:        8,
	}, nil
}

func TestDocumentHandlerUploadReadsMultipart(t *testing.T) {
	fake := &fakeDocuments{}
	h := NewDocumentHandler(fake)
	body, contentType := multipartBody(t, map[string]string{"kind": "national_id"}, "cni.pdf", []byte("%PDF-1.4 body"))

	c, rec := testContext(http.MethodPost, "/api/v1/documents", nil, studentClaims())
	c.Request, _ = http.NewRequest(http.MethodPost, "/api/v1/documents", body)
	c.Request.Header.Set("Content-Type", contentType)
	h.Upload(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, models.DocumentKind("national_id"), fake.uploadedKind)
	assert.Equal(t, "cni.pdf", fake.uploadedName)
	assert.Equal(t, "%PDF-1.4 body", fake.uploadedBytes)
}

func TestDocumentHandlerUploadRequiresFile(t *testing.T) {
	h := NewDocumentHandler(&fakeDocuments{})
	body, contentType := multipartBody(t, map[string]string{"kind": "photo"}, "", nil)

	c, rec := testContext(http.MethodPost, "/api/v1/documents", nil, studentClaims())
	c.Request, _ = http.NewRequest(http.MethodPost, "/api/v1/documents", body)
	c.Request.Header.Set("Content-Type", contentType)
	h.Upload(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "file", decode(t, rec).Error.Field)
}

func TestDocumentHandlerDownload(t *testing.T) {
	fake := &fakeDocuments{}
	h := NewDocumentHandler(fake)

	c, rec := testContext(http.MethodGet, "/api/v1/documents/download?token=valid", nil, nil)
	h.Download(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="cni.pdf"`)

	fake.openedToken = ""
	c, rec = testContext(http.MethodGet, "/api/v1/documents/download", nil, nil)
	h.Download(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, fake.openedToken, "missing token never reaches the service")

	c, rec = testContext(http.MethodGet, "/api/v1/documents/download?token=forged", nil, nil)
	h.Download(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDocumentHandlerReview(t *testing.T) {
	fake := &fakeDocuments{}
	h := NewDocumentHandler(fake)

	c, rec := testContext(http.MethodPatch, "/api/v1/admin/documents/doc-1/validation", strings.NewReader(`{"comment":"flou"}`), adminClaims())
	h.SetValidation(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "approved is required")

	c, rec = testContext(http.MethodPatch, "/api/v1/admin/documents/doc-1/validation", strings.NewReader(`{"approved":false,"comment":"flou"}`), adminClaims())
	h.SetValidation(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, fake.approved)
	assert.False(t, *fake.approved)
	assert.Equal(t, "flou", fake.comment)

	c, rec = testContext(http.MethodGet, "/api/v1/admin/documents/pending?kind=photo&program_id=prog-1", nil, adminClaims())
	h.Pending(c)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, fake.pendingFilter.Kind)
	assert.Equal(t, models.DocumentKind("photo"), *fake.pendingFilter.Kind)
	assert.Equal(t, "prog-1", fake.pendingFilter.ProgramID)

	c, rec = testContext(http.MethodGet, "/api/v1/admin/documents/pending?kind=passport", nil, adminClaims())
	h.Pending(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
