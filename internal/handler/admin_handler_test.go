package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	"github.com/noah-isme/iut-admissions-api/internal/service"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

type fakeDashboard struct {
	adminID, sessionID string
}

func (f *fakeDashboard) Dashboard(_ context.Context, adminID, sessionID string) (*models.AdminDashboard, error) {
	f.adminID, f.sessionID = adminID, sessionID
	return &models.AdminDashboard{ReminderSent: true, PendingThreshold: 10}, nil
}

type fakeImports struct {
	operator string
	content  string
	abort    bool
}

func (f *fakeImports) ImportBatch(_ context.Context, upload service.ImportUpload, operatorID string) (*models.ImportBatch, error) {
	data, _ := io.ReadAll(upload.Content)
	f.operator, f.content = operatorID, string(data)
	batch := &models.ImportBatch{ID: "batch-1", SourceName: upload.Filename, TotalRows: 2, SuccessCount: 2}
	if f.abort {
		reason := "missing required columns: national_id"
		batch.AbortReason = &reason
		return batch, appErrors.Clone(appErrors.ErrImportAborted, "import aborted: "+reason)
	}
	return batch, nil
}

func (f *fakeImports) ListBatches(context.Context, int, int) ([]models.ImportBatch, *models.Pagination, error) {
	return []models.ImportBatch{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (f *fakeImports) GetBatch(_ context.Context, id string) (*models.ImportBatch, error) {
	if id != "batch-1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "import batch not found")
	}
	return &models.ImportBatch{ID: id}, nil
}

type fakeRemover struct {
	deleted []string
}

func (f *fakeRemover) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestAdminHandlerDashboardPassesSession(t *testing.T) {
	dashboard := &fakeDashboard{}
	h := NewAdminHandler(dashboard, &fakeImports{}, &fakeRemover{})

	c, rec := testContext(http.MethodGet, "/api/v1/admin/dashboard", nil, adminClaims())
	h.Dashboard(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin-1", dashboard.adminID)
	assert.Equal(t, "session-1", dashboard.sessionID)
}

func TestAdminHandlerCreateImport(t *testing.T) {
	imports := &fakeImports{}
	h := NewAdminHandler(&fakeDashboard{}, imports, &fakeRemover{})
	body, contentType := multipartBody(t, nil, "students.csv", []byte("nom;prenoms\n"))

	c, rec := testContext(http.MethodPost, "/api/v1/admin/imports", nil, adminClaims())
	c.Request, _ = http.NewRequest(http.MethodPost, "/api/v1/admin/imports", body)
	c.Request.Header.Set("Content-Type", contentType)
	h.CreateImport(c)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "admin-1", imports.operator)
	assert.Equal(t, "nom;prenoms\n", imports.content)
}

func TestAdminHandlerAbortedImportKeepsBatch(t *testing.T) {
	h := NewAdminHandler(&fakeDashboard{}, &fakeImports{abort: true}, &fakeRemover{})
	body, contentType := multipartBody(t, nil, "students.csv", []byte("nom\n"))

	c, rec := testContext(http.MethodPost, "/api/v1/admin/imports", nil, adminClaims())
	c.Request, _ = http.NewRequest(http.MethodPost, "/api/v1/admin/imports", body)
	c.Request.Header.Set("Content-Type", contentType)
	h.CreateImport(c)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decode(t, rec)
	require.NotNil(t, env.Error)
	assert.Equal(t, appErrors.ErrImportAborted.Code, env.Error.Code)

	var batch models.ImportBatch
	require.NoError(t, json.Unmarshal(env.Data, &batch))
	assert.Equal(t, "batch-1", batch.ID)
	require.NotNil(t, batch.AbortReason)
}

func TestAdminHandlerCreateImportRequiresFile(t *testing.T) {
	h := NewAdminHandler(&fakeDashboard{}, &fakeImports{}, &fakeRemover{})
	body, contentType := multipartBody(t, map[string]string{"note": "x"}, "", nil)

	c, rec := testContext(http.MethodPost, "/api/v1/admin/imports", nil, adminClaims())
	c.Request, _ = http.NewRequest(http.MethodPost, "/api/v1/admin/imports", body)
	c.Request.Header.Set("Content-Type", contentType)
	h.CreateImport(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminHandlerGetImportNotFound(t *testing.T) {
	h := NewAdminHandler(&fakeDashboard{}, &fakeImports{}, &fakeRemover{})

	c, rec := testContext(http.MethodGet, "/api/v1/admin/imports/missing", nil, adminClaims())
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	h.GetImport(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminHandlerDeleteAccount(t *testing.T) {
	remover := &fakeRemover{}
	h := NewAdminHandler(&fakeDashboard{}, &fakeImports{}, remover)

	c, rec := testContext(http.MethodDelete, "/api/v1/admin/accounts/admin-1", nil, adminClaims())
	c.Params = gin.Params{{Key: "id", Value: "admin-1"}}
	h.DeleteAccount(c)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, remover.deleted)

	c, rec = testContext(http.MethodDelete, "/api/v1/admin/accounts/stu-1", nil, adminClaims())
	c.Params = gin.Params{{Key: "id", Value: "stu-1"}}
	h.DeleteAccount(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, []string{"stu-1"}, remover.deleted)
}
