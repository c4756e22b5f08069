package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iut-admissions-api/internal/models"
)

func TestImportBatchFinalizeOnce(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewImportBatchRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("AND completed_at IS NULL")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("AND completed_at IS NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	batch := &models.ImportBatch{ID: "b1", TotalRows: 10, SuccessCount: 8, ErrorCount: 2,
		Errors: models.ImportRowErrors{{Line: 3, Message: "unknown program code XX"}, {Line: 7, Message: "unknown program code YY"}}}
	require.NoError(t, repo.Finalize(context.Background(), batch))
	assert.NotNil(t, batch.CompletedAt)

	err := repo.Finalize(context.Background(), batch)
	assert.True(t, errors.Is(err, ErrBatchFinalized))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestImportBatchFindByIDDecodesErrors(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewImportBatchRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "source_key", "source_name", "operator_id", "total_rows", "success_count",
		"error_count", "errors", "abort_reason", "created_at", "completed_at"}).
		AddRow("b1", "imports/x.csv", "x.csv", "admin", 2, 1, 1, []byte(`[{"line":2,"message":"bad"}]`), nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM import_batches WHERE id = $1")).
		WithArgs("b1").
		WillReturnRows(rows)

	batch, err := repo.FindByID(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, batch.Errors, 1)
	assert.Equal(t, 2, batch.Errors[0].Line)
	assert.False(t, batch.Aborted())
	assert.NoError(t, mock.ExpectationsWereMet())
}
