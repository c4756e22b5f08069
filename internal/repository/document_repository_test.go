package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iut-admissions-api/internal/models"
)

var documentRowColumns = []string{"id", "enrollment_id", "kind", "file_key", "original_name", "content_type", "size_bytes",
	"uploaded_at", "validated", "validator_id", "reviewed_at", "comment"}

func TestDocumentUpsertReplacesSlotAndReopens(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT validation_status FROM enrollment_records WHERE id = $1 FOR UPDATE")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows([]string{"validation_status"}).AddRow("rejected"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT file_key FROM required_documents WHERE enrollment_id = $1 AND kind = $2 FOR UPDATE")).
		WithArgs("e1", models.DocumentDiploma).
		WillReturnRows(sqlmock.NewRows([]string{"file_key"}).AddRow("documents/old.pdf"))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (enrollment_id, kind) DO UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("existing-doc"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_records SET validation_status = 'pending'")).
		WithArgs("e1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	doc := &models.RequiredDocument{EnrollmentID: "e1", Kind: models.DocumentDiploma, FileKey: "documents/new.pdf", Validated: true, Comment: "old"}
	result, err := repo.Upsert(context.Background(), doc, true)
	require.NoError(t, err)
	assert.Equal(t, "documents/old.pdf", result.PreviousKey)
	assert.True(t, result.Reopened)
	assert.Equal(t, "existing-doc", doc.ID)
	assert.False(t, doc.Validated)
	assert.Empty(t, doc.Comment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentUpsertFirstUploadPendingRecord(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_records WHERE id = $1 FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"validation_status"}).AddRow("pending"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT file_key FROM required_documents")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO required_documents")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d1"))
	mock.ExpectCommit()

	result, err := repo.Upsert(context.Background(), &models.RequiredDocument{ID: "d1", EnrollmentID: "e1", Kind: models.DocumentPhoto}, true)
	require.NoError(t, err)
	assert.Empty(t, result.PreviousKey)
	assert.False(t, result.Reopened)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentUpsertMissingEnrollment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_records WHERE id = $1 FOR UPDATE")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Upsert(context.Background(), &models.RequiredDocument{EnrollmentID: "missing", Kind: models.DocumentPhoto}, false)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentSetValidation(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM required_documents WHERE id = $1 FOR UPDATE")).
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows(documentRowColumns).
			AddRow("d1", "e1", "photo", "documents/p.png", "p.png", "image/png", 120, now, false, nil, nil, ""))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE required_documents SET validated = $2")).
		WithArgs("d1", true, sqlmock.AnyArg(), sqlmock.AnyArg(), "ok").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	admin := "admin-1"
	doc, err := repo.SetValidation(context.Background(), "d1", func(d *models.RequiredDocument) error {
		d.Validated = true
		d.ValidatorID = &admin
		d.ReviewedAt = &now
		d.Comment = "ok"
		return nil
	})
	require.NoError(t, err)
	assert.True(t, doc.Validated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentDeleteScopedToEnrollment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM required_documents WHERE id = $1 AND enrollment_id = $2 RETURNING file_key")).
		WithArgs("d1", "other").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Delete(context.Background(), "d1", "other")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentListPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDocumentRepository(db)

	kind := models.DocumentTranscript
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM required_documents d")).
		WithArgs(kind, "p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	now := time.Now()
	columns := append(append([]string{}, documentRowColumns...), "registration_number", "student_name", "program_id", "program_code")
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY d.uploaded_at ASC LIMIT $3 OFFSET $4")).
		WithArgs(kind, "p1", 20, 0).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("d1", "e1", "transcript", "k", "t.pdf", "application/pdf", 10, now, false, nil, nil, "",
				"IUTESSA-2025-0001", "DOE John", "p1", "GI"))

	docs, total, err := repo.ListPending(context.Background(), models.PendingDocumentFilter{Kind: &kind, ProgramID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, "DOE John", docs[0].StudentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
