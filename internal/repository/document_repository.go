package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/iut-admissions-api/internal/models"
)

const documentColumns = `id, enrollment_id, kind, file_key, original_name, content_type, size_bytes, uploaded_at,
validated, validator_id, reviewed_at, comment`

// DocumentRepository persists the required document slots of enrollment records.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// UpsertResult describes what an upload replaced.
type UpsertResult struct {
	// PreviousKey is the storage key of the replaced file, empty for a first upload.
	PreviousKey string
	// Reopened is true when the upload moved a rejected record back to pending.
	Reopened bool
}

// Upsert stores doc in its (enrollment, kind) slot. The enrollment row and any
// existing slot are locked first; a replaced slot loses its review state. With
// reopenRejected, a rejected enrollment returns to pending in the same
// transaction. A missing enrollment yields sql.ErrNoRows.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *models.RequiredDocument, reopenRejected bool) (UpsertResult, error) {
	var result UpsertResult
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}

	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var status models.ValidationStatus
		if err := tx.GetContext(ctx, &status, `SELECT validation_status FROM enrollment_records WHERE id = $1 FOR UPDATE`, doc.EnrollmentID); err != nil {
			return err
		}

		var previous string
		err := tx.GetContext(ctx, &previous,
			`SELECT file_key FROM required_documents WHERE enrollment_id = $1 AND kind = $2 FOR UPDATE`, doc.EnrollmentID, doc.Kind)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lock document slot: %w", err)
		}
		result.PreviousKey = previous

		upsert := `INSERT INTO required_documents (id, enrollment_id, kind, file_key, original_name, content_type, size_bytes, uploaded_at, validated, comment)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, '')
ON CONFLICT (enrollment_id, kind) DO UPDATE SET file_key = EXCLUDED.file_key, original_name = EXCLUDED.original_name,
content_type = EXCLUDED.content_type, size_bytes = EXCLUDED.size_bytes, uploaded_at = EXCLUDED.uploaded_at,
validated = FALSE, validator_id = NULL, reviewed_at = NULL, comment = ''
RETURNING id`
		var id string
		if err := tx.GetContext(ctx, &id, upsert, doc.ID, doc.EnrollmentID, doc.Kind, doc.FileKey, doc.OriginalName,
			doc.ContentType, doc.SizeBytes, doc.UploadedAt); err != nil {
			return fmt.Errorf("upsert document: %w", err)
		}
		doc.ID = id
		doc.Validated = false
		doc.ValidatorID = nil
		doc.ReviewedAt = nil
		doc.Comment = ""

		if reopenRejected && status == models.ValidationRejected {
			reopen := `UPDATE enrollment_records SET validation_status = 'pending', validated_at = NULL, validated_by = NULL,
updated_at = NOW() WHERE id = $1`
			if _, err := tx.ExecContext(ctx, reopen, doc.EnrollmentID); err != nil {
				return fmt.Errorf("reopen rejected enrollment: %w", err)
			}
			result.Reopened = true
		}
		return nil
	})
	return result, err
}

// FindByID loads a document.
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*models.RequiredDocument, error) {
	var doc models.RequiredDocument
	query := `SELECT ` + documentColumns + ` FROM required_documents WHERE id = $1`
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListByEnrollment returns every uploaded document of a record.
func (r *DocumentRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.RequiredDocument, error) {
	var docs []models.RequiredDocument
	query := `SELECT ` + documentColumns + ` FROM required_documents WHERE enrollment_id = $1 ORDER BY uploaded_at ASC`
	if err := r.db.SelectContext(ctx, &docs, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Delete removes a document belonging to enrollmentID and returns its storage key.
func (r *DocumentRepository) Delete(ctx context.Context, id, enrollmentID string) (string, error) {
	var key string
	query := `DELETE FROM required_documents WHERE id = $1 AND enrollment_id = $2 RETURNING file_key`
	if err := r.db.GetContext(ctx, &key, query, id, enrollmentID); err != nil {
		return "", err
	}
	return key, nil
}

// SetValidation locks the slot, applies fn and writes the review fields back.
func (r *DocumentRepository) SetValidation(ctx context.Context, id string, fn func(*models.RequiredDocument) error) (*models.RequiredDocument, error) {
	var doc models.RequiredDocument
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := `SELECT ` + documentColumns + ` FROM required_documents WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &doc, query, id); err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		update := `UPDATE required_documents SET validated = $2, validator_id = $3, reviewed_at = $4, comment = $5 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, doc.ID, doc.Validated, doc.ValidatorID, doc.ReviewedAt, doc.Comment); err != nil {
			return fmt.Errorf("update document validation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// CountByStatus counts uploaded documents by review state.
func (r *DocumentRepository) CountByStatus(ctx context.Context) (models.DocumentCounts, error) {
	var counts models.DocumentCounts
	query := `SELECT COUNT(*) FILTER (WHERE NOT validated) AS pending, COUNT(*) FILTER (WHERE validated) AS validated FROM required_documents`
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return counts, fmt.Errorf("count documents: %w", err)
	}
	return counts, nil
}

// ListPending returns not-yet-validated documents, oldest upload first.
func (r *DocumentRepository) ListPending(ctx context.Context, filter models.PendingDocumentFilter) ([]models.PendingDocument, int, error) {
	where := `d.validated = FALSE`
	args := []interface{}{}
	if filter.Kind != nil {
		args = append(args, *filter.Kind)
		where += fmt.Sprintf(" AND d.kind = $%d", len(args))
	}
	if filter.ProgramID != "" {
		args = append(args, filter.ProgramID)
		where += fmt.Sprintf(" AND e.program_id = $%d", len(args))
	}
	from := ` FROM required_documents d
JOIN enrollment_records e ON e.id = d.enrollment_id
JOIN programs p ON p.id = e.program_id
WHERE ` + where

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*)`+from, args...); err != nil {
		return nil, 0, fmt.Errorf("count pending documents: %w", err)
	}

	args = append(args, pageArgs(filter.Page, filter.PageSize)...)
	query := fmt.Sprintf(`SELECT %s, e.registration_number, TRIM(e.last_name || ' ' || e.first_names) AS student_name,
e.program_id, p.code AS program_code%s ORDER BY d.uploaded_at ASC LIMIT $%d OFFSET $%d`,
		prefixColumns("d", documentColumns), from, len(args)-1, len(args))

	var docs []models.PendingDocument
	if err := r.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list pending documents: %w", err)
	}
	return docs, total, nil
}
