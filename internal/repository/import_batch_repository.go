package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/iut-admissions-api/internal/models"
)

const importBatchColumns = `id, source_key, source_name, operator_id, total_rows, success_count, error_count, errors,
abort_reason, created_at, completed_at`

// ImportBatchRepository stores the audit trail of bulk imports.
type ImportBatchRepository struct {
	db *sqlx.DB
}

// NewImportBatchRepository constructs the repository.
func NewImportBatchRepository(db *sqlx.DB) *ImportBatchRepository {
	return &ImportBatchRepository{db: db}
}

// Create inserts an open batch. Counts stay at zero until Finalize.
func (r *ImportBatchRepository) Create(ctx context.Context, batch *models.ImportBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	batch.CreatedAt = time.Now().UTC()
	batch.CompletedAt = nil
	batch.Errors = models.ImportRowErrors{}

	query := `INSERT INTO import_batches (id, source_key, source_name, operator_id, errors, created_at)
VALUES (:id, :source_key, :source_name, :operator_id, :errors, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("create import batch: %w", err)
	}
	return nil
}

// Finalize writes the counts, errors and completion time exactly once.
func (r *ImportBatchRepository) Finalize(ctx context.Context, batch *models.ImportBatch) error {
	completed := time.Now().UTC()
	batch.CompletedAt = &completed

	query := `UPDATE import_batches SET total_rows = :total_rows, success_count = :success_count, error_count = :error_count,
errors = :errors, abort_reason = :abort_reason, completed_at = :completed_at
WHERE id = :id AND completed_at IS NULL`
	res, err := r.db.NamedExecContext(ctx, query, batch)
	if err != nil {
		return fmt.Errorf("finalize import batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize import batch rows affected: %w", err)
	}
	if affected == 0 {
		return ErrBatchFinalized
	}
	return nil
}

// FindByID loads a batch.
func (r *ImportBatchRepository) FindByID(ctx context.Context, id string) (*models.ImportBatch, error) {
	var batch models.ImportBatch
	query := `SELECT ` + importBatchColumns + ` FROM import_batches WHERE id = $1`
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// List returns batches, newest first.
func (r *ImportBatchRepository) List(ctx context.Context, page, size int) ([]models.ImportBatch, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM import_batches`); err != nil {
		return nil, 0, fmt.Errorf("count import batches: %w", err)
	}
	var batches []models.ImportBatch
	query := `SELECT ` + importBatchColumns + ` FROM import_batches ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &batches, query, pageArgs(page, size)...); err != nil {
		return nil, 0, fmt.Errorf("list import batches: %w", err)
	}
	return batches, total, nil
}
