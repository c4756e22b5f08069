package models

import "time"

// ImportRowError is one contained per-row failure. Line is the 1-based data row number.
type ImportRowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ImportBatch audits one run of the bulk import pipeline. Counts are written
// once, when CompletedAt is set.
type ImportBatch struct {
	ID           string          `db:"id" json:"id"`
	SourceKey    string          `db:"source_key" json:"-"`
	SourceName   string          `db:"source_name" json:"source_name"`
	OperatorID   string          `db:"operator_id" json:"operator_id"`
	TotalRows    int             `db:"total_rows" json:"total_rows"`
	SuccessCount int             `db:"success_count" json:"success_count"`
	ErrorCount   int             `db:"error_count" json:"error_count"`
	Errors       ImportRowErrors `db:"errors" json:"errors"`
	AbortReason  *string         `db:"abort_reason" json:"abort_reason,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// Aborted reports whether the batch stopped on a fatal source error.
func (b *ImportBatch) Aborted() bool {
	return b.AbortReason != nil
}
