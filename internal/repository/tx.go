package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// withTx runs fn inside a read-committed transaction, rolling back on error or panic.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// Constraint names surfaced through UniqueViolation.
const (
	ConstraintProgramCode        = "programs_code_key"
	ConstraintEnrollmentAccount  = "enrollment_records_account_key"
	ConstraintNationalID         = "enrollment_records_national_id_key"
	ConstraintPersonalEmail      = "enrollment_records_personal_email_key"
	ConstraintRegistrationNumber = "enrollment_records_registration_number_key"
	ConstraintAccountUsername    = "accounts_username_key"
)

// UniqueViolation reports that a write collided with a unique index.
type UniqueViolation struct {
	Constraint string
	Err        error
}

func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("unique violation on %s", e.Constraint)
}

func (e *UniqueViolation) Unwrap() error { return e.Err }

// AsUniqueViolation extracts a UniqueViolation from err, if any.
func AsUniqueViolation(err error) (*UniqueViolation, bool) {
	var uv *UniqueViolation
	if errors.As(err, &uv) {
		return uv, true
	}
	return nil, false
}

// translate converts driver errors the services care about into typed errors.
func translate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case pqUniqueViolation:
		return &UniqueViolation{Constraint: pqErr.Constraint, Err: err}
	case pqForeignKeyViolation:
		return fmt.Errorf("%w: %s", ErrReferenced, pqErr.Constraint)
	}
	return err
}

var (
	// ErrProgramUnavailable is returned when a program is missing or not active.
	ErrProgramUnavailable = errors.New("program not found or not active")
	// ErrProgramFull is returned when the guarded occupancy increment finds no free seat.
	ErrProgramFull = errors.New("program has no remaining capacity")
	// ErrReferenced is returned when a row cannot be removed while other rows point at it.
	ErrReferenced = errors.New("row is still referenced")
	// ErrBatchFinalized is returned when an import batch has already been completed.
	ErrBatchFinalized = errors.New("import batch already finalized")
)
