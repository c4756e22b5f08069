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

const accountColumns = `id, username, email, password_hash, full_name, role, active, last_login, created_at, updated_at`

// UserRepository provides database access for accounts.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns an account by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	return &user, nil
}

// FindByUsername returns an account by its case-insensitive username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE LOWER(username) = LOWER($1) LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find account by username: %w", err)
	}
	return &user, nil
}

// FindByIdentifier matches a login identifier against username first, then email.
func (r *UserRepository) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
WHERE LOWER(username) = LOWER($1) OR LOWER(email) = LOWER($1)
ORDER BY (LOWER(username) = LOWER($1)) DESC, created_at ASC LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, identifier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find account by identifier: %w", err)
	}
	return &user, nil
}

// Create inserts a new account.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO accounts (id, username, email, password_hash, full_name, role, active, created_at, updated_at)
VALUES (:id, :username, :email, :password_hash, :full_name, :role, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create account: %w", translate(err))
	}
	return nil
}

// UpdateLastLogin updates the last_login timestamp for an account.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE accounts SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// Delete removes an account that owns no enrollment record.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// DeleteCascade removes an account together with its enrollment record. The
// record's seat is released when it still holds one, and its documents go with
// it. The returned file keys belong to the deleted documents; the caller
// removes them from storage once the transaction has committed.
func (r *UserRepository) DeleteCascade(ctx context.Context, accountID string) ([]string, error) {
	var keys []string
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var record models.EnrollmentRecord
		query := `SELECT ` + enrollmentColumns + ` FROM enrollment_records WHERE account_id = $1 FOR UPDATE`
		err := tx.GetContext(ctx, &record, query, accountID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("lock enrollment record: %w", err)
		default:
			if err := tx.SelectContext(ctx, &keys, `SELECT file_key FROM required_documents WHERE enrollment_id = $1`, record.ID); err != nil {
				return fmt.Errorf("collect document keys: %w", err)
			}
			if record.HoldsSeat() {
				if err := releaseSeat(ctx, tx, record.ProgramID); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM enrollment_records WHERE id = $1`, record.ID); err != nil {
				return fmt.Errorf("delete enrollment record: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
		if err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete account rows affected: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
