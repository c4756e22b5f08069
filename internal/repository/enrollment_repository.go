package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/iut-admissions-api/internal/models"
)

const enrollmentColumns = `id, account_id, program_id, last_name, first_names, birth_date, birth_place, nationality,
region_of_origin, national_id, phone, personal_email, address, father_name, father_phone, mother_name,
mother_phone, diploma, diploma_year, registration_number, registration_status, validation_status,
validated_at, validated_by, rejection_reason, created_at, updated_at`

// RegistrationNumberSpec tells the repository how to render the number it issues.
type RegistrationNumberSpec struct {
	Prefix string
	Year   int
}

// EnrollmentRepository persists enrollment records. Every write that touches
// program occupancy or the registration counter runs in one transaction with
// the record write.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create reserves a seat in the program, takes the next per-year sequence from
// registration_counters and inserts the record, atomically. On success the
// record carries its registration number.
func (r *EnrollmentRepository) Create(ctx context.Context, record *models.EnrollmentRecord, spec RegistrationNumberSpec, enforceCapacity bool) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := reserveSeat(ctx, tx, record.ProgramID, enforceCapacity); err != nil {
			return err
		}

		var seq int
		counterQuery := `INSERT INTO registration_counters (year, last_seq) VALUES ($1, 1)
ON CONFLICT (year) DO UPDATE SET last_seq = registration_counters.last_seq + 1 RETURNING last_seq`
		if err := tx.GetContext(ctx, &seq, counterQuery, spec.Year); err != nil {
			return fmt.Errorf("next registration sequence: %w", err)
		}
		record.RegistrationNumber = models.FormatRegistrationNumber(spec.Prefix, spec.Year, seq)

		insert := `INSERT INTO enrollment_records (` + enrollmentColumns + `) VALUES (
:id, :account_id, :program_id, :last_name, :first_names, :birth_date, :birth_place, :nationality,
:region_of_origin, :national_id, :phone, :personal_email, :address, :father_name, :father_phone, :mother_name,
:mother_phone, :diploma, :diploma_year, :registration_number, :registration_status, :validation_status,
:validated_at, :validated_by, :rejection_reason, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insert, record); err != nil {
			return fmt.Errorf("insert enrollment record: %w", translate(err))
		}
		return nil
	})
}

// reserveSeat increments occupancy of an active program, guarded by capacity when enforced.
func reserveSeat(ctx context.Context, tx *sqlx.Tx, programID string, enforceCapacity bool) error {
	query := `UPDATE programs SET occupancy = occupancy + 1, updated_at = NOW() WHERE id = $1 AND status = 'active'`
	if enforceCapacity {
		query += ` AND occupancy < capacity`
	}
	res, err := tx.ExecContext(ctx, query, programID)
	if err != nil {
		return fmt.Errorf("reserve program seat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve program seat rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var status models.ProgramStatus
	if err := tx.GetContext(ctx, &status, `SELECT status FROM programs WHERE id = $1`, programID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProgramUnavailable
		}
		return fmt.Errorf("load program status: %w", err)
	}
	if status != models.ProgramActive {
		return ErrProgramUnavailable
	}
	return ErrProgramFull
}

func releaseSeat(ctx context.Context, tx *sqlx.Tx, programID string) error {
	query := `UPDATE programs SET occupancy = GREATEST(occupancy - 1, 0), updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, programID); err != nil {
		return fmt.Errorf("release program seat: %w", err)
	}
	return nil
}

// FindByID loads a record.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentRecord, error) {
	var record models.EnrollmentRecord
	query := `SELECT ` + enrollmentColumns + ` FROM enrollment_records WHERE id = $1`
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByAccount loads the record owned by an account.
func (r *EnrollmentRepository) FindByAccount(ctx context.Context, accountID string) (*models.EnrollmentRecord, error) {
	var record models.EnrollmentRecord
	query := `SELECT ` + enrollmentColumns + ` FROM enrollment_records WHERE account_id = $1`
	if err := r.db.GetContext(ctx, &record, query, accountID); err != nil {
		return nil, err
	}
	return &record, nil
}

// ExistsByNationalID checks national ID uniqueness, ignoring excludeID when set.
func (r *EnrollmentRepository) ExistsByNationalID(ctx context.Context, nationalID, excludeID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM enrollment_records WHERE national_id = $1 AND ($2 = '' OR id::text <> $2))`
	if err := r.db.GetContext(ctx, &exists, query, nationalID, excludeID); err != nil {
		return false, fmt.Errorf("check national id: %w", err)
	}
	return exists, nil
}

// ExistsByPersonalEmail checks personal email uniqueness, ignoring excludeID when set.
func (r *EnrollmentRepository) ExistsByPersonalEmail(ctx context.Context, email, excludeID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM enrollment_records WHERE LOWER(personal_email) = LOWER($1) AND ($2 = '' OR id::text <> $2))`
	if err := r.db.GetContext(ctx, &exists, query, email, excludeID); err != nil {
		return false, fmt.Errorf("check personal email: %w", err)
	}
	return exists, nil
}

// Mutate locks the record row, applies fn and persists the result. Program
// occupancy follows the record: a program change or a cancellation moves or
// releases the seat in the same transaction.
func (r *EnrollmentRepository) Mutate(ctx context.Context, id string, enforceCapacity bool, fn func(*models.EnrollmentRecord) error) (*models.EnrollmentRecord, error) {
	var updated models.EnrollmentRecord
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var current models.EnrollmentRecord
		query := `SELECT ` + enrollmentColumns + ` FROM enrollment_records WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &current, query, id); err != nil {
			return err
		}

		updated = current
		if err := fn(&updated); err != nil {
			return err
		}
		updated.ID = current.ID
		updated.AccountID = current.AccountID
		updated.RegistrationNumber = current.RegistrationNumber
		updated.CreatedAt = current.CreatedAt
		updated.UpdatedAt = time.Now().UTC()

		if err := moveSeat(ctx, tx, &current, &updated, enforceCapacity); err != nil {
			return err
		}

		update := `UPDATE enrollment_records SET program_id = :program_id, last_name = :last_name, first_names = :first_names,
birth_date = :birth_date, birth_place = :birth_place, nationality = :nationality, region_of_origin = :region_of_origin,
national_id = :national_id, phone = :phone, personal_email = :personal_email, address = :address,
father_name = :father_name, father_phone = :father_phone, mother_name = :mother_name, mother_phone = :mother_phone,
diploma = :diploma, diploma_year = :diploma_year, registration_status = :registration_status,
validation_status = :validation_status, validated_at = :validated_at, validated_by = :validated_by,
rejection_reason = :rejection_reason, updated_at = :updated_at
WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, update, &updated); err != nil {
			return fmt.Errorf("update enrollment record: %w", translate(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func moveSeat(ctx context.Context, tx *sqlx.Tx, before, after *models.EnrollmentRecord, enforceCapacity bool) error {
	heldBefore, holdsAfter := before.HoldsSeat(), after.HoldsSeat()
	switch {
	case heldBefore && holdsAfter && before.ProgramID != after.ProgramID:
		if err := reserveSeat(ctx, tx, after.ProgramID, enforceCapacity); err != nil {
			return err
		}
		return releaseSeat(ctx, tx, before.ProgramID)
	case heldBefore && !holdsAfter:
		return releaseSeat(ctx, tx, before.ProgramID)
	case !heldBefore && holdsAfter:
		return reserveSeat(ctx, tx, after.ProgramID, enforceCapacity)
	}
	return nil
}

// List returns a filtered, paginated list of records joined with their program.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	if filter.ProgramID != "" {
		args = append(args, filter.ProgramID)
		conditions = append(conditions, fmt.Sprintf("e.program_id = $%d", len(args)))
	}
	if filter.RegistrationStatus != nil {
		args = append(args, *filter.RegistrationStatus)
		conditions = append(conditions, fmt.Sprintf("e.registration_status = $%d", len(args)))
	}
	if filter.ValidationStatus != nil {
		args = append(args, *filter.ValidationStatus)
		conditions = append(conditions, fmt.Sprintf("e.validation_status = $%d", len(args)))
	}
	if filter.Year > 0 {
		args = append(args, filter.Year)
		conditions = append(conditions, fmt.Sprintf("EXTRACT(YEAR FROM e.created_at) = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		conditions = append(conditions, fmt.Sprintf(
			"(LOWER(e.last_name) LIKE $%[1]d OR LOWER(e.first_names) LIKE $%[1]d OR LOWER(e.registration_number) LIKE $%[1]d OR LOWER(e.national_id) LIKE $%[1]d)",
			len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM enrollment_records e WHERE `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollment records: %w", err)
	}

	args = append(args, pageArgs(filter.Page, filter.PageSize)...)
	query := fmt.Sprintf(`SELECT %s, p.code AS program_code, p.name AS program_name
FROM enrollment_records e JOIN programs p ON p.id = e.program_id
WHERE %s ORDER BY e.created_at DESC, e.registration_number DESC LIMIT $%d OFFSET $%d`,
		prefixColumns("e", enrollmentColumns), where, len(args)-1, len(args))

	var items []models.EnrollmentListItem
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollment records: %w", err)
	}
	return items, total, nil
}

// CountByProgram returns how many records reference a program.
func (r *EnrollmentRepository) CountByProgram(ctx context.Context, programID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM enrollment_records WHERE program_id = $1`, programID); err != nil {
		return 0, fmt.Errorf("count program enrollments: %w", err)
	}
	return count, nil
}

// CountByValidationStatus aggregates records per validation status.
func (r *EnrollmentRepository) CountByValidationStatus(ctx context.Context) (models.ValidationStatusCounts, error) {
	var counts models.ValidationStatusCounts
	query := `SELECT
COUNT(*) FILTER (WHERE validation_status = 'pending') AS pending,
COUNT(*) FILTER (WHERE validation_status = 'validated') AS validated,
COUNT(*) FILTER (WHERE validation_status = 'rejected') AS rejected
FROM enrollment_records`
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return counts, fmt.Errorf("count enrollment statuses: %w", err)
	}
	return counts, nil
}

func pageArgs(page, size int) []interface{} {
	page, size = models.NormalizePage(page, size)
	return []interface{}{size, (page - 1) * size}
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}
