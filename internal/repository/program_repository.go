package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/iut-admissions-api/internal/models"
)

const programColumns = `id, code, name, description, capacity, occupancy, eligibility, status, created_at, updated_at`

// ProgramRepository persists programs (filières).
type ProgramRepository struct {
	db *sqlx.DB
}

// NewProgramRepository constructs the repository.
func NewProgramRepository(db *sqlx.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

// FindByID loads a program.
func (r *ProgramRepository) FindByID(ctx context.Context, id string) (*models.Program, error) {
	var program models.Program
	query := `SELECT ` + programColumns + ` FROM programs WHERE id = $1`
	if err := r.db.GetContext(ctx, &program, query, id); err != nil {
		return nil, err
	}
	return &program, nil
}

// FindByCode loads a program by its case-insensitive code.
func (r *ProgramRepository) FindByCode(ctx context.Context, code string) (*models.Program, error) {
	var program models.Program
	query := `SELECT ` + programColumns + ` FROM programs WHERE UPPER(code) = UPPER($1)`
	if err := r.db.GetContext(ctx, &program, query, code); err != nil {
		return nil, err
	}
	return &program, nil
}

// ExistsByCode checks code uniqueness, ignoring excludeID when set.
func (r *ProgramRepository) ExistsByCode(ctx context.Context, code, excludeID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM programs WHERE UPPER(code) = UPPER($1) AND ($2 = '' OR id::text <> $2))`
	if err := r.db.GetContext(ctx, &exists, query, code, excludeID); err != nil {
		return false, fmt.Errorf("check program code: %w", err)
	}
	return exists, nil
}

// ListActive returns programs open for enrollment, ordered by name.
func (r *ProgramRepository) ListActive(ctx context.Context) ([]models.Program, error) {
	var programs []models.Program
	query := `SELECT ` + programColumns + ` FROM programs WHERE status = 'active' ORDER BY name ASC`
	if err := r.db.SelectContext(ctx, &programs, query); err != nil {
		return nil, fmt.Errorf("list active programs: %w", err)
	}
	return programs, nil
}

// List returns a filtered, paginated program list and the total count.
func (r *ProgramRepository) List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, int, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Eligibility != nil {
		args = append(args, *filter.Eligibility)
		conditions = append(conditions, fmt.Sprintf("eligibility = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(code) LIKE $%d)", len(args), len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM programs WHERE `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count programs: %w", err)
	}

	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf(`SELECT %s FROM programs WHERE %s ORDER BY name ASC LIMIT $%d OFFSET $%d`,
		programColumns, where, len(args)-1, len(args))

	var programs []models.Program
	if err := r.db.SelectContext(ctx, &programs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list programs: %w", err)
	}
	return programs, total, nil
}

// Create inserts a new program.
func (r *ProgramRepository) Create(ctx context.Context, program *models.Program) error {
	if program.ID == "" {
		program.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	program.CreatedAt = now
	program.UpdatedAt = now

	query := `INSERT INTO programs (id, code, name, description, capacity, occupancy, eligibility, status, created_at, updated_at)
VALUES (:id, :code, :name, :description, :capacity, :occupancy, :eligibility, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, program); err != nil {
		return fmt.Errorf("insert program: %w", translate(err))
	}
	return nil
}

// Update writes the editable program fields. Occupancy is owned by enrollment
// writes and is never overwritten here.
func (r *ProgramRepository) Update(ctx context.Context, program *models.Program) error {
	program.UpdatedAt = time.Now().UTC()
	query := `UPDATE programs SET code = :code, name = :name, description = :description, capacity = :capacity,
eligibility = :eligibility, status = :status, updated_at = :updated_at
WHERE id = :id AND occupancy <= :capacity`
	res, err := r.db.NamedExecContext(ctx, query, program)
	if err != nil {
		return fmt.Errorf("update program: %w", translate(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update program rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a program. The foreign key refuses deletion while records reference it.
func (r *ProgramRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM programs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete program: %w", translate(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete program rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountActive returns the number of active programs.
func (r *ProgramRepository) CountActive(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM programs WHERE status = 'active'`); err != nil {
		return 0, fmt.Errorf("count active programs: %w", err)
	}
	return count, nil
}

// ListByLoad returns active programs ordered by occupancy rate, fullest first.
func (r *ProgramRepository) ListByLoad(ctx context.Context, limit int) ([]models.ProgramLoad, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `SELECT id, code, name, capacity, occupancy FROM programs WHERE status = 'active'
ORDER BY occupancy::float / GREATEST(capacity, 1) DESC, name ASC LIMIT $1`
	var loads []models.ProgramLoad
	if err := r.db.SelectContext(ctx, &loads, query, limit); err != nil {
		return nil, fmt.Errorf("list program load: %w", err)
	}
	for i := range loads {
		loads[i].OccupancyRate = models.OccupancyRate(loads[i].Occupancy, loads[i].Capacity)
	}
	return loads, nil
}
