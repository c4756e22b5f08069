package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iut-admissions-api/internal/models"
)

func enrollmentRowColumns() []string {
	parts := strings.Split(enrollmentColumns, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func enrollmentRow(id, programID string, reg models.RegistrationStatus, val models.ValidationStatus) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id, "acc-" + id, programID, "DOE", "John", nil, "", "", "", "NID" + id, "", "john@example.com", "",
		"", "", "", "", "", nil, "IUTESSA-2025-0001", string(reg), string(val),
		nil, nil, "", now, now,
	}
}

func TestEnrollmentRepositoryCreateIssuesNumber(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE programs SET occupancy = occupancy + 1")).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO registration_counters (year, last_seq) VALUES ($1, 1)")).
		WithArgs(2025).
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(7))
	mock.ExpectExec("INSERT INTO enrollment_records").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	record := &models.EnrollmentRecord{AccountID: "acc", ProgramID: "p1", LastName: "DOE", FirstNames: "John"}
	err := repo.Create(context.Background(), record, RegistrationNumberSpec{Prefix: "IUTESSA", Year: 2025}, true)
	require.NoError(t, err)
	assert.Equal(t, "IUTESSA-2025-0007", record.RegistrationNumber)
	assert.NotEmpty(t, record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateProgramFull(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("AND occupancy < capacity")).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM programs WHERE id = $1")).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.EnrollmentRecord{ProgramID: "p1"}, RegistrationNumberSpec{Prefix: "IUTESSA", Year: 2025}, true)
	assert.True(t, errors.Is(err, ErrProgramFull))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateInactiveProgram(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE programs SET occupancy = occupancy + 1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM programs WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("suspended"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.EnrollmentRecord{ProgramID: "p1"}, RegistrationNumberSpec{Prefix: "IUTESSA", Year: 2025}, false)
	assert.True(t, errors.Is(err, ErrProgramUnavailable))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateNumberCollision(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE programs SET occupancy = occupancy + 1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO registration_counters").
		WillReturnRows(sqlmock.NewRows([]string{"last_seq"}).AddRow(3))
	mock.ExpectExec("INSERT INTO enrollment_records").
		WillReturnError(&pq.Error{Code: "23505", Constraint: ConstraintRegistrationNumber})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.EnrollmentRecord{ProgramID: "p1"}, RegistrationNumberSpec{Prefix: "IUTESSA", Year: 2025}, true)
	uv, ok := AsUniqueViolation(err)
	require.True(t, ok)
	assert.Equal(t, ConstraintRegistrationNumber, uv.Constraint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMutateCancelReleasesSeat(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_records WHERE id = $1 FOR UPDATE")).
		WithArgs("e1").
		WillReturnRows(sqlmock.NewRows(enrollmentRowColumns()).
			AddRow(enrollmentRow("e1", "p1", models.RegistrationPending, models.ValidationPending)...))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE programs SET occupancy = GREATEST(occupancy - 1, 0)")).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_records SET program_id =")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.Mutate(context.Background(), "e1", true, func(r *models.EnrollmentRecord) error {
		return r.SetRegistrationStatus(models.RegistrationCancelled)
	})
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationCancelled, updated.RegistrationStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMutateProgramChangeMovesSeat(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(enrollmentRowColumns()).
			AddRow(enrollmentRow("e1", "p1", models.RegistrationPending, models.ValidationPending)...))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE programs SET occupancy = occupancy + 1")).
		WithArgs("p2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE programs SET occupancy = GREATEST(occupancy - 1, 0)")).
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollment_records SET program_id =")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := repo.Mutate(context.Background(), "e1", true, func(r *models.EnrollmentRecord) error {
		r.ProgramID = "p2"
		r.RegistrationNumber = "tampered"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "p2", updated.ProgramID)
	assert.Equal(t, "IUTESSA-2025-0001", updated.RegistrationNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMutateRefusedTransitionRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(enrollmentRowColumns()).
			AddRow(enrollmentRow("e1", "p1", models.RegistrationPending, models.ValidationRejected)...))
	mock.ExpectRollback()

	_, err := repo.Mutate(context.Background(), "e1", true, func(r *models.EnrollmentRecord) error {
		return r.Validate("admin", time.Now())
	})
	var transition *models.TransitionError
	assert.True(t, errors.As(err, &transition))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	status := models.ValidationPending
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollment_records e WHERE 1=1 AND e.program_id = $1 AND e.validation_status = $2")).
		WithArgs("p1", status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	columns := append(enrollmentRowColumns(), "program_code", "program_name")
	values := append(enrollmentRow("e1", "p1", models.RegistrationPending, status), "GI", "Génie Informatique")
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_records e JOIN programs p ON p.id = e.program_id")).
		WithArgs("p1", status, 10, 10).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(values...))

	items, total, err := repo.List(context.Background(), models.EnrollmentFilter{ProgramID: "p1", ValidationStatus: &status, Page: 2, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "GI", items[0].ProgramCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCountByValidationStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(*) FILTER (WHERE validation_status = 'pending') AS pending")).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "validated", "rejected"}).AddRow(3, 6, 1))

	counts, err := repo.CountByValidationStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, counts.Total())
	assert.Equal(t, 60.0, counts.ValidationRate())
	assert.NoError(t, mock.ExpectationsWereMet())
}
