package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

type enrollmentFixture struct {
	svc      *EnrollmentService
	store    *fakeAdmissionsStore
	accounts *fakeAccounts
	notifier *fakeNotifier
	metrics  *countingIssuerMetrics
}

func newEnrollmentFixture(t *testing.T, enforce bool, programs ...*models.Program) *enrollmentFixture {
	t.Helper()
	store := newFakeAdmissionsStore(programs...)
	accounts := newFakeAccounts(studentAccount("stu-1"), studentAccount("stu-2"),
		&models.User{ID: "admin-1", Username: "admin", Role: models.RoleAdmin, Active: true})
	notifier := &fakeNotifier{}
	metrics := &countingIssuerMetrics{}
	issuer := NewRegistrationNumberIssuer(IssuerConfig{
		Prefix: "IUTESSA",
		Now:    func() time.Time { return time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC) },
	}, metrics, nil)
	svc := NewEnrollmentService(EnrollmentDeps{
		Repo:      store,
		Programs:  fakeProgramReader{store: store},
		Accounts:  accounts,
		Documents: store,
		Issuer:    issuer,
		Notifier:  notifier,
		Metrics:   metrics,
	}, EnrollmentConfig{EnforceCapacity: enforce})
	return &enrollmentFixture{svc: svc, store: store, accounts: accounts, notifier: notifier, metrics: metrics}
}

func enrollmentRequest(programID, nid, email string) EnrollmentRequest {
	return EnrollmentRequest{
		ProgramID:     programID,
		LastName:      "Mbarga",
		FirstNames:    "Paul Eric",
		NationalID:    nid,
		PersonalEmail: email,
		BirthDate:     "2004-03-12",
	}
}

func assertAppError(t *testing.T, err error, want *appErrors.Error) *appErrors.Error {
	t.Helper()
	require.Error(t, err)
	appErr, ok := err.(*appErrors.Error)
	require.True(t, ok, "expected *errors.Error, got %T", err)
	assert.Equal(t, want.Code, appErr.Code)
	assert.Equal(t, want.Status, appErr.Status)
	return appErr
}

func TestEnrollmentServiceSubmitIssuesNumber(t *testing.T) {
	f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 2))

	record, err := f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "cm 1234", " Paul@Example.COM "))
	require.NoError(t, err)
	assert.Equal(t, "IUTESSA-2025-0001", record.RegistrationNumber)
	assert.Equal(t, models.RegistrationPending, record.RegistrationStatus)
	assert.Equal(t, models.ValidationPending, record.ValidationStatus)
	assert.Equal(t, "CM1234", record.NationalID)
	assert.Equal(t, "paul@example.com", record.PersonalEmail)
	assert.Equal(t, "MBARGA", record.LastName)
	assert.Equal(t, 1, f.store.program("prog-1").Occupancy)
	assert.Equal(t, []models.NotificationKind{models.NotifyEnrollmentComplete}, f.notifier.kinds())
	assert.Equal(t, 1, f.metrics.created)
}

func TestEnrollmentServiceSubmitRules(t *testing.T) {
	t.Run("non student account", func(t *testing.T) {
		f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 2))
		_, err := f.svc.Submit(context.Background(), "admin-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
		assertAppError(t, err, appErrors.ErrForbidden)
	})

	t.Run("second record for the same account", func(t *testing.T) {
		f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 2))
		_, err := f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
		require.NoError(t, err)
		_, err = f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "CM9999", "b@example.com"))
		assertAppError(t, err, appErrors.ErrDuplicateRecord)
	})

	t.Run("inactive program", func(t *testing.T) {
		program := activeProgram("prog-1", "GI", 2)
		program.Status = models.ProgramSuspended
		f := newEnrollmentFixture(t, true, program)
		_, err := f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
		appErr := assertAppError(t, err, appErrors.ErrValidation)
		assert.Equal(t, "program_id", appErr.Field)
	})

	t.Run("missing last name names the field", func(t *testing.T) {
		f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 2))
		req := enrollmentRequest("prog-1", "CM1234", "a@example.com")
		req.LastName = "   "
		_, err := f.svc.Submit(context.Background(), "stu-1", req)
		appErr := assertAppError(t, err, appErrors.ErrValidation)
		assert.Equal(t, "last_name", appErr.Field)
		assert.Contains(t, appErr.Message, "last_name is required")
	})

	t.Run("bad email names the field", func(t *testing.T) {
		f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 2))
		_, err := f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "CM1234", "not-an-email"))
		appErr := assertAppError(t, err, appErrors.ErrValidation)
		assert.Equal(t, "personal_email", appErr.Field)
	})

	t.Run("malformed national id", func(t *testing.T) {
		f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 2))
		_, err := f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "CM-12/34", "a@example.com"))
		appErr := assertAppError(t, err, appErrors.ErrValidation)
		assert.Equal(t, "national_id", appErr.Field)
	})

	t.Run("national id already used", func(t *testing.T) {
		f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 5))
		_, err := f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
		require.NoError(t, err)
		_, err = f.svc.Submit(context.Background(), "stu-2", enrollmentRequest("prog-1", "cm1234", "b@example.com"))
		appErr := assertAppError(t, err, appErrors.ErrUniquenessViolation)
		assert.Equal(t, "national_id", appErr.Field)
	})

	t.Run("personal email already used", func(t *testing.T) {
		f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 5))
		_, err := f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
		require.NoError(t, err)
		_, err = f.svc.Submit(context.Background(), "stu-2", enrollmentRequest("prog-1", "CM5678", "A@example.com"))
		appErr := assertAppError(t, err, appErrors.ErrUniquenessViolation)
		assert.Equal(t, "personal_email", appErr.Field)
	})

	t.Run("full program", func(t *testing.T) {
		f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 1))
		_, err := f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
		require.NoError(t, err)
		_, err = f.svc.Submit(context.Background(), "stu-2", enrollmentRequest("prog-1", "CM5678", "b@example.com"))
		assertAppError(t, err, appErrors.ErrCapacityExceeded)
		assert.Equal(t, 1, f.store.program("prog-1").Occupancy)
	})

	t.Run("capacity not enforced", func(t *testing.T) {
		f := newEnrollmentFixture(t, false, activeProgram("prog-1", "GI", 1))
		_, err := f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
		require.NoError(t, err)
		_, err = f.svc.Submit(context.Background(), "stu-2", enrollmentRequest("prog-1", "CM5678", "b@example.com"))
		require.NoError(t, err)
		assert.Equal(t, 2, f.store.program("prog-1").Occupancy)
	})
}

func TestEnrollmentServiceSubmitRetriesNumberCollision(t *testing.T) {
	f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 5))
	f.store.collisions = 1

	record, err := f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "IUTESSA-2025-0002", record.RegistrationNumber)
	assert.Equal(t, 1, f.metrics.retries)
	assert.Zero(t, f.metrics.conflicts)
}

func TestEnrollmentServiceSubmitGivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 5))
	f.store.collisions = 3

	_, err := f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
	assertAppError(t, err, appErrors.ErrRegistrationNumberConflict)
	assert.Equal(t, 2, f.metrics.retries)
	assert.Equal(t, 1, f.metrics.conflicts)
	assert.Zero(t, f.store.program("prog-1").Occupancy)
	assert.Empty(t, f.notifier.kinds())
}

func TestEnrollmentServiceConcurrentSubmitsGetDistinctNumbers(t *testing.T) {
	const students = 50
	f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", students))
	for i := 0; i < students; i++ {
		id := fmt.Sprintf("bulk-%d", i)
		f.accounts.users[id] = studentAccount(id)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]struct{}, students)
		errs    []error
	)
	for i := 0; i < students; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := enrollmentRequest("prog-1", fmt.Sprintf("CM%04d", i), fmt.Sprintf("s%d@example.com", i))
			record, err := f.svc.Submit(context.Background(), fmt.Sprintf("bulk-%d", i), req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers[record.RegistrationNumber] = struct{}{}
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, numbers, students)
	for seq := 1; seq <= students; seq++ {
		assert.Contains(t, numbers, models.FormatRegistrationNumber("IUTESSA", 2025, seq))
	}
	assert.Equal(t, students, f.store.program("prog-1").Occupancy)
}

func TestEnrollmentServiceValidationTransitions(t *testing.T) {
	f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 5))
	record, err := f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
	require.NoError(t, err)
	ctx := context.Background()

	validated, err := f.svc.Validate(ctx, record.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ValidationValidated, validated.ValidationStatus)
	require.NotNil(t, validated.ValidatedAt)
	assert.Equal(t, models.NotifyEnrollmentValidated, f.notifier.last().Kind)

	_, err = f.svc.Validate(ctx, record.ID, "admin-1")
	require.NoError(t, err, "re-validating re-stamps")

	_, err = f.svc.Reject(ctx, record.ID, "admin-1", "pièces illisibles")
	appErr := assertAppError(t, err, appErrors.ErrInvalidTransition)
	assert.Equal(t, "validation_status", appErr.Field)

	reopened, err := f.svc.Reopen(ctx, record.ID, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ValidationPending, reopened.ValidationStatus)
	assert.Nil(t, reopened.ValidatedAt)

	rejected, err := f.svc.Reject(ctx, record.ID, "admin-1", "pièces illisibles")
	require.NoError(t, err)
	assert.Equal(t, models.ValidationRejected, rejected.ValidationStatus)
	assert.Equal(t, "pièces illisibles", rejected.RejectionReason)
	assert.Nil(t, rejected.ValidatedBy, "a rejection is not a validation")
	assert.Contains(t, f.notifier.last().Body, "pièces illisibles")

	_, err = f.svc.Validate(ctx, record.ID, "admin-1")
	assertAppError(t, err, appErrors.ErrInvalidTransition)

	resubmitted, err := f.svc.ResubmitOwn(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.ValidationPending, resubmitted.ValidationStatus)
	assert.Equal(t, record.RegistrationNumber, resubmitted.RegistrationNumber)
}

func TestEnrollmentServiceRegistrationStatus(t *testing.T) {
	f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 5))
	ctx := context.Background()
	first, err := f.svc.Submit(ctx, "stu-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
	require.NoError(t, err)
	second, err := f.svc.Submit(ctx, "stu-2", enrollmentRequest("prog-1", "CM5678", "b@example.com"))
	require.NoError(t, err)
	require.Equal(t, 2, f.store.program("prog-1").Occupancy)

	confirmed, err := f.svc.SetRegistrationStatus(ctx, first.ID, "admin-1", models.RegistrationConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationConfirmed, confirmed.RegistrationStatus)
	assert.Equal(t, 2, f.store.program("prog-1").Occupancy)

	_, err = f.svc.SetRegistrationStatus(ctx, first.ID, "admin-1", models.RegistrationCancelled)
	assertAppError(t, err, appErrors.ErrInvalidTransition)

	cancelled, err := f.svc.SetRegistrationStatus(ctx, second.ID, "admin-1", models.RegistrationCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationCancelled, cancelled.RegistrationStatus)
	assert.Equal(t, 1, f.store.program("prog-1").Occupancy)
	assert.Equal(t, models.NotifyRegistrationChanged, f.notifier.last().Kind)

	_, err = f.svc.SetRegistrationStatus(ctx, second.ID, "admin-1", models.RegistrationStatus("archived"))
	assertAppError(t, err, appErrors.ErrValidation)

	_, err = f.svc.SetRegistrationStatus(ctx, "missing", "admin-1", models.RegistrationConfirmed)
	assertAppError(t, err, appErrors.ErrNotFound)
}

func TestEnrollmentServiceUpdate(t *testing.T) {
	f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 5), activeProgram("prog-2", "GC", 5))
	ctx := context.Background()
	first, err := f.svc.Submit(ctx, "stu-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "stu-2", enrollmentRequest("prog-1", "CM5678", "b@example.com"))
	require.NoError(t, err)

	req := enrollmentRequest("prog-2", "CM1234", "a@example.com")
	req.Phone = "+237 690000000"
	updated, err := f.svc.Update(ctx, "stu-1", req)
	require.NoError(t, err)
	assert.Equal(t, "prog-2", updated.ProgramID)
	assert.Equal(t, first.RegistrationNumber, updated.RegistrationNumber)
	assert.Equal(t, 1, f.store.program("prog-1").Occupancy)
	assert.Equal(t, 1, f.store.program("prog-2").Occupancy)

	padded, err := f.svc.Update(ctx, "stu-1", enrollmentRequest("prog-2", "cm1234", "  A@Example.com "))
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", padded.PersonalEmail)
	assert.Equal(t, "CM1234", padded.NationalID)

	_, err = f.svc.Update(ctx, "stu-1", enrollmentRequest("prog-2", "CM5678", "a@example.com"))
	appErr := assertAppError(t, err, appErrors.ErrUniquenessViolation)
	assert.Equal(t, "national_id", appErr.Field)

	f.store.docs["doc-1"] = &models.RequiredDocument{ID: "doc-1", EnrollmentID: first.ID, Kind: models.DocumentPhoto}
	_, err = f.svc.Update(ctx, "stu-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
	appErr = assertAppError(t, err, appErrors.ErrValidation)
	assert.Equal(t, "program_id", appErr.Field)
}

func TestEnrollmentServiceList(t *testing.T) {
	f := newEnrollmentFixture(t, true, activeProgram("prog-1", "GI", 5))
	_, err := f.svc.Submit(context.Background(), "stu-1", enrollmentRequest("prog-1", "CM1234", "a@example.com"))
	require.NoError(t, err)

	items, pagination, err := f.svc.List(context.Background(), models.EnrollmentFilter{PageSize: 500})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "GI", items[0].ProgramCode)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 100, pagination.PageSize)
	assert.Equal(t, 1, pagination.TotalCount)
}
