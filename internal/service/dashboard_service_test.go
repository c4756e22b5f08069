package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	"github.com/noah-isme/iut-admissions-api/internal/repository"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

type brokenLedger struct{}

func (brokenLedger) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, errors.New("redis unreachable")
}

type reminderCounter struct{ sent int }

func (r *reminderCounter) ReminderSent() { r.sent++ }

func newValidationFixture(ledger reminderLedger) (*ValidationService, *fakeAdmissionsStore, *fakeNotifier, *reminderCounter) {
	full := activeProgram("prog-1", "GI", 2)
	full.Occupancy = 2
	store := newFakeAdmissionsStore(full, activeProgram("prog-2", "GC", 10))
	notifier := &fakeNotifier{}
	metrics := &reminderCounter{}
	svc := NewValidationService(ValidationServiceParams{
		Enrollments: store,
		Documents:   store,
		Programs:    store,
		Ledger:      ledger,
		Notifier:    notifier,
		Metrics:     metrics,
	})
	return svc, store, notifier, metrics
}

func seedPendingDocuments(store *fakeAdmissionsStore, records int) {
	for i := 0; i < records; i++ {
		id := fmt.Sprintf("enr-%d", i)
		store.records[id] = &models.EnrollmentRecord{ID: id, AccountID: "stu-" + id, ProgramID: "prog-2", ValidationStatus: models.ValidationPending}
		store.addDocuments(id, false, models.DocumentDiploma, models.DocumentPhoto)
	}
}

func TestValidationServiceDashboardAggregates(t *testing.T) {
	svc, store, notifier, _ := newValidationFixture(repository.NewReminderLedger(nil, nil))
	store.records["a"] = &models.EnrollmentRecord{ID: "a", ValidationStatus: models.ValidationValidated, ProgramID: "prog-1"}
	store.records["b"] = &models.EnrollmentRecord{ID: "b", ValidationStatus: models.ValidationRejected, ProgramID: "prog-1"}
	store.records["c"] = &models.EnrollmentRecord{ID: "c", ValidationStatus: models.ValidationPending, ProgramID: "prog-2"}
	store.records["d"] = &models.EnrollmentRecord{ID: "d", ValidationStatus: models.ValidationValidated, ProgramID: "prog-2"}
	store.addDocuments("a", true, models.DocumentDiploma)
	store.addDocuments("c", false, models.DocumentPhoto)

	dashboard, err := svc.Dashboard(context.Background(), "admin-1", "session-1")
	require.NoError(t, err)
	assert.Equal(t, models.ValidationStatusCounts{Pending: 1, Validated: 2, Rejected: 1}, dashboard.Enrollments)
	assert.Equal(t, 50.0, dashboard.ValidationRate)
	assert.Equal(t, models.DocumentCounts{Pending: 1, Validated: 1}, dashboard.Documents)
	assert.Equal(t, 2, dashboard.ActivePrograms)
	require.NotEmpty(t, dashboard.Programs)
	assert.Equal(t, "GI", dashboard.Programs[0].Code)
	assert.Equal(t, 100.0, dashboard.Programs[0].OccupancyRate)
	assert.Len(t, dashboard.Recent, 4)
	assert.False(t, dashboard.ReminderSent)
	assert.Empty(t, notifier.kinds())
}

func TestValidationServiceDashboardRemindsOncePerSession(t *testing.T) {
	svc, store, notifier, metrics := newValidationFixture(repository.NewReminderLedger(nil, nil))
	seedPendingDocuments(store, 6)

	first, err := svc.Dashboard(context.Background(), "admin-1", "session-1")
	require.NoError(t, err)
	assert.Equal(t, 12, first.Documents.Pending)
	assert.True(t, first.ReminderSent)
	last := notifier.last()
	assert.Equal(t, models.NotifyReminder, last.Kind)
	assert.Equal(t, "admin-1", last.RecipientID)
	assert.Contains(t, last.Body, "12")

	again, err := svc.Dashboard(context.Background(), "admin-1", "session-1")
	require.NoError(t, err)
	assert.False(t, again.ReminderSent)

	other, err := svc.Dashboard(context.Background(), "admin-1", "session-2")
	require.NoError(t, err)
	assert.True(t, other.ReminderSent)

	assert.Len(t, notifier.kinds(), 2)
	assert.Equal(t, 2, metrics.sent)
}

func TestValidationServiceDashboardThresholdIsExclusive(t *testing.T) {
	svc, store, notifier, _ := newValidationFixture(repository.NewReminderLedger(nil, nil))
	seedPendingDocuments(store, 5)

	dashboard, err := svc.Dashboard(context.Background(), "admin-1", "session-1")
	require.NoError(t, err)
	assert.Equal(t, 10, dashboard.Documents.Pending)
	assert.False(t, dashboard.ReminderSent)
	assert.Empty(t, notifier.kinds())
}

func TestValidationServiceDashboardSurvivesLedgerOutage(t *testing.T) {
	svc, store, notifier, _ := newValidationFixture(brokenLedger{})
	seedPendingDocuments(store, 6)

	dashboard, err := svc.Dashboard(context.Background(), "admin-1", "session-1")
	require.NoError(t, err)
	assert.False(t, dashboard.ReminderSent)
	assert.Empty(t, notifier.kinds())
}

func TestValidationServiceOverviewAndCompleteness(t *testing.T) {
	svc, store, notifier, _ := newValidationFixture(repository.NewReminderLedger(nil, nil))
	year := 2022
	birth := time.Date(2004, 3, 12, 0, 0, 0, 0, time.UTC)
	store.records["enr-1"] = &models.EnrollmentRecord{
		ID: "enr-1", AccountID: "stu-1", ProgramID: "prog-2", RegistrationNumber: "IUTESSA-2025-0001",
		RegistrationStatus: models.RegistrationPending, ValidationStatus: models.ValidationPending,
		BirthDate: &birth, BirthPlace: "Douala", NationalID: "CM1234", PersonalEmail: "a@example.com",
		Diploma: "Baccalauréat C", DiplomaYear: &year,
	}
	store.addDocuments("enr-1", true, models.DocumentDiploma)
	store.addDocuments("enr-1", false, models.DocumentPhoto)

	overview, err := svc.OverviewOwn(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, 60, overview.CompletionPercent)
	assert.Len(t, overview.Missing, 5)
	assert.Equal(t, 2, overview.Documents.Total)
	assert.Equal(t, 50.0, overview.Documents.Percent)

	check, err := svc.CheckCompleteness(context.Background(), "enr-1", "admin-1")
	require.NoError(t, err)
	assert.False(t, check.Complete)
	assert.True(t, check.Notified)
	last := notifier.last()
	assert.Equal(t, models.NotifyDocumentsMissing, last.Kind)
	assert.Equal(t, "stu-1", last.RecipientID)
	assert.Contains(t, last.Body, models.DocumentBirthCertificate.Label())

	store.addDocuments("enr-1", false, overview.Missing...)
	check, err = svc.CheckCompleteness(context.Background(), "enr-1", "admin-1")
	require.NoError(t, err)
	assert.True(t, check.Complete)
	assert.False(t, check.Notified)
	assert.Len(t, notifier.kinds(), 1)

	_, err = svc.Overview(context.Background(), "missing")
	assertAppError(t, err, appErrors.ErrNotFound)
}
