package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

type validationEnrollments interface {
	FindByID(ctx context.Context, id string) (*models.EnrollmentRecord, error)
	FindByAccount(ctx context.Context, accountID string) (*models.EnrollmentRecord, error)
	CountByValidationStatus(ctx context.Context) (models.ValidationStatusCounts, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, int, error)
}

type validationDocuments interface {
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.RequiredDocument, error)
	CountByStatus(ctx context.Context) (models.DocumentCounts, error)
}

type programLoadReader interface {
	CountActive(ctx context.Context) (int, error)
	ListByLoad(ctx context.Context, limit int) ([]models.ProgramLoad, error)
}

type reminderMetrics interface {
	ReminderSent()
}

type reminderLedger interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ValidationConfig tunes the administrator dashboard.
type ValidationConfig struct {
	PendingThreshold int
	DedupTTL         time.Duration
	RecentLimit      int
	ProgramLimit     int
}

// CompletenessCheck is the result of a completeness check.
type CompletenessCheck struct {
	Complete bool                  `json:"complete"`
	Missing  []models.DocumentKind `json:"missing_documents"`
	Notified bool                  `json:"notified"`
}

// ValidationService aggregates what administrators need to review records.
type ValidationService struct {
	enrollments validationEnrollments
	documents   validationDocuments
	programs    programLoadReader
	ledger      reminderLedger
	notifier    notifier
	metrics     reminderMetrics
	logger      *zap.Logger
	cfg         ValidationConfig
}

// ValidationServiceParams groups constructor dependencies.
type ValidationServiceParams struct {
	Enrollments validationEnrollments
	Documents   validationDocuments
	Programs    programLoadReader
	Ledger      reminderLedger
	Notifier    notifier
	Metrics     reminderMetrics
	Logger      *zap.Logger
	Config      ValidationConfig
}

// NewValidationService constructs the orchestrator.
func NewValidationService(params ValidationServiceParams) *ValidationService {
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	cfg := params.Config
	if cfg.PendingThreshold <= 0 {
		cfg.PendingThreshold = 10
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 12 * time.Hour
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 10
	}
	if cfg.ProgramLimit <= 0 {
		cfg.ProgramLimit = 5
	}
	return &ValidationService{
		enrollments: params.Enrollments,
		documents:   params.Documents,
		programs:    params.Programs,
		ledger:      params.Ledger,
		notifier:    params.Notifier,
		metrics:     params.Metrics,
		logger:      params.Logger,
		cfg:         cfg,
	}
}

// Overview returns completion, missing documents and both statuses of a record.
func (s *ValidationService) Overview(ctx context.Context, enrollmentID string) (*models.EnrollmentOverview, error) {
	record, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		return nil, s.lookupError(err)
	}
	return s.overview(ctx, record)
}

// OverviewOwn returns the overview of the caller's own record.
func (s *ValidationService) OverviewOwn(ctx context.Context, accountID string) (*models.EnrollmentOverview, error) {
	record, err := s.enrollments.FindByAccount(ctx, accountID)
	if err != nil {
		return nil, s.lookupError(err)
	}
	return s.overview(ctx, record)
}

func (s *ValidationService) overview(ctx context.Context, record *models.EnrollmentRecord) (*models.EnrollmentOverview, error) {
	docs, err := s.documents.ListByEnrollment(ctx, record.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load documents")
	}
	return &models.EnrollmentOverview{
		EnrollmentID:       record.ID,
		RegistrationNumber: record.RegistrationNumber,
		RegistrationStatus: record.RegistrationStatus,
		ValidationStatus:   record.ValidationStatus,
		CompletionPercent:  models.CompletionProgress(record),
		Missing:            models.MissingKinds(docs),
		Documents:          models.ValidationRatio(docs),
	}, nil
}

// CheckCompleteness tells the owner which documents are still missing, if any.
func (s *ValidationService) CheckCompleteness(ctx context.Context, enrollmentID, adminID string) (*CompletenessCheck, error) {
	record, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		return nil, s.lookupError(err)
	}
	docs, err := s.documents.ListByEnrollment(ctx, record.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load documents")
	}
	check := &CompletenessCheck{Missing: models.MissingKinds(docs)}
	if len(check.Missing) == 0 {
		check.Complete = true
		return check, nil
	}
	if s.notifier != nil {
		check.Notified = s.notifier.Create(ctx, DocumentsMissingDraft(record.AccountID, adminID, check.Missing)) != nil
	}
	return check, nil
}

func (s *ValidationService) lookupError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
}
