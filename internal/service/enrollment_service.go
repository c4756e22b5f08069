package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	"github.com/noah-isme/iut-admissions-api/internal/repository"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

type enrollmentRepository interface {
	Create(ctx context.Context, record *models.EnrollmentRecord, spec repository.RegistrationNumberSpec, enforceCapacity bool) error
	FindByID(ctx context.Context, id string) (*models.EnrollmentRecord, error)
	FindByAccount(ctx context.Context, accountID string) (*models.EnrollmentRecord, error)
	ExistsByNationalID(ctx context.Context, nationalID, excludeID string) (bool, error)
	ExistsByPersonalEmail(ctx context.Context, email, excludeID string) (bool, error)
	Mutate(ctx context.Context, id string, enforceCapacity bool, fn func(*models.EnrollmentRecord) error) (*models.EnrollmentRecord, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, int, error)
}

type programReader interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
}

type documentLister interface {
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.RequiredDocument, error)
}

type numberIssuer interface {
	Issue(ctx context.Context, create func(repository.RegistrationNumberSpec) error) error
}

type notifier interface {
	Create(ctx context.Context, draft models.NotificationDraft) *models.Notification
}

type enrollmentMetrics interface {
	EnrollmentCreated()
}

// EnrollmentRequest carries the student-editable fields of an enrollment record.
type EnrollmentRequest struct {
	ProgramID      string `json:"program_id" validate:"required"`
	LastName       string `json:"last_name" validate:"required,max=100"`
	FirstNames     string `json:"first_names" validate:"required,max=150"`
	BirthDate      string `json:"birth_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	BirthPlace     string `json:"birth_place,omitempty" validate:"max=100"`
	Nationality    string `json:"nationality,omitempty" validate:"max=50"`
	RegionOfOrigin string `json:"region_of_origin,omitempty" validate:"max=100"`
	NationalID     string `json:"national_id" validate:"required,max=32"`
	Phone          string `json:"phone,omitempty" validate:"max=20"`
	PersonalEmail  string `json:"personal_email" validate:"required,email,max=254"`
	Address        string `json:"address,omitempty"`
	FatherName     string `json:"father_name,omitempty" validate:"max=100"`
	FatherPhone    string `json:"father_phone,omitempty" validate:"max=20"`
	MotherName     string `json:"mother_name,omitempty" validate:"max=100"`
	MotherPhone    string `json:"mother_phone,omitempty" validate:"max=20"`
	Diploma        string `json:"diploma,omitempty" validate:"max=100"`
	DiplomaYear    *int   `json:"diploma_year,omitempty" validate:"omitempty,min=1950,max=2100"`
}

// EnrollmentConfig tunes enrollment rules.
type EnrollmentConfig struct {
	EnforceCapacity bool
}

// EnrollmentService runs the lifecycle of enrollment records: creation with a
// registration number, student edits, and the administrative status machine.
type EnrollmentService struct {
	repo      enrollmentRepository
	programs  programReader
	accounts  accountReader
	documents documentLister
	issuer    numberIssuer
	notifier  notifier
	metrics   enrollmentMetrics
	validator *validator.Validate
	logger    *zap.Logger
	config    EnrollmentConfig
	now       func() time.Time
}

// EnrollmentDeps groups the collaborators of EnrollmentService.
type EnrollmentDeps struct {
	Repo      enrollmentRepository
	Programs  programReader
	Accounts  accountReader
	Documents documentLister
	Issuer    numberIssuer
	Notifier  notifier
	Metrics   enrollmentMetrics
	Validator *validator.Validate
	Logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(deps EnrollmentDeps, cfg EnrollmentConfig) *EnrollmentService {
	if deps.Validator == nil {
		deps.Validator = NewValidator()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:      deps.Repo,
		programs:  deps.Programs,
		accounts:  deps.Accounts,
		documents: deps.Documents,
		issuer:    deps.Issuer,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		validator: deps.Validator,
		logger:    deps.Logger,
		config:    cfg,
		now:       time.Now,
	}
}

// Submit creates the enrollment record of a student account. The seat, the
// registration number and the record are written in one transaction.
func (s *EnrollmentService) Submit(ctx context.Context, accountID string, req EnrollmentRequest) (*models.EnrollmentRecord, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	if !account.HasRole(models.RoleStudent) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only student accounts can enroll")
	}

	if _, err := s.repo.FindByAccount(ctx, accountID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrDuplicateRecord, "")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	record := &models.EnrollmentRecord{
		AccountID:          accountID,
		RegistrationStatus: models.RegistrationPending,
		ValidationStatus:   models.ValidationPending,
	}
	if err := s.applyRequest(record, req); err != nil {
		return nil, err
	}
	if _, err := s.activeProgram(ctx, record.ProgramID); err != nil {
		return nil, err
	}
	if err := s.ensureUnique(ctx, record, ""); err != nil {
		return nil, err
	}

	err = s.issuer.Issue(ctx, func(spec repository.RegistrationNumberSpec) error {
		record.ID = ""
		return s.repo.Create(ctx, record, spec, s.config.EnforceCapacity)
	})
	if err != nil {
		return nil, s.translateWriteError(err, "failed to create enrollment")
	}

	if s.metrics != nil {
		s.metrics.EnrollmentCreated()
	}
	s.logger.Info("enrollment created",
		zap.String("enrollment_id", record.ID), zap.String("registration_number", record.RegistrationNumber))
	s.notify(ctx, EnrollmentCompleteDraft(record))
	return record, nil
}

// Update lets a student edit their own record. The registration number never
// changes; the program is frozen once documents exist.
func (s *EnrollmentService) Update(ctx context.Context, accountID string, req EnrollmentRequest) (*models.EnrollmentRecord, error) {
	current, err := s.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	draft := *current
	if err := s.applyRequest(&draft, req); err != nil {
		return nil, err
	}
	if draft.ProgramID != current.ProgramID {
		docs, err := s.documents.ListByEnrollment(ctx, current.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load documents")
		}
		if len(docs) > 0 {
			return nil, appErrors.WithField(appErrors.ErrValidation, "program_id", "program cannot change once documents are uploaded")
		}
		if _, err := s.activeProgram(ctx, draft.ProgramID); err != nil {
			return nil, err
		}
	}
	if err := s.ensureUnique(ctx, &draft, current.ID); err != nil {
		return nil, err
	}

	updated, err := s.mutate(ctx, current.ID, func(r *models.EnrollmentRecord) error {
		return s.applyRequest(r, req)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Get returns a record by identifier.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentRecord, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return record, nil
}

// GetByAccount returns the record owned by an account.
func (s *EnrollmentService) GetByAccount(ctx context.Context, accountID string) (*models.EnrollmentRecord, error) {
	record, err := s.repo.FindByAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return record, nil
}

// List returns the administrative listing.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentListItem, *models.Pagination, error) {
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	filter.Page, filter.PageSize = page, size
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	if items == nil {
		items = []models.EnrollmentListItem{}
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Validate approves a record and notifies its owner.
func (s *EnrollmentService) Validate(ctx context.Context, id, adminID string) (*models.EnrollmentRecord, error) {
	record, err := s.mutate(ctx, id, func(r *models.EnrollmentRecord) error {
		return r.Validate(adminID, s.now())
	})
	if err != nil {
		return nil, err
	}
	programName := ""
	if program, err := s.programs.FindByID(ctx, record.ProgramID); err == nil {
		programName = program.Name
	}
	s.notify(ctx, EnrollmentValidatedDraft(record, programName, adminID))
	return record, nil
}

// Reject refuses a record and notifies its owner with the reason.
func (s *EnrollmentService) Reject(ctx context.Context, id, adminID, reason string) (*models.EnrollmentRecord, error) {
	record, err := s.mutate(ctx, id, func(r *models.EnrollmentRecord) error {
		return r.Reject(reason)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, EnrollmentRejectedDraft(record, adminID, reason))
	return record, nil
}

// Resubmit moves a rejected record back to pending.
func (s *EnrollmentService) Resubmit(ctx context.Context, id string) (*models.EnrollmentRecord, error) {
	return s.mutate(ctx, id, func(r *models.EnrollmentRecord) error {
		return r.Resubmit()
	})
}

// ResubmitOwn resubmits the record owned by accountID.
func (s *EnrollmentService) ResubmitOwn(ctx context.Context, accountID string) (*models.EnrollmentRecord, error) {
	record, err := s.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.Resubmit(ctx, record.ID)
}

// Reopen returns a validated record to pending.
func (s *EnrollmentService) Reopen(ctx context.Context, id, adminID string) (*models.EnrollmentRecord, error) {
	record, err := s.mutate(ctx, id, func(r *models.EnrollmentRecord) error {
		return r.Reopen()
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("enrollment reopened", zap.String("enrollment_id", id), zap.String("admin_id", adminID))
	return record, nil
}

// SetRegistrationStatus confirms or cancels a pending registration. A
// cancellation releases the program seat.
func (s *EnrollmentService) SetRegistrationStatus(ctx context.Context, id, adminID string, status models.RegistrationStatus) (*models.EnrollmentRecord, error) {
	if !status.Valid() {
		return nil, appErrors.WithField(appErrors.ErrValidation, "registration_status", "unknown registration status")
	}
	record, err := s.mutate(ctx, id, func(r *models.EnrollmentRecord) error {
		return r.SetRegistrationStatus(status)
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, RegistrationStatusDraft(record, adminID))
	return record, nil
}

func (s *EnrollmentService) mutate(ctx context.Context, id string, fn func(*models.EnrollmentRecord) error) (*models.EnrollmentRecord, error) {
	record, err := s.repo.Mutate(ctx, id, s.config.EnforceCapacity, fn)
	if err == nil {
		return record, nil
	}
	var transition *models.TransitionError
	var appErr *appErrors.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	case errors.As(err, &transition):
		return nil, appErrors.WithField(appErrors.ErrInvalidTransition, transition.Field, transition.Error())
	case errors.As(err, &appErr):
		return nil, appErr
	}
	return nil, s.translateWriteError(err, "failed to update enrollment")
}

func (s *EnrollmentService) activeProgram(ctx context.Context, programID string) (*models.Program, error) {
	program, err := s.programs.FindByID(ctx, programID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithField(appErrors.ErrValidation, "program_id", "program not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}
	if program.Status != models.ProgramActive {
		return nil, appErrors.WithField(appErrors.ErrValidation, "program_id", "program is not open for enrollment")
	}
	return program, nil
}

func (s *EnrollmentService) ensureUnique(ctx context.Context, record *models.EnrollmentRecord, excludeID string) error {
	exists, err := s.repo.ExistsByNationalID(ctx, record.NationalID, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check national id")
	}
	if exists {
		return appErrors.WithField(appErrors.ErrUniquenessViolation, "national_id", "national id already registered")
	}
	exists, err = s.repo.ExistsByPersonalEmail(ctx, record.PersonalEmail, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check personal email")
	}
	if exists {
		return appErrors.WithField(appErrors.ErrUniquenessViolation, "personal_email", "personal email already registered")
	}
	return nil
}

// normalized trims every text field and canonicalizes the identifiers so
// validation sees the values that will be stored.
func (req EnrollmentRequest) normalized() EnrollmentRequest {
	req.ProgramID = strings.TrimSpace(req.ProgramID)
	req.LastName = strings.ToUpper(strings.TrimSpace(req.LastName))
	req.FirstNames = strings.TrimSpace(req.FirstNames)
	req.BirthDate = strings.TrimSpace(req.BirthDate)
	req.BirthPlace = strings.TrimSpace(req.BirthPlace)
	req.Nationality = strings.TrimSpace(req.Nationality)
	req.RegionOfOrigin = strings.TrimSpace(req.RegionOfOrigin)
	req.NationalID = models.NormalizeNationalID(req.NationalID)
	req.Phone = strings.TrimSpace(req.Phone)
	req.PersonalEmail = models.NormalizeEmail(req.PersonalEmail)
	req.Address = strings.TrimSpace(req.Address)
	req.FatherName = strings.TrimSpace(req.FatherName)
	req.FatherPhone = strings.TrimSpace(req.FatherPhone)
	req.MotherName = strings.TrimSpace(req.MotherName)
	req.MotherPhone = strings.TrimSpace(req.MotherPhone)
	req.Diploma = strings.TrimSpace(req.Diploma)
	return req
}

// applyRequest validates req and copies it onto record.
func (s *EnrollmentService) applyRequest(record *models.EnrollmentRecord, req EnrollmentRequest) error {
	req = req.normalized()
	if err := s.validator.Struct(req); err != nil {
		return invalidPayload(err, "invalid enrollment payload")
	}
	if !models.ValidNationalID(req.NationalID) {
		return appErrors.WithField(appErrors.ErrValidation, "national_id", "national id must contain only digits and letters")
	}
	var birthDate *time.Time
	if req.BirthDate != "" {
		parsed, err := time.Parse("2006-01-02", req.BirthDate)
		if err != nil {
			return appErrors.WithField(appErrors.ErrValidation, "birth_date", "birth date must use YYYY-MM-DD")
		}
		birthDate = &parsed
	}

	record.ProgramID = req.ProgramID
	record.LastName = req.LastName
	record.FirstNames = req.FirstNames
	record.BirthDate = birthDate
	record.BirthPlace = req.BirthPlace
	record.Nationality = req.Nationality
	record.RegionOfOrigin = req.RegionOfOrigin
	record.NationalID = req.NationalID
	record.Phone = req.Phone
	record.PersonalEmail = req.PersonalEmail
	record.Address = req.Address
	record.FatherName = req.FatherName
	record.FatherPhone = req.FatherPhone
	record.MotherName = req.MotherName
	record.MotherPhone = req.MotherPhone
	record.Diploma = req.Diploma
	record.DiplomaYear = req.DiplomaYear
	return nil
}

func (s *EnrollmentService) translateWriteError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, repository.ErrProgramFull):
		return appErrors.Clone(appErrors.ErrCapacityExceeded, "")
	case errors.Is(err, repository.ErrProgramUnavailable):
		return appErrors.WithField(appErrors.ErrValidation, "program_id", "program is not open for enrollment")
	}
	if uv, ok := repository.AsUniqueViolation(err); ok {
		switch uv.Constraint {
		case repository.ConstraintNationalID:
			return appErrors.WithField(appErrors.ErrUniquenessViolation, "national_id", "national id already registered")
		case repository.ConstraintPersonalEmail:
			return appErrors.WithField(appErrors.ErrUniquenessViolation, "personal_email", "personal email already registered")
		case repository.ConstraintEnrollmentAccount:
			return appErrors.Clone(appErrors.ErrDuplicateRecord, "")
		}
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *EnrollmentService) notify(ctx context.Context, draft models.NotificationDraft) {
	if s.notifier != nil {
		s.notifier.Create(ctx, draft)
	}
}
