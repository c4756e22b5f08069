package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	"github.com/noah-isme/iut-admissions-api/internal/repository"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

type programRepository interface {
	FindByID(ctx context.Context, id string) (*models.Program, error)
	FindByCode(ctx context.Context, code string) (*models.Program, error)
	ExistsByCode(ctx context.Context, code, excludeID string) (bool, error)
	ListActive(ctx context.Context) ([]models.Program, error)
	List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, int, error)
	Create(ctx context.Context, program *models.Program) error
	Update(ctx context.Context, program *models.Program) error
	Delete(ctx context.Context, id string) error
}

type programUsageCounter interface {
	CountByProgram(ctx context.Context, programID string) (int, error)
}

// ProgramRequest captures the editable fields of a program.
type ProgramRequest struct {
	Code        string                   `json:"code" validate:"required"`
	Name        string                   `json:"name" validate:"required,max=200"`
	Description string                   `json:"description"`
	Capacity    *int                     `json:"capacity,omitempty" validate:"omitempty,min=1"`
	Eligibility models.EligibilityDomain `json:"eligibility,omitempty"`
	Status      models.ProgramStatus     `json:"status,omitempty"`
}

// ProgramService manages the catalog of programs (filières).
type ProgramService struct {
	repo        programRepository
	enrollments programUsageCounter
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewProgramService creates a new program service.
func NewProgramService(repo programRepository, enrollments programUsageCounter, validate *validator.Validate, logger *zap.Logger) *ProgramService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgramService{repo: repo, enrollments: enrollments, validator: validate, logger: logger}
}

// ListActive returns the programs open for enrollment, ordered by name. The
// public catalog and the enrollment form options both read this list.
func (s *ProgramService) ListActive(ctx context.Context) ([]models.Program, error) {
	programs, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list programs")
	}
	if programs == nil {
		programs = []models.Program{}
	}
	return programs, nil
}

// List returns the paginated admin listing.
func (s *ProgramService) List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, *models.Pagination, error) {
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	filter.Page, filter.PageSize = page, size
	programs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list programs")
	}
	if programs == nil {
		programs = []models.Program{}
	}
	return programs, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a program by identifier.
func (s *ProgramService) Get(ctx context.Context, id string) (*models.Program, error) {
	program, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}
	return program, nil
}

// Create adds a program ensuring code uniqueness.
func (s *ProgramService) Create(ctx context.Context, req ProgramRequest) (*models.Program, error) {
	program := &models.Program{Capacity: models.DefaultProgramCapacity, Eligibility: models.EligibilityGeneral, Status: models.ProgramActive}
	if err := s.apply(program, req); err != nil {
		return nil, err
	}
	if err := s.ensureUniqueCode(ctx, program.Code, ""); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, program); err != nil {
		return nil, s.translateWriteError(err, "failed to create program")
	}
	s.logger.Info("program created", zap.String("program_id", program.ID), zap.String("code", program.Code))
	return program, nil
}

// Update modifies a program. Capacity may not drop below current occupancy.
func (s *ProgramService) Update(ctx context.Context, id string, req ProgramRequest) (*models.Program, error) {
	program, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(program, req); err != nil {
		return nil, err
	}
	if program.Capacity < program.Occupancy {
		return nil, appErrors.WithField(appErrors.ErrValidation, "capacity", "capacity cannot be lower than current occupancy")
	}
	if err := s.ensureUniqueCode(ctx, program.Code, id); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, program); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// occupancy grew past the new capacity since the program was read
			return nil, appErrors.WithField(appErrors.ErrValidation, "capacity", "capacity cannot be lower than current occupancy")
		}
		return nil, s.translateWriteError(err, "failed to update program")
	}
	return program, nil
}

// Delete removes a program no enrollment references.
func (s *ProgramService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	count, err := s.enrollments.CountByProgram(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check program usage")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrProgramInUse, "program is referenced by enrollment records")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrReferenced):
			return appErrors.Clone(appErrors.ErrProgramInUse, "program is referenced by enrollment records")
		case errors.Is(err, sql.ErrNoRows):
			return appErrors.Clone(appErrors.ErrNotFound, "program not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete program")
	}
	return nil
}

func (s *ProgramService) apply(program *models.Program, req ProgramRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return invalidPayload(err, "invalid program payload")
	}
	code := models.NormalizeProgramCode(req.Code)
	if !models.ValidProgramCode(code) {
		return appErrors.WithField(appErrors.ErrValidation, "code", "code must be 1-10 characters of A-Z, 0-9, '_' or '-'")
	}
	if req.Eligibility != "" {
		if !req.Eligibility.Valid() {
			return appErrors.WithField(appErrors.ErrValidation, "eligibility", "unknown eligibility domain")
		}
		program.Eligibility = req.Eligibility
	}
	if req.Status != "" {
		if !req.Status.Valid() {
			return appErrors.WithField(appErrors.ErrValidation, "status", "unknown program status")
		}
		program.Status = req.Status
	}
	if req.Capacity != nil {
		program.Capacity = *req.Capacity
	}
	program.Code = code
	program.Name = strings.TrimSpace(req.Name)
	program.Description = strings.TrimSpace(req.Description)
	return nil
}

func (s *ProgramService) ensureUniqueCode(ctx context.Context, code, excludeID string) error {
	exists, err := s.repo.ExistsByCode(ctx, code, excludeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check program code")
	}
	if exists {
		return appErrors.WithField(appErrors.ErrDuplicateCode, "code", "program code already exists")
	}
	return nil
}

func (s *ProgramService) translateWriteError(err error, message string) error {
	if uv, ok := repository.AsUniqueViolation(err); ok && uv.Constraint == repository.ConstraintProgramCode {
		return appErrors.WithField(appErrors.ErrDuplicateCode, "code", "program code already exists")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}
