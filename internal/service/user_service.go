package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	"github.com/noah-isme/iut-admissions-api/internal/repository"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

type accountRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	DeleteCascade(ctx context.Context, accountID string) ([]string, error)
}

type fileDeleter interface {
	Delete(ctx context.Context, key string) error
}

// AccountAttributes describes an account to create.
type AccountAttributes struct {
	Email    string
	FullName string
	Password string
	Role     models.UserRole
}

// AccountService manages login accounts.
type AccountService struct {
	repo       accountRepository
	files      fileDeleter
	validator  *validator.Validate
	logger     *zap.Logger
	bcryptCost int
}

// NewAccountService creates an instance of AccountService.
func NewAccountService(repo accountRepository, files fileDeleter, validate *validator.Validate, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = NewValidator()
	}
	return &AccountService{repo: repo, files: files, validator: validate, logger: logger, bcryptCost: bcrypt.DefaultCost}
}

// Get returns an account by identifier.
func (s *AccountService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	return user, nil
}

// GetOrCreate returns the account named username, creating it with attrs when
// it does not exist yet. created reports whether this call inserted it.
func (s *AccountService) GetOrCreate(ctx context.Context, username string, attrs AccountAttributes) (*models.User, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, false, appErrors.WithField(appErrors.ErrValidation, "username", "username is required")
	}
	existing, err := s.repo.FindByUsername(ctx, username)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	role := attrs.Role
	if role == "" {
		role = models.RoleStudent
	}
	user, err := s.create(ctx, username, attrs.Email, attrs.FullName, attrs.Password, role)
	if err != nil {
		if uv, ok := repository.AsUniqueViolation(err); ok && uv.Constraint == repository.ConstraintAccountUsername {
			existing, findErr := s.repo.FindByUsername(ctx, username)
			if findErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}
	return user, true, nil
}

// Register creates a student account through self-service sign-up.
func (s *AccountService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, invalidPayload(err, "invalid registration payload")
	}
	if _, err := s.repo.FindByUsername(ctx, req.Username); err == nil {
		return nil, appErrors.WithField(appErrors.ErrConflict, "username", "username already taken")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check username")
	}
	user, err := s.create(ctx, req.Username, req.Email, req.FullName, req.Password, models.RoleStudent)
	if err != nil {
		if _, ok := repository.AsUniqueViolation(err); ok {
			return nil, appErrors.WithField(appErrors.ErrConflict, "username", "username already taken")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}
	s.logger.Info("account registered", zap.String("account_id", user.ID))
	return user, nil
}

func (s *AccountService) create(ctx context.Context, username, email, fullName, password string, role models.UserRole) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Username:     strings.TrimSpace(username),
		Email:        models.NormalizeEmail(email),
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(fullName),
		Role:         role,
		Active:       true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// HasRole reports whether the account exists, is active and carries role.
func (s *AccountService) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	return user.HasRole(role), nil
}

// Delete removes an account with its enrollment record and documents. The
// program seat is released in the same transaction; stored files are removed
// afterwards on a best-effort basis.
func (s *AccountService) Delete(ctx context.Context, id string) error {
	keys, err := s.repo.DeleteCascade(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete account")
	}
	for _, key := range keys {
		if s.files == nil {
			break
		}
		if err := s.files.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to delete document file", zap.String("account_id", id), zap.String("key", key), zap.Error(err))
		}
	}
	s.logger.Info("account deleted", zap.String("account_id", id), zap.Int("files", len(keys)))
	return nil
}
