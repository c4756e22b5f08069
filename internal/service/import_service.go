package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
	"github.com/noah-isme/iut-admissions-api/pkg/tabular"
)

type importBatchStore interface {
	Create(ctx context.Context, batch *models.ImportBatch) error
	Finalize(ctx context.Context, batch *models.ImportBatch) error
	FindByID(ctx context.Context, id string) (*models.ImportBatch, error)
	List(ctx context.Context, page, size int) ([]models.ImportBatch, int, error)
}

type accountProvisioner interface {
	GetOrCreate(ctx context.Context, username string, attrs AccountAttributes) (*models.User, bool, error)
	Delete(ctx context.Context, id string) error
}

type programCodeLookup interface {
	FindByCode(ctx context.Context, code string) (*models.Program, error)
}

type enrollmentSubmitter interface {
	Submit(ctx context.Context, accountID string, req EnrollmentRequest) (*models.EnrollmentRecord, error)
}

type importMetrics interface {
	ImportRows(succeeded, failed int)
}

// Canonical import columns.
const (
	colLastName      = "last_name"
	colFirstNames    = "first_names"
	colNationalID    = "national_id"
	colPersonalEmail = "personal_email"
	colPhone         = "phone"
	colProgramCode   = "program_code"
	colBirthDate     = "birth_date"
	colBirthPlace    = "birth_place"
)

var importColumnAliases = map[string]string{
	"nom":            colLastName,
	"last_name":      colLastName,
	"prenoms":        colFirstNames,
	"prénoms":        colFirstNames,
	"prenom":         colFirstNames,
	"first_names":    colFirstNames,
	"cni":            colNationalID,
	"national_id":    colNationalID,
	"email":          colPersonalEmail,
	"personal_email": colPersonalEmail,
	"telephone":      colPhone,
	"téléphone":      colPhone,
	"phone":          colPhone,
	"filiere_code":   colProgramCode,
	"filière_code":   colProgramCode,
	"program_code":   colProgramCode,
	"date_naissance": colBirthDate,
	"birth_date":     colBirthDate,
	"lieu_naissance": colBirthPlace,
	"birth_place":    colBirthPlace,
}

var requiredImportColumns = []string{colLastName, colFirstNames, colNationalID, colPersonalEmail, colProgramCode}

var importDateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "02-01-2006"}

// ImportUpload is a spreadsheet submitted for bulk import.
type ImportUpload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// ImportConfig tunes the bulk importer.
type ImportConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
	TemporaryPassword string
}

// ImportServiceParams groups the collaborators of ImportService.
type ImportServiceParams struct {
	Batches     importBatchStore
	Accounts    accountProvisioner
	Programs    programCodeLookup
	Enrollments enrollmentSubmitter
	Files       fileStore
	Notifier    notifier
	Metrics     importMetrics
	Logger      *zap.Logger
	Config      ImportConfig
}

// ImportService creates student accounts and enrollment records from a spreadsheet.
type ImportService struct {
	batches     importBatchStore
	accounts    accountProvisioner
	programs    programCodeLookup
	enrollments enrollmentSubmitter
	files       fileStore
	notifier    notifier
	metrics     importMetrics
	logger      *zap.Logger
	cfg         ImportConfig
	extSet      map[string]struct{}
}

// NewImportService constructs ImportService.
func NewImportService(params ImportServiceParams) *ImportService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := params.Config
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 << 20
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".xlsx", ".csv"}
	}
	extSet := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extSet[ext] = struct{}{}
	}
	return &ImportService{
		batches:     params.Batches,
		accounts:    params.Accounts,
		programs:    params.Programs,
		enrollments: params.Enrollments,
		files:       params.Files,
		notifier:    params.Notifier,
		metrics:     params.Metrics,
		logger:      logger,
		cfg:         cfg,
		extSet:      extSet,
	}
}

type createdAccount struct {
	id       string
	username string
}

// ImportBatch runs one import. Row failures are contained and reported on the
// batch. When the source itself is unusable the batch is finalized with an
// abort reason and returned together with an ErrImportAborted error.
func (s *ImportService) ImportBatch(ctx context.Context, upload ImportUpload, operatorID string) (*models.ImportBatch, error) {
	ext := strings.ToLower(filepath.Ext(upload.Filename))
	if _, ok := s.extSet[ext]; !ok {
		return nil, appErrors.WithField(appErrors.ErrUnsupportedFileType, "file", fmt.Sprintf("extension %q is not allowed", ext))
	}
	if upload.Content == nil || upload.Size == 0 {
		return nil, appErrors.WithField(appErrors.ErrValidation, "file", "file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, appErrors.WithField(appErrors.ErrFileTooLarge, "file", fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}

	name := filepath.Base(upload.Filename)
	body := &sizeGuard{r: upload.Content, limit: s.cfg.MaxFileSize}
	key, err := s.files.Save(ctx, body, "imports/"+name)
	if err != nil {
		if errors.Is(err, errUploadTooLarge) {
			return nil, appErrors.WithField(appErrors.ErrFileTooLarge, "file", fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store import source")
	}

	batch := &models.ImportBatch{SourceKey: key, SourceName: name, OperatorID: operatorID}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create import batch")
	}
	s.logger.Info("import started", zap.String("batch_id", batch.ID), zap.String("source", name), zap.String("operator_id", operatorID))

	created, abortErr := s.process(ctx, batch, ext)
	if abortErr != nil {
		reason := abortErr.Error()
		batch.AbortReason = &reason
	}

	// The batch outlives a cancelled request.
	finalizeCtx := context.WithoutCancel(ctx)
	if err := s.batches.Finalize(finalizeCtx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize import batch")
	}
	if s.metrics != nil {
		s.metrics.ImportRows(batch.SuccessCount, batch.ErrorCount)
	}
	s.logger.Info("import finished",
		zap.String("batch_id", batch.ID),
		zap.Int("total", batch.TotalRows),
		zap.Int("succeeded", batch.SuccessCount),
		zap.Int("failed", batch.ErrorCount),
		zap.Bool("aborted", batch.Aborted()))

	if s.notifier != nil {
		for _, account := range created {
			s.notifier.Create(finalizeCtx, AccountCreatedDraft(account.id, operatorID, account.username, s.cfg.TemporaryPassword))
		}
		s.notifier.Create(finalizeCtx, ImportFinishedDraft(batch))
	}

	if abortErr != nil {
		return batch, appErrors.Clone(appErrors.ErrImportAborted, "import aborted: "+abortErr.Error())
	}
	return batch, nil
}

// process reads the stored source and imports every data row. It returns the
// accounts that were created and kept, and a non-nil error when the source
// could not be read to the end.
func (s *ImportService) process(ctx context.Context, batch *models.ImportBatch, ext string) ([]createdAccount, error) {
	src, err := s.files.Open(ctx, batch.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	reader, err := tabular.Open(src, ext)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	defer reader.Close()

	header, err := reader.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("source has no header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns, err := mapImportHeader(header)
	if err != nil {
		return nil, err
	}

	var created []createdAccount
	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return created, fmt.Errorf("interrupted at line %d: %w", line, err)
		}
		cells, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return created, nil
		}
		var malformed *tabular.RowError
		if errors.As(err, &malformed) {
			line++
			batch.TotalRows++
			batch.ErrorCount++
			batch.Errors = append(batch.Errors, models.ImportRowError{Line: line, Message: "malformed row: " + malformed.Err.Error()})
			continue
		}
		if err != nil {
			return created, fmt.Errorf("read line %d: %w", line+1, err)
		}
		line++
		row := columns.row(cells)
		if row.blank() {
			continue
		}

		batch.TotalRows++
		account, rowErr := s.importRow(ctx, row)
		if rowErr != nil {
			batch.ErrorCount++
			batch.Errors = append(batch.Errors, models.ImportRowError{Line: line, Message: rowErrorMessage(rowErr)})
			continue
		}
		batch.SuccessCount++
		if account != nil {
			created = append(created, *account)
		}
	}
}

// importRow provisions the account and the enrollment record of one row. A
// newly created account is deleted again when the row fails afterwards.
func (s *ImportService) importRow(ctx context.Context, row importRow) (*createdAccount, error) {
	nationalID := models.NormalizeNationalID(row[colNationalID])
	if nationalID == "" {
		return nil, appErrors.WithField(appErrors.ErrValidation, colNationalID, "national id is required")
	}
	birthDate, err := parseImportDate(row[colBirthDate])
	if err != nil {
		return nil, err
	}

	username := models.StudentUsername(nationalID)
	account, created, err := s.accounts.GetOrCreate(ctx, username, AccountAttributes{
		Email:    row[colPersonalEmail],
		FullName: strings.TrimSpace(row[colFirstNames] + " " + row[colLastName]),
		Password: s.cfg.TemporaryPassword,
		Role:     models.RoleStudent,
	})
	if err != nil {
		return nil, err
	}

	if err := s.enroll(ctx, account.ID, row, nationalID, birthDate); err != nil {
		if created {
			if delErr := s.accounts.Delete(context.WithoutCancel(ctx), account.ID); delErr != nil {
				s.logger.Warn("failed to remove imported account", zap.String("account_id", account.ID), zap.Error(delErr))
			}
		}
		return nil, err
	}
	if !created {
		return nil, nil
	}
	return &createdAccount{id: account.ID, username: username}, nil
}

func (s *ImportService) enroll(ctx context.Context, accountID string, row importRow, nationalID, birthDate string) error {
	code := strings.ToUpper(strings.TrimSpace(row[colProgramCode]))
	program, err := s.programs.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.WithField(appErrors.ErrUnknownProgram, colProgramCode, fmt.Sprintf("unknown program code %s", code))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program")
	}
	_, err = s.enrollments.Submit(ctx, accountID, EnrollmentRequest{
		ProgramID:     program.ID,
		LastName:      row[colLastName],
		FirstNames:    row[colFirstNames],
		NationalID:    nationalID,
		PersonalEmail: row[colPersonalEmail],
		Phone:         row[colPhone],
		BirthDate:     birthDate,
		BirthPlace:    row[colBirthPlace],
	})
	return err
}

// GetBatch returns one import batch.
func (s *ImportService) GetBatch(ctx context.Context, id string) (*models.ImportBatch, error) {
	batch, err := s.batches.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "import batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load import batch")
	}
	return batch, nil
}

// ListBatches returns import batches, newest first.
func (s *ImportService) ListBatches(ctx context.Context, page, size int) ([]models.ImportBatch, *models.Pagination, error) {
	page, size = models.NormalizePage(page, size)
	batches, total, err := s.batches.List(ctx, page, size)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list import batches")
	}
	return batches, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

type importColumns map[string]int

func mapImportHeader(header []string) (importColumns, error) {
	columns := importColumns{}
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(raw))
		name = strings.ReplaceAll(name, " ", "_")
		if canonical, ok := importColumnAliases[name]; ok {
			if _, seen := columns[canonical]; !seen {
				columns[canonical] = i
			}
		}
	}
	var missing []string
	for _, col := range requiredImportColumns {
		if _, ok := columns[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return columns, nil
}

type importRow map[string]string

func (c importColumns) row(cells []string) importRow {
	row := make(importRow, len(c))
	for name, idx := range c {
		if idx < len(cells) {
			row[name] = strings.TrimSpace(cells[idx])
		}
	}
	return row
}

func (r importRow) blank() bool {
	for _, v := range r {
		if v != "" {
			return false
		}
	}
	return true
}

func parseImportDate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	for _, layout := range importDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", appErrors.WithField(appErrors.ErrValidation, colBirthDate, fmt.Sprintf("invalid birth date %q", raw))
}

func rowErrorMessage(err error) string {
	return appErrors.FromError(err).Message
}
