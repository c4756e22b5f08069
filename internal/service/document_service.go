package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	"github.com/noah-isme/iut-admissions-api/internal/repository"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
	"github.com/noah-isme/iut-admissions-api/pkg/storage"
)

const sniffLength = 3072

type documentStore interface {
	Upsert(ctx context.Context, doc *models.RequiredDocument, reopenRejected bool) (repository.UpsertResult, error)
	FindByID(ctx context.Context, id string) (*models.RequiredDocument, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.RequiredDocument, error)
	Delete(ctx context.Context, id, enrollmentID string) (string, error)
	SetValidation(ctx context.Context, id string, fn func(*models.RequiredDocument) error) (*models.RequiredDocument, error)
	ListPending(ctx context.Context, filter models.PendingDocumentFilter) ([]models.PendingDocument, int, error)
}

type enrollmentFinder interface {
	FindByID(ctx context.Context, id string) (*models.EnrollmentRecord, error)
	FindByAccount(ctx context.Context, accountID string) (*models.EnrollmentRecord, error)
}

type fileStore interface {
	Save(ctx context.Context, r io.Reader, pathHint string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

type downloadSigner interface {
	Generate(documentID, key string) (string, time.Time, error)
	Parse(token string) (*storage.DownloadGrant, error)
}

type documentMetrics interface {
	DocumentUploaded(kind string)
	DocumentReviewed(approved bool)
}

// DocumentUpload carries an uploaded file stream and its declared metadata.
type DocumentUpload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// DocumentLink is a signed, expiring download link.
type DocumentLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DocumentDownload is an opened stored file ready to stream.
type DocumentDownload struct {
	Content     io.ReadCloser
	Filename    string
	ContentType string
	Size        int64
}

// DocumentChecklist summarises the documents of one record.
type DocumentChecklist struct {
	Documents []models.RequiredDocument `json:"documents"`
	Missing   []models.DocumentKind     `json:"missing"`
	Ratio     models.DocumentRatio      `json:"ratio"`
}

// DocumentConfig holds the upload policy.
type DocumentConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
	AllowedMIMEs      []string
	APIPrefix         string
}

// DocumentService stores the required documents of enrollment records and
// their review state.
type DocumentService struct {
	docs        documentStore
	enrollments enrollmentFinder
	files       fileStore
	signer      downloadSigner
	notifier    notifier
	metrics     documentMetrics
	logger      *zap.Logger
	cfg         DocumentConfig
	extSet      map[string]struct{}
	now         func() time.Time
}

// NewDocumentService constructs the service with defaults.
func NewDocumentService(docs documentStore, enrollments enrollmentFinder, files fileStore, signer downloadSigner, n notifier, metrics documentMetrics, logger *zap.Logger, cfg DocumentConfig) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 5 * 1024 * 1024
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".pdf", ".jpg", ".jpeg", ".png"}
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"application/pdf", "image/jpeg", "image/png"}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	extSet := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extSet[ext] = struct{}{}
	}
	return &DocumentService{
		docs:        docs,
		enrollments: enrollments,
		files:       files,
		signer:      signer,
		notifier:    n,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		extSet:      extSet,
		now:         time.Now,
	}
}

// Upload stores a document in the caller's own record. Uploading into a
// rejected record sends it back to pending.
func (s *DocumentService) Upload(ctx context.Context, accountID string, kind models.DocumentKind, upload DocumentUpload) (*models.RequiredDocument, error) {
	record, err := s.ownRecord(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, record, kind, upload, true)
}

// AdminUpload stores a document on behalf of a record's owner.
func (s *DocumentService) AdminUpload(ctx context.Context, enrollmentID string, kind models.DocumentKind, upload DocumentUpload) (*models.RequiredDocument, error) {
	record, err := s.record(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, record, kind, upload, false)
}

func (s *DocumentService) store(ctx context.Context, record *models.EnrollmentRecord, kind models.DocumentKind, upload DocumentUpload, reopen bool) (*models.RequiredDocument, error) {
	if !kind.Valid() {
		return nil, appErrors.WithField(appErrors.ErrValidation, "kind", fmt.Sprintf("unknown document kind %q", kind))
	}
	if upload.Content == nil || upload.Size == 0 {
		return nil, appErrors.WithField(appErrors.ErrValidation, "file", "file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, appErrors.WithField(appErrors.ErrFileTooLarge, "file", fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	ext := strings.ToLower(filepath.Ext(upload.Filename))
	if _, ok := s.extSet[ext]; !ok {
		return nil, appErrors.WithField(appErrors.ErrUnsupportedFileType, "file", fmt.Sprintf("extension %q is not allowed", ext))
	}

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(upload.Content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
	}
	head = head[:n]
	detected := mimetype.Detect(head)
	contentType, ok := s.allowedMIME(detected)
	if !ok {
		return nil, appErrors.WithField(appErrors.ErrUnsupportedFileType, "file", fmt.Sprintf("content type %s is not allowed", detected.String()))
	}

	body := &sizeGuard{r: io.MultiReader(bytes.NewReader(head), upload.Content), limit: s.cfg.MaxFileSize}
	key, err := s.files.Save(ctx, body, fmt.Sprintf("documents/%s/%s/%s", record.ID, kind, filepath.Base(upload.Filename)))
	if err != nil {
		if errors.Is(err, errUploadTooLarge) {
			return nil, appErrors.WithField(appErrors.ErrFileTooLarge, "file", fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}

	doc := &models.RequiredDocument{
		EnrollmentID: record.ID,
		Kind:         kind,
		FileKey:      key,
		OriginalName: filepath.Base(upload.Filename),
		ContentType:  contentType,
		SizeBytes:    body.read,
		UploadedAt:   s.now().UTC(),
	}
	result, err := s.docs.Upsert(ctx, doc, reopen)
	if err != nil {
		s.discard(ctx, key)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save document")
	}
	if result.PreviousKey != "" && result.PreviousKey != key {
		s.discard(ctx, result.PreviousKey)
	}
	if result.Reopened {
		s.logger.Info("rejected enrollment resubmitted by upload", zap.String("enrollment_id", record.ID))
	}

	if s.metrics != nil {
		s.metrics.DocumentUploaded(string(kind))
	}
	if s.notifier != nil {
		s.notifier.Create(ctx, DocumentUploadedDraft(record.AccountID, kind))
	}
	return doc, nil
}

func (s *DocumentService) allowedMIME(detected *mimetype.MIME) (string, bool) {
	for _, allowed := range s.cfg.AllowedMIMEs {
		if detected.Is(allowed) {
			return strings.ToLower(allowed), true
		}
	}
	return "", false
}

// Remove deletes one of the caller's own documents.
func (s *DocumentService) Remove(ctx context.Context, accountID, documentID string) error {
	record, err := s.ownRecord(ctx, accountID)
	if err != nil {
		return err
	}
	key, err := s.docs.Delete(ctx, documentID, record.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete document")
	}
	s.discard(ctx, key)
	return nil
}

// SetValidation records an administrator's review of a document and tells
// the owner about it.
func (s *DocumentService) SetValidation(ctx context.Context, documentID, adminID string, approved bool, comment string) (*models.RequiredDocument, error) {
	reviewedAt := s.now().UTC()
	doc, err := s.docs.SetValidation(ctx, documentID, func(d *models.RequiredDocument) error {
		d.Validated = approved
		d.ValidatorID = nil
		if approved {
			validator := adminID
			d.ValidatorID = &validator
		}
		d.ReviewedAt = &reviewedAt
		d.Comment = strings.TrimSpace(comment)
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to review document")
	}
	if s.metrics != nil {
		s.metrics.DocumentReviewed(approved)
	}

	record, err := s.enrollments.FindByID(ctx, doc.EnrollmentID)
	if err != nil {
		s.logger.Warn("document reviewed but owner lookup failed", zap.String("document_id", doc.ID), zap.Error(err))
		return doc, nil
	}
	if s.notifier != nil {
		if approved {
			s.notifier.Create(ctx, DocumentValidatedDraft(record.AccountID, doc.Kind, adminID))
		} else {
			s.notifier.Create(ctx, DocumentRejectedDraft(record.AccountID, doc.Kind, adminID, doc.Comment))
		}
	}
	return doc, nil
}

// List returns the documents of a record in upload order.
func (s *DocumentService) List(ctx context.Context, enrollmentID string) ([]models.RequiredDocument, error) {
	docs, err := s.docs.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	if docs == nil {
		docs = []models.RequiredDocument{}
	}
	return docs, nil
}

// ListOwn returns the caller's documents along with what is still missing.
func (s *DocumentService) ListOwn(ctx context.Context, accountID string) (*DocumentChecklist, error) {
	record, err := s.ownRecord(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.Checklist(ctx, record.ID)
}

// Checklist returns a record's documents, missing kinds and validation ratio.
func (s *DocumentService) Checklist(ctx context.Context, enrollmentID string) (*DocumentChecklist, error) {
	docs, err := s.List(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	return &DocumentChecklist{Documents: docs, Missing: models.MissingKinds(docs), Ratio: models.ValidationRatio(docs)}, nil
}

// MissingKinds returns the required kinds the record has not uploaded.
func (s *DocumentService) MissingKinds(ctx context.Context, enrollmentID string) ([]models.DocumentKind, error) {
	docs, err := s.List(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	return models.MissingKinds(docs), nil
}

// ValidationRatio returns validated over uploaded documents for a record.
func (s *DocumentService) ValidationRatio(ctx context.Context, enrollmentID string) (models.DocumentRatio, error) {
	docs, err := s.List(ctx, enrollmentID)
	if err != nil {
		return models.DocumentRatio{}, err
	}
	return models.ValidationRatio(docs), nil
}

// ListPending returns the review queue.
func (s *DocumentService) ListPending(ctx context.Context, filter models.PendingDocumentFilter) ([]models.PendingDocument, *models.Pagination, error) {
	if filter.Kind != nil && !filter.Kind.Valid() {
		return nil, nil, appErrors.WithField(appErrors.ErrValidation, "kind", "unknown document kind")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	filter.Page, filter.PageSize = page, size
	items, total, err := s.docs.ListPending(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending documents")
	}
	if items == nil {
		items = []models.PendingDocument{}
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// DownloadURL signs a download link. Only the owner and administrators may ask.
func (s *DocumentService) DownloadURL(ctx context.Context, documentID string, requester *models.JWTClaims) (*DocumentLink, error) {
	if requester == nil {
		return nil, appErrors.ErrUnauthorized
	}
	doc, err := s.docs.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	if requester.Role != models.RoleAdmin {
		record, err := s.enrollments.FindByAccount(ctx, requester.UserID)
		if err != nil || record.ID != doc.EnrollmentID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "document belongs to another enrollment")
		}
	}
	token, expiresAt, err := s.signer.Generate(doc.ID, doc.FileKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	link := fmt.Sprintf("%s/documents/download?%s", strings.TrimRight(s.cfg.APIPrefix, "/"), url.Values{"token": {token}}.Encode())
	return &DocumentLink{URL: link, ExpiresAt: expiresAt}, nil
}

// Open resolves a signed token to the stored file. Links die when the
// document is replaced.
func (s *DocumentService) Open(ctx context.Context, token string) (*DocumentDownload, error) {
	grant, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download link")
	}
	doc, err := s.docs.FindByID(ctx, grant.DocumentID)
	if err != nil || doc.FileKey != grant.Key {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
	}
	rc, err := s.files.Open(ctx, doc.FileKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document file missing")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open document")
	}
	return &DocumentDownload{Content: rc, Filename: doc.OriginalName, ContentType: doc.ContentType, Size: doc.SizeBytes}, nil
}

func (s *DocumentService) ownRecord(ctx context.Context, accountID string) (*models.EnrollmentRecord, error) {
	record, err := s.enrollments.FindByAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return record, nil
}

func (s *DocumentService) record(ctx context.Context, enrollmentID string) (*models.EnrollmentRecord, error) {
	record, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return record, nil
}

// discard deletes a stored file, logging failures.
func (s *DocumentService) discard(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.files.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("failed to delete stored document", zap.String("key", key), zap.Error(err))
	}
}

var errUploadTooLarge = errors.New("upload exceeds size limit")

// sizeGuard fails once more than limit bytes have been read.
type sizeGuard struct {
	r     io.Reader
	limit int64
	read  int64
}

func (g *sizeGuard) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	g.read += int64(n)
	if g.read > g.limit {
		return n, errUploadTooLarge
	}
	return n, err
}
