package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
	"github.com/noah-isme/iut-admissions-api/pkg/jobs"
	"github.com/noah-isme/iut-admissions-api/pkg/mailer"
)

// JobTypeNotificationEmail identifies deferred notification emails on the job queue.
const JobTypeNotificationEmail = "notification.email"

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListForRecipient(ctx context.Context, recipientID string, filter models.NotificationFilter) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, id, recipientID string, at time.Time) error
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error)
	Delete(ctx context.Context, id, recipientID string) error
	MarkEmailSent(ctx context.Context, id string) error
	GetPreferences(ctx context.Context, accountID string) (models.NotificationPreference, error)
	UpsertPreferences(ctx context.Context, pref *models.NotificationPreference) error
}

type accountReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type jobEnqueuer interface {
	TryEnqueue(job jobs.Job) error
	Pending() int
}

type notificationMetrics interface {
	NotificationEmail(outcome string)
	SetJobQueueDepth(depth int)
}

// NotificationConfig toggles email fan-out.
type NotificationConfig struct {
	EmailEnabled bool
}

// notificationEmail is the payload of a deferred email job.
type notificationEmail struct {
	NotificationID string
	To             mail.Address
	Subject        string
	Body           string
	Category       string
}

// NotificationService persists in-app notifications and defers their email
// copies to the job queue. Creating a notification never fails the caller.
type NotificationService struct {
	store    notificationStore
	accounts accountReader
	mailer   mailer.Mailer
	queue    jobEnqueuer
	metrics  notificationMetrics
	logger   *zap.Logger
	config   NotificationConfig
	now      func() time.Time
}

// NewNotificationService constructs the gateway. Attach a queue with UseQueue
// before emails can be delivered.
func NewNotificationService(store notificationStore, accounts accountReader, m mailer.Mailer, metrics notificationMetrics, logger *zap.Logger, cfg NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = mailer.NewLogMailer(logger)
	}
	return &NotificationService{
		store:    store,
		accounts: accounts,
		mailer:   m,
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
	}
}

// UseQueue attaches the queue that runs DeliverEmail.
func (s *NotificationService) UseQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Create persists a notification and schedules its email when the recipient's
// preferences allow it. Failures are logged and yield nil.
func (s *NotificationService) Create(ctx context.Context, draft models.NotificationDraft) *models.Notification {
	if strings.TrimSpace(draft.RecipientID) == "" || strings.TrimSpace(draft.Title) == "" {
		s.logger.Warn("notification dropped: missing recipient or title", zap.String("kind", string(draft.Kind)))
		return nil
	}
	if draft.Kind == "" {
		draft.Kind = models.NotifyOther
	}
	if draft.Priority == "" {
		draft.Priority = models.PriorityNormal
	}

	n := &models.Notification{
		ID:          uuid.NewString(),
		RecipientID: draft.RecipientID,
		SenderID:    draft.SenderID,
		Kind:        draft.Kind,
		Priority:    draft.Priority,
		Title:       draft.Title,
		Body:        draft.Body,
		ActionURL:   draft.ActionURL,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Create(ctx, n); err != nil {
		s.logger.Error("failed to create notification",
			zap.String("recipient_id", draft.RecipientID), zap.String("kind", string(draft.Kind)), zap.Error(err))
		return nil
	}

	s.scheduleEmail(ctx, n)
	return n
}

func (s *NotificationService) scheduleEmail(ctx context.Context, n *models.Notification) {
	if !s.config.EmailEnabled {
		return
	}
	pref, err := s.store.GetPreferences(ctx, n.RecipientID)
	if err != nil {
		s.logger.Warn("failed to load notification preferences", zap.String("recipient_id", n.RecipientID), zap.Error(err))
		pref = models.DefaultNotificationPreference(n.RecipientID)
	}
	if !pref.AllowsEmail(n.Kind) {
		s.emailOutcome("skipped")
		return
	}
	if s.queue == nil {
		s.emailOutcome("dropped")
		return
	}

	account, err := s.accounts.FindByID(ctx, n.RecipientID)
	if err != nil || strings.TrimSpace(account.Email) == "" {
		s.logger.Warn("notification email skipped: no address", zap.String("recipient_id", n.RecipientID), zap.Error(err))
		s.emailOutcome("skipped")
		return
	}

	job := jobs.Job{
		ID:   n.ID,
		Type: JobTypeNotificationEmail,
		Payload: notificationEmail{
			NotificationID: n.ID,
			To:             mail.Address{Name: account.FullName, Address: account.Email},
			Subject:        n.Title,
			Body:           n.Body,
			Category:       string(n.Kind),
		},
	}
	if err := s.queue.TryEnqueue(job); err != nil {
		s.logger.Warn("notification email dropped", zap.String("notification_id", n.ID), zap.Error(err))
		s.emailOutcome("dropped")
		return
	}
	if s.metrics != nil {
		s.metrics.SetJobQueueDepth(s.queue.Pending())
	}
}

// DeliverEmail is the queue handler sending one notification email. A
// returned error makes the queue retry the job.
func (s *NotificationService) DeliverEmail(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(notificationEmail)
	if !ok {
		s.logger.Error("unexpected notification job payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	msg := mailer.Message{To: payload.To, Subject: payload.Subject, Text: payload.Body, Category: payload.Category}
	if err := s.mailer.Send(ctx, msg); err != nil {
		if errors.Is(err, mailer.ErrNoRecipient) {
			s.emailOutcome("skipped")
			return nil
		}
		return fmt.Errorf("send notification email: %w", err)
	}
	if err := s.store.MarkEmailSent(ctx, payload.NotificationID); err != nil {
		s.logger.Warn("failed to flag notification email as sent", zap.String("notification_id", payload.NotificationID), zap.Error(err))
	}
	s.emailOutcome("sent")
	return nil
}

// EmailGaveUp is the queue's give-up hook for notification emails.
func (s *NotificationService) EmailGaveUp(job jobs.Job, err error) {
	s.logger.Error("notification email abandoned", zap.String("job_id", job.ID), zap.Int("attempts", job.Attempt), zap.Error(err))
	s.emailOutcome("failed")
}

func (s *NotificationService) emailOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.NotificationEmail(outcome)
	}
}

// ListForAccount returns the account's notifications.
func (s *NotificationService) ListForAccount(ctx context.Context, accountID string, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	filter.Page, filter.PageSize = page, size
	items, total, err := s.store.ListForRecipient(ctx, accountID, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// UnreadCount returns the number of unread notifications.
func (s *NotificationService) UnreadCount(ctx context.Context, accountID string) (int, error) {
	count, err := s.store.CountUnread(ctx, accountID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkRead flags one of the account's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, accountID, notificationID string) error {
	if err := s.store.MarkRead(ctx, notificationID, accountID, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// Delete removes one of the account's notifications. Another account's
// notification is reported as not found.
func (s *NotificationService) Delete(ctx context.Context, accountID, notificationID string) error {
	if err := s.store.Delete(ctx, notificationID, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete notification")
	}
	return nil
}

// MarkAllRead flags every unread notification and returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, accountID string) (int64, error) {
	n, err := s.store.MarkAllRead(ctx, accountID, s.now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return n, nil
}

// GetPreferences returns the account's email preferences.
func (s *NotificationService) GetPreferences(ctx context.Context, accountID string) (*models.NotificationPreference, error) {
	pref, err := s.store.GetPreferences(ctx, accountID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preferences")
	}
	return &pref, nil
}

// UpdatePreferences saves the account's email preferences.
func (s *NotificationService) UpdatePreferences(ctx context.Context, accountID string, pref models.NotificationPreference) (*models.NotificationPreference, error) {
	pref.AccountID = accountID
	if err := s.store.UpsertPreferences(ctx, &pref); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save preferences")
	}
	return &pref, nil
}
