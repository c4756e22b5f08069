package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/iut-admissions-api/internal/models"
)

const notificationColumns = `id, recipient_id, sender_id, kind, priority, title, body, action_url, read, read_at, email_sent, created_at`

// NotificationRepository stores in-app notifications and email preferences.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO notifications (` + notificationColumns + `) VALUES
(:id, :recipient_id, :sender_id, :kind, :priority, :title, :body, :action_url, :read, :read_at, :email_sent, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListForRecipient returns a recipient's notifications, newest first.
func (r *NotificationRepository) ListForRecipient(ctx context.Context, recipientID string, filter models.NotificationFilter) ([]models.Notification, int, error) {
	where := `recipient_id = $1`
	if filter.UnreadOnly {
		where += ` AND read = FALSE`
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications WHERE `+where, recipientID); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	args := append([]interface{}{recipientID}, pageArgs(filter.Page, filter.PageSize)...)
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE ` + where + ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	var items []models.Notification
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return items, total, nil
}

// CountUnread returns the number of unread notifications of a recipient.
func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read = FALSE`, recipientID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead flags one of the recipient's notifications as read. Notifications of
// other recipients are reported as sql.ErrNoRows.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string, at time.Time) error {
	query := `UPDATE notifications SET read = TRUE, read_at = COALESCE(read_at, $3) WHERE id = $1 AND recipient_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, recipientID, at)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes one of the recipient's notifications.
func (r *NotificationRepository) Delete(ctx context.Context, id, recipientID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete notification rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkAllRead flags every unread notification of a recipient and returns how many changed.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET read = TRUE, read_at = $2 WHERE recipient_id = $1 AND read = FALSE`, recipientID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return res.RowsAffected()
}

// MarkEmailSent records a successful email delivery.
func (r *NotificationRepository) MarkEmailSent(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE notifications SET email_sent = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark notification email sent: %w", err)
	}
	return nil
}

// GetPreferences returns an account's email preferences, or the defaults when none were saved.
func (r *NotificationRepository) GetPreferences(ctx context.Context, accountID string) (models.NotificationPreference, error) {
	var pref models.NotificationPreference
	query := `SELECT account_id, email_enrollment, email_documents, email_validation, email_reminders, email_information, updated_at
FROM notification_preferences WHERE account_id = $1`
	if err := r.db.GetContext(ctx, &pref, query, accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DefaultNotificationPreference(accountID), nil
		}
		return pref, fmt.Errorf("get notification preferences: %w", err)
	}
	return pref, nil
}

// UpsertPreferences saves an account's email preferences.
func (r *NotificationRepository) UpsertPreferences(ctx context.Context, pref *models.NotificationPreference) error {
	pref.UpdatedAt = time.Now().UTC()
	query := `INSERT INTO notification_preferences (account_id, email_enrollment, email_documents, email_validation, email_reminders, email_information, updated_at)
VALUES (:account_id, :email_enrollment, :email_documents, :email_validation, :email_reminders, :email_information, :updated_at)
ON CONFLICT (account_id) DO UPDATE SET email_enrollment = EXCLUDED.email_enrollment, email_documents = EXCLUDED.email_documents,
email_validation = EXCLUDED.email_validation, email_reminders = EXCLUDED.email_reminders,
email_information = EXCLUDED.email_information, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, pref); err != nil {
		return fmt.Errorf("upsert notification preferences: %w", err)
	}
	return nil
}
