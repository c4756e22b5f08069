package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/iut-admissions-api/internal/models"
)

func TestNotificationMarkReadOtherRecipient(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE, read_at = COALESCE(read_at, $3) WHERE id = $1 AND recipient_id = $2")).
		WithArgs("n1", "intruder", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRead(context.Background(), "n1", "intruder", time.Now())
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationDeleteScopedToRecipient(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	query := regexp.QuoteMeta("DELETE FROM notifications WHERE id = $1 AND recipient_id = $2")
	mock.ExpectExec(query).WithArgs("n1", "intruder").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(query).WithArgs("n1", "stu-1").WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Delete(context.Background(), "n1", "intruder")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, repo.Delete(context.Background(), "n1", "stu-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationListUnreadOnly(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND read = FALSE")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC LIMIT $2 OFFSET $3")).
		WithArgs("u1", 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "recipient_id", "sender_id", "kind", "priority", "title", "body",
			"action_url", "read", "read_at", "email_sent", "created_at"}).
			AddRow("n1", "u1", nil, "reminder", "normal", "t", "b", "", false, nil, false, now))

	items, total, err := repo.ListForRecipient(context.Background(), "u1", models.NotificationFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, items, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationPreferencesDefault(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM notification_preferences WHERE account_id = $1")).
		WithArgs("u1").
		WillReturnError(sql.ErrNoRows)

	pref, err := repo.GetPreferences(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, pref.EmailEnrollment)
	assert.False(t, pref.EmailInformation)
	assert.NoError(t, mock.ExpectationsWereMet())
}
