package models

import "time"

// NotificationKind classifies notifications; it also selects the email preference that gates delivery.
type NotificationKind string

const (
	NotifyEnrollmentComplete  NotificationKind = "enrollment_complete"
	NotifyEnrollmentValidated NotificationKind = "enrollment_validated"
	NotifyEnrollmentRejected  NotificationKind = "enrollment_rejected"
	NotifyRegistrationChanged NotificationKind = "registration_changed"
	NotifyDocumentUploaded    NotificationKind = "document_uploaded"
	NotifyDocumentValidated   NotificationKind = "document_validated"
	NotifyDocumentRejected    NotificationKind = "document_rejected"
	NotifyDocumentsMissing    NotificationKind = "documents_missing"
	NotifyProfileIncomplete   NotificationKind = "profile_incomplete"
	NotifyImportSuccess       NotificationKind = "import_success"
	NotifyImportError         NotificationKind = "import_error"
	NotifyReminder            NotificationKind = "reminder"
	NotifyInfo                NotificationKind = "info"
	NotifyAlert               NotificationKind = "alert"
	NotifyOther               NotificationKind = "other"
)

// NotificationPriority orders notifications for display.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// Notification is an in-app message addressed to one account.
type Notification struct {
	ID          string               `db:"id" json:"id"`
	RecipientID string               `db:"recipient_id" json:"recipient_id"`
	SenderID    *string              `db:"sender_id" json:"sender_id,omitempty"`
	Kind        NotificationKind     `db:"kind" json:"kind"`
	Priority    NotificationPriority `db:"priority" json:"priority"`
	Title       string               `db:"title" json:"title"`
	Body        string               `db:"body" json:"body"`
	ActionURL   string               `db:"action_url" json:"action_url,omitempty"`
	Read        bool                 `db:"read" json:"read"`
	ReadAt      *time.Time           `db:"read_at" json:"read_at,omitempty"`
	EmailSent   bool                 `db:"email_sent" json:"email_sent"`
	CreatedAt   time.Time            `db:"created_at" json:"created_at"`
}

// NotificationPreference controls which notification kinds are also emailed.
type NotificationPreference struct {
	AccountID        string    `db:"account_id" json:"account_id"`
	EmailEnrollment  bool      `db:"email_enrollment" json:"email_enrollment"`
	EmailDocuments   bool      `db:"email_documents" json:"email_documents"`
	EmailValidation  bool      `db:"email_validation" json:"email_validation"`
	EmailReminders   bool      `db:"email_reminders" json:"email_reminders"`
	EmailInformation bool      `db:"email_information" json:"email_information"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultNotificationPreference returns the preferences applied to accounts that never saved any.
func DefaultNotificationPreference(accountID string) NotificationPreference {
	return NotificationPreference{
		AccountID:       accountID,
		EmailEnrollment: true,
		EmailDocuments:  true,
		EmailValidation: true,
		EmailReminders:  true,
	}
}

// AllowsEmail reports whether a notification of kind should be emailed. Kinds
// with no matching preference are always emailed.
func (p NotificationPreference) AllowsEmail(kind NotificationKind) bool {
	switch kind {
	case NotifyEnrollmentComplete, NotifyEnrollmentValidated, NotifyEnrollmentRejected, NotifyRegistrationChanged:
		return p.EmailEnrollment
	case NotifyDocumentUploaded, NotifyDocumentValidated, NotifyDocumentRejected, NotifyDocumentsMissing:
		return p.EmailDocuments
	case NotifyProfileIncomplete:
		return p.EmailValidation
	case NotifyReminder:
		return p.EmailReminders
	case NotifyInfo:
		return p.EmailInformation
	default:
		return true
	}
}

// NotificationFilter narrows a recipient's notification list.
type NotificationFilter struct {
	UnreadOnly bool
	Page       int
	PageSize   int
}

// NotificationDraft is the input of the notification gateway.
type NotificationDraft struct {
	RecipientID string
	SenderID    *string
	Kind        NotificationKind
	Priority    NotificationPriority
	Title       string
	Body        string
	ActionURL   string
}
