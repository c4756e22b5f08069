package dto

import "github.com/noah-isme/iut-admissions-api/internal/models"

// NotificationListQuery binds the notification inbox filters.
type NotificationListQuery struct {
	UnreadOnly bool `form:"unread"`
	Page       int  `form:"page"`
	PageSize   int  `form:"page_size"`
}

// ToFilter converts the query into a repository filter.
func (q NotificationListQuery) ToFilter() models.NotificationFilter {
	return models.NotificationFilter{UnreadOnly: q.UnreadOnly, Page: q.Page, PageSize: q.PageSize}
}

// MarkAllReadResponse reports how many notifications changed state.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

// NotificationPreferenceRequest replaces the email preferences of the caller.
type NotificationPreferenceRequest struct {
	EmailEnrollment  bool `json:"email_enrollment"`
	EmailDocuments   bool `json:"email_documents"`
	EmailValidation  bool `json:"email_validation"`
	EmailReminders   bool `json:"email_reminders"`
	EmailInformation bool `json:"email_information"`
}

// ToModel builds the stored preference row.
func (r NotificationPreferenceRequest) ToModel() models.NotificationPreference {
	return models.NotificationPreference{
		EmailEnrollment:  r.EmailEnrollment,
		EmailDocuments:   r.EmailDocuments,
		EmailValidation:  r.EmailValidation,
		EmailReminders:   r.EmailReminders,
		EmailInformation: r.EmailInformation,
	}
}
