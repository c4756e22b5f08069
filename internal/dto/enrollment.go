package dto

import (
	"fmt"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

// EnrollmentListQuery binds the filters of the administrative enrollment listing
// and of the roster export.
type EnrollmentListQuery struct {
	ProgramID          string `form:"program_id"`
	RegistrationStatus string `form:"registration_status"`
	ValidationStatus   string `form:"validation_status"`
	Year               int    `form:"year"`
	Search             string `form:"q"`
	Page               int    `form:"page"`
	PageSize           int    `form:"page_size"`
	Format             string `form:"format"`
}

// ToFilter converts the query into a repository filter, rejecting unknown statuses.
func (q EnrollmentListQuery) ToFilter() (models.EnrollmentFilter, error) {
	filter := models.EnrollmentFilter{
		ProgramID: q.ProgramID,
		Year:      q.Year,
		Search:    q.Search,
		Page:      q.Page,
		PageSize:  q.PageSize,
	}
	if q.RegistrationStatus != "" {
		status := models.RegistrationStatus(q.RegistrationStatus)
		if !status.Valid() {
			return filter, appErrors.WithField(appErrors.ErrValidation, "registration_status", fmt.Sprintf("unknown registration status %q", q.RegistrationStatus))
		}
		filter.RegistrationStatus = &status
	}
	if q.ValidationStatus != "" {
		status := models.ValidationStatus(q.ValidationStatus)
		if !status.Valid() {
			return filter, appErrors.WithField(appErrors.ErrValidation, "validation_status", fmt.Sprintf("unknown validation status %q", q.ValidationStatus))
		}
		filter.ValidationStatus = &status
	}
	return filter, nil
}

// RejectEnrollmentRequest carries the reason shown to the student.
type RejectEnrollmentRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RegistrationStatusRequest changes the registration status of a record.
type RegistrationStatusRequest struct {
	Status models.RegistrationStatus `json:"status" binding:"required"`
}

// ProgramListQuery binds the administrative program listing filters.
type ProgramListQuery struct {
	Status      string `form:"status"`
	Eligibility string `form:"eligibility"`
	Search      string `form:"q"`
	Page        int    `form:"page"`
	PageSize    int    `form:"page_size"`
}

// ToFilter converts the query into a repository filter.
func (q ProgramListQuery) ToFilter() (models.ProgramFilter, error) {
	filter := models.ProgramFilter{Search: q.Search, Page: q.Page, PageSize: q.PageSize}
	if q.Status != "" {
		status := models.ProgramStatus(q.Status)
		if !status.Valid() {
			return filter, appErrors.WithField(appErrors.ErrValidation, "status", fmt.Sprintf("unknown program status %q", q.Status))
		}
		filter.Status = &status
	}
	if q.Eligibility != "" {
		domain := models.EligibilityDomain(q.Eligibility)
		if !domain.Valid() {
			return filter, appErrors.WithField(appErrors.ErrValidation, "eligibility", fmt.Sprintf("unknown eligibility %q", q.Eligibility))
		}
		filter.Eligibility = &domain
	}
	return filter, nil
}
