package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RegistrationStatus tracks the administrative registration of a student.
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

// Valid reports whether the status is known.
func (s RegistrationStatus) Valid() bool {
	switch s {
	case RegistrationPending, RegistrationConfirmed, RegistrationCancelled:
		return true
	}
	return false
}

// ValidationStatus is the administrator-controlled approval state of a record.
type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
	ValidationRejected  ValidationStatus = "rejected"
)

// Valid reports whether the status is known.
func (s ValidationStatus) Valid() bool {
	switch s {
	case ValidationPending, ValidationValidated, ValidationRejected:
		return true
	}
	return false
}

var nationalIDPattern = regexp.MustCompile(`^[0-9A-Z]+$`)

// NormalizeNationalID uppercases and strips spaces from a national ID.
func NormalizeNationalID(raw string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
}

// ValidNationalID reports whether a normalized national ID has an acceptable shape.
func ValidNationalID(id string) bool {
	return len(id) >= 4 && len(id) <= 32 && nationalIDPattern.MatchString(id)
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// EnrollmentRecord is a student's academic record.
type EnrollmentRecord struct {
	ID        string `db:"id" json:"id"`
	AccountID string `db:"account_id" json:"account_id"`
	ProgramID string `db:"program_id" json:"program_id"`

	LastName       string     `db:"last_name" json:"last_name"`
	FirstNames     string     `db:"first_names" json:"first_names"`
	BirthDate      *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	BirthPlace     string     `db:"birth_place" json:"birth_place"`
	Nationality    string     `db:"nationality" json:"nationality"`
	RegionOfOrigin string     `db:"region_of_origin" json:"region_of_origin"`
	NationalID     string     `db:"national_id" json:"national_id"`
	Phone          string     `db:"phone" json:"phone"`
	PersonalEmail  string     `db:"personal_email" json:"personal_email"`
	Address        string     `db:"address" json:"address"`

	FatherName  string `db:"father_name" json:"father_name"`
	FatherPhone string `db:"father_phone" json:"father_phone"`
	MotherName  string `db:"mother_name" json:"mother_name"`
	MotherPhone string `db:"mother_phone" json:"mother_phone"`

	Diploma     string `db:"diploma" json:"diploma"`
	DiplomaYear *int   `db:"diploma_year" json:"diploma_year,omitempty"`

	RegistrationNumber string             `db:"registration_number" json:"registration_number"`
	RegistrationStatus RegistrationStatus `db:"registration_status" json:"registration_status"`
	ValidationStatus   ValidationStatus   `db:"validation_status" json:"validation_status"`
	ValidatedAt        *time.Time         `db:"validated_at" json:"validated_at,omitempty"`
	ValidatedBy        *string            `db:"validated_by" json:"validated_by,omitempty"`
	RejectionReason    string             `db:"rejection_reason" json:"rejection_reason,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// FullName returns "LAST First".
func (r *EnrollmentRecord) FullName() string {
	return strings.TrimSpace(r.LastName + " " + r.FirstNames)
}

// EnrollmentListItem is a record joined with its program for listings.
type EnrollmentListItem struct {
	EnrollmentRecord
	ProgramCode string `db:"program_code" json:"program_code"`
	ProgramName string `db:"program_name" json:"program_name"`
}

// EnrollmentFilter captures filtering criteria for the administrative listing.
type EnrollmentFilter struct {
	ProgramID          string
	RegistrationStatus *RegistrationStatus
	ValidationStatus   *ValidationStatus
	Year               int
	Search             string
	Page               int
	PageSize           int
}

// completionFieldCount is the size of the profile completeness checklist.
const completionFieldCount = 10

// CompletionProgress returns the percentage (0-100, truncated) of checklist
// fields filled in: birth date, birth place, national ID, phone, personal
// email, address, father name, mother name, diploma and diploma year.
func CompletionProgress(r *EnrollmentRecord) int {
	if r == nil {
		return 0
	}
	filled := 0
	for _, ok := range []bool{
		r.BirthDate != nil,
		notBlank(r.BirthPlace),
		notBlank(r.NationalID),
		notBlank(r.Phone),
		notBlank(r.PersonalEmail),
		notBlank(r.Address),
		notBlank(r.FatherName),
		notBlank(r.MotherName),
		notBlank(r.Diploma),
		r.DiplomaYear != nil && *r.DiplomaYear > 0,
	} {
		if ok {
			filled++
		}
	}
	return filled * 100 / completionFieldCount
}

func notBlank(s string) bool { return strings.TrimSpace(s) != "" }

// TransitionError reports a refused status change.
type TransitionError struct {
	Field string
	From  string
	To    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Field, e.From, e.To)
}

func validationTransition(from, to ValidationStatus) error {
	return &TransitionError{Field: "validation_status", From: string(from), To: string(to)}
}

// Validate marks the record validated. Re-validating an already validated
// record re-stamps the timestamp; a rejected record must return to pending first.
func (r *EnrollmentRecord) Validate(adminID string, now time.Time) error {
	switch r.ValidationStatus {
	case ValidationPending, ValidationValidated:
	default:
		return validationTransition(r.ValidationStatus, ValidationValidated)
	}
	stamp := now.UTC()
	r.ValidationStatus = ValidationValidated
	r.ValidatedAt = &stamp
	r.ValidatedBy = &adminID
	r.RejectionReason = ""
	return nil
}

// Reject marks the record rejected and clears the validation stamp. The
// validated_by column stays empty on a rejection.
func (r *EnrollmentRecord) Reject(reason string) error {
	switch r.ValidationStatus {
	case ValidationPending, ValidationRejected:
	default:
		return validationTransition(r.ValidationStatus, ValidationRejected)
	}
	r.ValidationStatus = ValidationRejected
	r.ValidatedAt = nil
	r.ValidatedBy = nil
	r.RejectionReason = strings.TrimSpace(reason)
	return nil
}

// Resubmit moves a rejected record back to pending.
func (r *EnrollmentRecord) Resubmit() error {
	if r.ValidationStatus != ValidationRejected {
		return validationTransition(r.ValidationStatus, ValidationPending)
	}
	r.ValidationStatus = ValidationPending
	r.ValidatedAt = nil
	r.ValidatedBy = nil
	return nil
}

// Reopen moves a validated record back to pending.
func (r *EnrollmentRecord) Reopen() error {
	if r.ValidationStatus != ValidationValidated {
		return validationTransition(r.ValidationStatus, ValidationPending)
	}
	r.ValidationStatus = ValidationPending
	r.ValidatedAt = nil
	r.ValidatedBy = nil
	return nil
}

// SetRegistrationStatus applies pending -> confirmed|cancelled.
func (r *EnrollmentRecord) SetRegistrationStatus(to RegistrationStatus) error {
	if r.RegistrationStatus != RegistrationPending || (to != RegistrationConfirmed && to != RegistrationCancelled) {
		return &TransitionError{Field: "registration_status", From: string(r.RegistrationStatus), To: string(to)}
	}
	r.RegistrationStatus = to
	return nil
}

// HoldsSeat reports whether the record counts towards its program's occupancy.
func (r *EnrollmentRecord) HoldsSeat() bool {
	return r.RegistrationStatus != RegistrationCancelled
}
