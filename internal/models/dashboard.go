package models

// ValidationStatusCounts counts enrollment records per validation status.
type ValidationStatusCounts struct {
	Pending   int `db:"pending" json:"pending"`
	Validated int `db:"validated" json:"validated"`
	Rejected  int `db:"rejected" json:"rejected"`
}

// Total returns the number of records.
func (c ValidationStatusCounts) Total() int {
	return c.Pending + c.Validated + c.Rejected
}

// ValidationRate returns the share of validated records as a percentage.
func (c ValidationStatusCounts) ValidationRate() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Validated) / float64(c.Total()) * 100
}

// DocumentCounts counts uploaded documents by review state.
type DocumentCounts struct {
	Pending   int `db:"pending" json:"pending"`
	Validated int `db:"validated" json:"validated"`
}

// ProgramLoad is one program's occupancy as shown on the dashboard.
type ProgramLoad struct {
	ProgramID     string  `db:"id" json:"program_id"`
	Code          string  `db:"code" json:"code"`
	Name          string  `db:"name" json:"name"`
	Capacity      int     `db:"capacity" json:"capacity"`
	Occupancy     int     `db:"occupancy" json:"occupancy"`
	OccupancyRate float64 `db:"-" json:"occupancy_rate"`
}

// AdminDashboard is the administrator landing page.
type AdminDashboard struct {
	Enrollments      ValidationStatusCounts `json:"enrollments"`
	ValidationRate   float64                `json:"validation_rate"`
	Documents        DocumentCounts         `json:"documents"`
	ActivePrograms   int                    `json:"active_programs"`
	Programs         []ProgramLoad          `json:"programs"`
	Recent           []EnrollmentListItem   `json:"recent_enrollments"`
	ReminderSent     bool                   `json:"reminder_sent"`
	PendingThreshold int                    `json:"pending_threshold"`
}

// EnrollmentOverview summarises where a record stands in the validation flow.
type EnrollmentOverview struct {
	EnrollmentID       string             `json:"enrollment_id"`
	RegistrationNumber string             `json:"registration_number"`
	RegistrationStatus RegistrationStatus `json:"registration_status"`
	ValidationStatus   ValidationStatus   `json:"validation_status"`
	CompletionPercent  int                `json:"completion_percent"`
	Missing            []DocumentKind     `json:"missing_documents"`
	Documents          DocumentRatio      `json:"documents"`
}
