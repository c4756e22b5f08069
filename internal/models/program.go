package models

import (
	"regexp"
	"strings"
	"time"
)

// EligibilityDomain restricts which prior diplomas a program accepts.
type EligibilityDomain string

const (
	EligibilityGeneral    EligibilityDomain = "general"
	EligibilityScientific EligibilityDomain = "scientific"
	EligibilityTechnical  EligibilityDomain = "technical"
	EligibilityAny        EligibilityDomain = "any"
)

// Valid reports whether the domain is known.
func (d EligibilityDomain) Valid() bool {
	switch d {
	case EligibilityGeneral, EligibilityScientific, EligibilityTechnical, EligibilityAny:
		return true
	}
	return false
}

// ProgramStatus gates program visibility.
type ProgramStatus string

const (
	ProgramActive    ProgramStatus = "active"
	ProgramInactive  ProgramStatus = "inactive"
	ProgramSuspended ProgramStatus = "suspended"
)

// Valid reports whether the status is known.
func (s ProgramStatus) Valid() bool {
	switch s {
	case ProgramActive, ProgramInactive, ProgramSuspended:
		return true
	}
	return false
}

// DefaultProgramCapacity is used when a program is created without a capacity.
const DefaultProgramCapacity = 60

// ProgramCodeMaxLength bounds program codes.
const ProgramCodeMaxLength = 10

var programCodePattern = regexp.MustCompile(`^[A-Z0-9_-]+$`)

// Program (filière) is a capacity-bounded academic track.
type Program struct {
	ID          string            `db:"id" json:"id"`
	Code        string            `db:"code" json:"code"`
	Name        string            `db:"name" json:"name"`
	Description string            `db:"description" json:"description"`
	Capacity    int               `db:"capacity" json:"capacity"`
	Occupancy   int               `db:"occupancy" json:"occupancy"`
	Eligibility EligibilityDomain `db:"eligibility" json:"eligibility"`
	Status      ProgramStatus     `db:"status" json:"status"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// OccupancyRate returns the program's occupancy as a percentage.
func (p Program) OccupancyRate() float64 {
	return OccupancyRate(p.Occupancy, p.Capacity)
}

// RemainingSeats returns the seats still available, never negative.
func (p Program) RemainingSeats() int {
	if p.Occupancy >= p.Capacity {
		return 0
	}
	return p.Capacity - p.Occupancy
}

// OccupancyRate computes occupancy/capacity as a percentage, 0 when capacity is not positive.
func OccupancyRate(occupancy, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return float64(occupancy) / float64(capacity) * 100
}

// NormalizeProgramCode trims and uppercases a program code.
func NormalizeProgramCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidProgramCode reports whether an already normalized code is acceptable.
func ValidProgramCode(code string) bool {
	return code != "" && len(code) <= ProgramCodeMaxLength && programCodePattern.MatchString(code)
}

// ProgramFilter captures filtering criteria for the administrative program listing.
type ProgramFilter struct {
	Status      *ProgramStatus
	Eligibility *EligibilityDomain
	Search      string
	Page        int
	PageSize    int
}
