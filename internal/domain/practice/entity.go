// Package practice contains the internship ("practice") domain model: the
// lifecycle state machine, evaluations and the final grade closure.
// Everything here is pure: time is always passed in and no I/O is performed.
package practice

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/practicas/practice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Type is the kind of practice.
type Type string

const (
	// TypeLabor - first, work-oriented practice.
	TypeLabor Type = "LABOR"
	// TypeProfessional - final professional practice.
	TypeProfessional Type = "PROFESSIONAL"
)

// IsValid checks if the practice type is known.
func (t Type) IsValid() bool {
	return t == TypeLabor || t == TypeProfessional
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: PRACTICE
// ══════════════════════════════════════════════════════════════════════════════

// Practice is a student internship record moving through the institutional workflow.
type Practice struct {
	// ID - unique identifier (UUID).
	ID string

	// Type - LABOR or PROFESSIONAL.
	Type Type

	// StudentID - the student doing the practice.
	StudentID string

	// ProgramID and ProgramName - the academic program the student belongs to.
	ProgramID   string
	ProgramName string

	// InstructorID - supervising instructor, nil until assigned.
	InstructorID *string

	// OrganizationID - host organization, optional.
	OrganizationID *string

	// StartDate and EndDate - planned practice period.
	StartDate time.Time
	EndDate   time.Time

	// State - current lifecycle state.
	State State

	// StateChangedAt - when the current state was entered.
	StateChangedAt time.Time

	// ReportDocument - reference to the uploaded report, if any.
	ReportDocument *string

	// RejectionReason - reason given when voiding or rejecting.
	RejectionReason *string

	// Version - optimistic concurrency counter maintained by the repository.
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPracticeParams contains the parameters for creating a practice.
type NewPracticeParams struct {
	ID             string
	Type           Type
	StudentID      string
	ProgramID      string
	ProgramName    string
	InstructorID   *string
	OrganizationID *string
	StartDate      time.Time
	EndDate        time.Time
}

// NewPractice creates a practice in PENDING after validating its fields.
// A new UUID is generated when params.ID is empty.
func NewPractice(params NewPracticeParams, now time.Time) (*Practice, error) {
	if !params.Type.IsValid() {
		return nil, invalid("NewPractice", fmt.Sprintf("unknown practice type %q", params.Type))
	}
	if strings.TrimSpace(params.StudentID) == "" {
		return nil, invalid("NewPractice", "student id is required")
	}
	if strings.TrimSpace(params.ProgramID) == "" {
		return nil, invalid("NewPractice", "program id is required")
	}
	if params.StartDate.IsZero() || params.EndDate.IsZero() {
		return nil, invalid("NewPractice", "start and end dates are required")
	}
	if params.EndDate.Before(params.StartDate) {
		return nil, invalid("NewPractice", "end date must not be before start date")
	}

	id := params.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, invalid("NewPractice", "practice id must be a UUID")
	}

	return &Practice{
		ID:             id,
		Type:           params.Type,
		StudentID:      params.StudentID,
		ProgramID:      params.ProgramID,
		ProgramName:    strings.TrimSpace(params.ProgramName),
		InstructorID:   params.InstructorID,
		OrganizationID: params.OrganizationID,
		StartDate:      params.StartDate,
		EndDate:        params.EndDate,
		State:          StatePending,
		StateChangedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// HasReport returns true if a report document has been uploaded.
func (p *Practice) HasReport() bool {
	return p.ReportDocument != nil && strings.TrimSpace(*p.ReportDocument) != ""
}

// AttachReport records the report document reference.
func (p *Practice) AttachReport(ref string, at time.Time) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return invalid("AttachReport", "report reference is required")
	}
	if !p.State.IsActive() {
		return shared.NewDomainError("practice", "AttachReport", shared.ErrInvalidState,
			fmt.Sprintf("cannot attach a report to a %s practice", p.State))
	}
	p.ReportDocument = &ref
	p.UpdatedAt = at
	return nil
}

// AssignInstructor sets the supervising instructor.
func (p *Practice) AssignInstructor(instructorID string, at time.Time) error {
	instructorID = strings.TrimSpace(instructorID)
	if instructorID == "" {
		return invalid("AssignInstructor", "instructor id is required")
	}
	if !p.State.IsActive() {
		return shared.NewDomainError("practice", "AssignInstructor", shared.ErrInvalidState,
			fmt.Sprintf("cannot assign an instructor to a %s practice", p.State))
	}
	p.InstructorID = &instructorID
	p.UpdatedAt = at
	return nil
}

// AcceptsEvaluations returns true while evaluations may be submitted or overwritten.
func (p *Practice) AcceptsEvaluations() bool {
	return p.State == StateFinishedPendingEval || p.State == StateEvaluationComplete
}

// String returns a short representation for logging.
func (p *Practice) String() string {
	return fmt.Sprintf("Practice{ID: %s, Type: %s, Program: %s, State: %s}",
		p.ID, p.Type, p.ProgramName, p.State)
}

// Clone creates a deep copy of the practice.
func (p *Practice) Clone() *Practice {
	if p == nil {
		return nil
	}
	clone := *p
	clone.InstructorID = cloneString(p.InstructorID)
	clone.OrganizationID = cloneString(p.OrganizationID)
	clone.ReportDocument = cloneString(p.ReportDocument)
	clone.RejectionReason = cloneString(p.RejectionReason)
	return &clone
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func invalid(op, msg string) error {
	return shared.NewDomainError("practice", op, shared.ErrValidation, msg)
}
