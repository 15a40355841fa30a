package command

import (
	"context"
	"fmt"
	"time"

	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE PRACTICE COMMAND
// A coordinator registers a new practice. It always starts in PENDING.
// ══════════════════════════════════════════════════════════════════════════════

// CreatePracticeCommand contains the data to register a practice.
type CreatePracticeCommand struct {
	// ID is optional; a UUID is generated when empty.
	ID string `validate:"omitempty,uuid"`

	Type        string `validate:"required,oneof=LABOR PROFESSIONAL"`
	StudentID   string `validate:"required,max=64"`
	ProgramID   string `validate:"required,max=64"`
	ProgramName string `validate:"max=200"`

	InstructorID   *string `validate:"omitempty,min=1,max=64"`
	OrganizationID *string `validate:"omitempty,min=1,max=64"`

	StartDate time.Time `validate:"required"`
	EndDate   time.Time `validate:"required,gtefield=StartDate"`

	// ActorID is the coordinator performing the action, for audit.
	ActorID string
}

// Validate validates the command.
func (c CreatePracticeCommand) Validate() error {
	return validateCommand("CreatePractice", c)
}

// CreatePracticeResult contains the created practice.
type CreatePracticeResult struct {
	Practice *practice.Practice
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CreatePracticeHandler handles the CreatePracticeCommand.
type CreatePracticeHandler struct {
	practices      practice.Repository
	eventPublisher shared.EventPublisher
	clock          Clock
}

// NewCreatePracticeHandler creates a new CreatePracticeHandler.
// eventPublisher and clock may be nil.
func NewCreatePracticeHandler(
	practices practice.Repository,
	eventPublisher shared.EventPublisher,
	clock Clock,
) *CreatePracticeHandler {
	return &CreatePracticeHandler{
		practices:      practices,
		eventPublisher: eventPublisher,
		clock:          clock,
	}
}

// Handle executes the create practice command.
func (h *CreatePracticeHandler) Handle(ctx context.Context, cmd CreatePracticeCommand) (*CreatePracticeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	now := h.clock.now()
	p, err := practice.NewPractice(practice.NewPracticeParams{
		ID:             cmd.ID,
		Type:           practice.Type(cmd.Type),
		StudentID:      cmd.StudentID,
		ProgramID:      cmd.ProgramID,
		ProgramName:    cmd.ProgramName,
		InstructorID:   cmd.InstructorID,
		OrganizationID: cmd.OrganizationID,
		StartDate:      cmd.StartDate,
		EndDate:        cmd.EndDate,
	}, now)
	if err != nil {
		return nil, err
	}

	if err := h.practices.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create_practice: %w", err)
	}

	if h.eventPublisher != nil {
		_ = h.eventPublisher.Publish(shared.NewPracticeCreatedEvent(
			p.ID, p.StudentID, p.ProgramName, string(p.Type), now,
		))
	}

	return &CreatePracticeResult{Practice: p}, nil
}
