package command

import (
	"context"
	"fmt"
	"time"

	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRACTICE DETAILS COMMANDS
// Attach the student's report document or assign the supervising instructor.
// Neither moves the practice through its lifecycle, but both change what the
// deadline classifier sees, so cached reports are dropped on the event.
// ══════════════════════════════════════════════════════════════════════════════

// AttachReportCommand records the uploaded report of a practice.
type AttachReportCommand struct {
	PracticeID string `validate:"required"`
	// DocumentRef is a storage key or URL of the uploaded report.
	DocumentRef string `validate:"required,max=500"`
	ActorID     string
}

// Validate validates the command.
func (c AttachReportCommand) Validate() error {
	return validateCommand("AttachReport", c)
}

// AssignInstructorCommand sets the supervising instructor of a practice.
type AssignInstructorCommand struct {
	PracticeID   string `validate:"required"`
	InstructorID string `validate:"required,max=64"`
	ActorID      string
}

// Validate validates the command.
func (c AssignInstructorCommand) Validate() error {
	return validateCommand("AssignInstructor", c)
}

// UpdateDetailsResult contains the stored practice after the change.
type UpdateDetailsResult struct {
	Practice  *practice.Practice
	UpdatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// UpdateDetailsHandler handles AttachReportCommand and AssignInstructorCommand.
type UpdateDetailsHandler struct {
	practices      practice.Repository
	tx             practice.Transactor
	eventPublisher shared.EventPublisher
	clock          Clock
}

// NewUpdateDetailsHandler creates a new UpdateDetailsHandler.
func NewUpdateDetailsHandler(
	practices practice.Repository,
	tx practice.Transactor,
	eventPublisher shared.EventPublisher,
	clock Clock,
) *UpdateDetailsHandler {
	return &UpdateDetailsHandler{
		practices:      practices,
		tx:             tx,
		eventPublisher: eventPublisher,
		clock:          clock,
	}
}

// AttachReport stores the report reference on an active practice.
func (h *UpdateDetailsHandler) AttachReport(ctx context.Context, cmd AttachReportCommand) (*UpdateDetailsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return h.update(ctx, cmd.PracticeID, "report_document", cmd.DocumentRef, cmd.ActorID,
		func(p *practice.Practice, now time.Time) error {
			return p.AttachReport(cmd.DocumentRef, now)
		})
}

// AssignInstructor stores the instructor on an active practice.
func (h *UpdateDetailsHandler) AssignInstructor(ctx context.Context, cmd AssignInstructorCommand) (*UpdateDetailsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return h.update(ctx, cmd.PracticeID, "instructor_id", cmd.InstructorID, cmd.ActorID,
		func(p *practice.Practice, now time.Time) error {
			return p.AssignInstructor(cmd.InstructorID, now)
		})
}

func (h *UpdateDetailsHandler) update(
	ctx context.Context,
	id, field, value, actorID string,
	apply func(p *practice.Practice, now time.Time) error,
) (*UpdateDetailsResult, error) {
	now := h.clock.now()
	var updated *practice.Practice

	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := h.practices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(p, now); err != nil {
			return err
		}
		if err := h.practices.Update(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", field, err)
	}

	if h.eventPublisher != nil {
		_ = h.eventPublisher.Publish(shared.NewPracticeUpdatedEvent(updated.ID, field, value, actorID, now))
	}

	return &UpdateDetailsResult{Practice: updated, UpdatedAt: now}, nil
}
