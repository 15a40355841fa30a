package command

import (
	"context"
	"fmt"
	"time"

	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHANGE STATE COMMAND
// Moves a practice through its lifecycle. The read-modify-write runs in one
// transaction with the practice row locked, so two conflicting transitions on
// the same practice can never both succeed.
// ══════════════════════════════════════════════════════════════════════════════

// ChangeStateCommand contains the data to change the state of a practice.
type ChangeStateCommand struct {
	PracticeID  string `validate:"required"`
	TargetState string `validate:"required"`

	// Reason is mandatory when voiding; the state machine enforces its length.
	Reason string

	// ActorID is the user performing the action, for audit.
	ActorID string
}

// Validate validates the command.
func (c ChangeStateCommand) Validate() error {
	return validateCommand("ChangeState", c)
}

// ChangeStateResult contains the result of a transition.
type ChangeStateResult struct {
	Practice  *practice.Practice
	From      practice.State
	ChangedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ChangeStateHandler handles the ChangeStateCommand.
type ChangeStateHandler struct {
	practices      practice.Repository
	tx             practice.Transactor
	eventPublisher shared.EventPublisher
	clock          Clock
}

// NewChangeStateHandler creates a new ChangeStateHandler.
func NewChangeStateHandler(
	practices practice.Repository,
	tx practice.Transactor,
	eventPublisher shared.EventPublisher,
	clock Clock,
) *ChangeStateHandler {
	return &ChangeStateHandler{
		practices:      practices,
		tx:             tx,
		eventPublisher: eventPublisher,
		clock:          clock,
	}
}

// Handle executes the change state command.
func (h *ChangeStateHandler) Handle(ctx context.Context, cmd ChangeStateCommand) (*ChangeStateResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	target, err := practice.ParseState(cmd.TargetState)
	if err != nil {
		return nil, err
	}
	// CLOSED is reached only through CloseEvaluation, which writes the final
	// record in the same transaction.
	if target == practice.StateClosed {
		return nil, shared.NewDomainError("practice", "ChangeState", shared.ErrInvalidTransition,
			"a practice is closed by CloseEvaluation, not by a state change")
	}

	now := h.clock.now()
	var (
		updated *practice.Practice
		from    practice.State
	)

	err = h.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := h.practices.GetForUpdate(ctx, cmd.PracticeID)
		if err != nil {
			return err
		}

		from = p.State
		if err := p.Transition(target, cmd.Reason, now); err != nil {
			return err
		}

		if err := h.practices.Update(ctx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("change_state: %w", err)
	}

	// Audit and notification collaborators subscribe to this event.
	if h.eventPublisher != nil {
		_ = h.eventPublisher.Publish(shared.NewPracticeStateChangedEvent(
			updated.ID, string(from), string(updated.State), cmd.Reason, cmd.ActorID, now,
		))
	}

	return &ChangeStateResult{
		Practice:  updated,
		From:      from,
		ChangedAt: now,
	}, nil
}
