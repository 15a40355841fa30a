package command

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT EVALUATION COMMAND
// Stores the report or employer evaluation of a finished practice. Evaluations
// can be overwritten until the practice is closed. When the second evaluation
// arrives the practice advances to EVALUATION_COMPLETE.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitEvaluationCommand contains the data to submit an evaluation.
type SubmitEvaluationCommand struct {
	PracticeID  string `validate:"required"`
	Kind        string `validate:"required,oneof=REPORT EMPLOYER"`
	Grade       string `validate:"required,numeric"`
	Comments    string `validate:"max=2000"`
	EvaluatorID string `validate:"required"`
}

// Validate validates the command.
func (c SubmitEvaluationCommand) Validate() error {
	return validateCommand("SubmitEvaluation", c)
}

// SubmitEvaluationResult contains the stored evaluation.
type SubmitEvaluationResult struct {
	Evaluation *practice.Evaluation

	// Overwrote is true when a previous evaluation of the same kind was replaced.
	Overwrote bool

	// Advanced is true when this submission moved the practice to EVALUATION_COMPLETE.
	Advanced bool

	PracticeState practice.State
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SubmitEvaluationHandler handles the SubmitEvaluationCommand.
type SubmitEvaluationHandler struct {
	practices      practice.Repository
	evaluations    practice.EvaluationRepository
	tx             practice.Transactor
	eventPublisher shared.EventPublisher
	clock          Clock
}

// NewSubmitEvaluationHandler creates a new SubmitEvaluationHandler.
func NewSubmitEvaluationHandler(
	practices practice.Repository,
	evaluations practice.EvaluationRepository,
	tx practice.Transactor,
	eventPublisher shared.EventPublisher,
	clock Clock,
) *SubmitEvaluationHandler {
	return &SubmitEvaluationHandler{
		practices:      practices,
		evaluations:    evaluations,
		tx:             tx,
		eventPublisher: eventPublisher,
		clock:          clock,
	}
}

// Handle executes the submit evaluation command.
func (h *SubmitEvaluationHandler) Handle(ctx context.Context, cmd SubmitEvaluationCommand) (*SubmitEvaluationResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	grade, err := decimal.NewFromString(cmd.Grade)
	if err != nil {
		return nil, shared.WrapError("command", "SubmitEvaluation", shared.ErrInvalidInput, "grade is not a number", err)
	}
	if err := practice.ValidateGrade(grade); err != nil {
		return nil, err
	}

	kind := practice.EvaluationKind(cmd.Kind)
	now := h.clock.now()
	result := &SubmitEvaluationResult{}

	err = h.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := h.practices.GetForUpdate(ctx, cmd.PracticeID)
		if err != nil {
			return err
		}

		switch {
		case p.State == practice.StateClosed:
			return shared.NewDomainError("evaluation", "Submit", shared.ErrAlreadyClosed,
				fmt.Sprintf("practice %s is closed; evaluations are immutable", p.ID))
		case !p.AcceptsEvaluations():
			return shared.NewDomainError("evaluation", "Submit", shared.ErrInvalidState,
				fmt.Sprintf("practice %s is %s and does not accept evaluations", p.ID, p.State))
		}

		eval, err := h.evaluations.Get(ctx, p.ID, kind)
		if err != nil {
			return err
		}
		if eval == nil {
			if eval, err = practice.NewEvaluation(p.ID, kind, grade, cmd.Comments, cmd.EvaluatorID, now); err != nil {
				return err
			}
		} else {
			if err := eval.Overwrite(grade, cmd.Comments, cmd.EvaluatorID, now); err != nil {
				return err
			}
			result.Overwrote = true
		}
		if err := h.evaluations.Upsert(ctx, eval); err != nil {
			return err
		}
		result.Evaluation = eval

		if p.State == practice.StateFinishedPendingEval {
			other, err := h.evaluations.Get(ctx, p.ID, otherKind(kind))
			if err != nil {
				return err
			}
			if other != nil {
				if err := p.Transition(practice.StateEvaluationComplete, "", now); err != nil {
					return err
				}
				if err := h.practices.Update(ctx, p); err != nil {
					return err
				}
				result.Advanced = true
			}
		}
		result.PracticeState = p.State
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("submit_evaluation: %w", err)
	}

	if h.eventPublisher != nil {
		_ = h.eventPublisher.Publish(shared.NewEvaluationSubmittedEvent(
			cmd.PracticeID, string(kind), result.Evaluation.Grade.StringFixed(1), result.Evaluation.EvaluatorID, result.Overwrote, now,
		))
		if result.Advanced {
			_ = h.eventPublisher.Publish(shared.NewPracticeStateChangedEvent(
				cmd.PracticeID, string(practice.StateFinishedPendingEval), string(practice.StateEvaluationComplete), "", cmd.EvaluatorID, now,
			))
		}
	}

	return result, nil
}

func otherKind(k practice.EvaluationKind) practice.EvaluationKind {
	if k == practice.EvaluationReport {
		return practice.EvaluationEmployer
	}
	return practice.EvaluationReport
}
