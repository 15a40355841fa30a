package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLOSE EVALUATION COMMAND
// Computes the weighted final grade, validates the final record and closes the
// practice. The record upsert and the CLOSED save commit together.
// ══════════════════════════════════════════════════════════════════════════════

// CloseEvaluationCommand contains the data to close a practice.
type CloseEvaluationCommand struct {
	PracticeID string `validate:"required"`

	// ActorID is the administrator signing off, for audit.
	ActorID string
}

// Validate validates the command.
func (c CloseEvaluationCommand) Validate() error {
	return validateCommand("CloseEvaluation", c)
}

// CloseEvaluationResult contains the validated record and the closed practice.
type CloseEvaluationResult struct {
	Record        *practice.ClosureRecord
	Practice      *practice.Practice
	PreviousState practice.State
	Config        practice.GradingConfig
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CloseEvaluationHandler handles the CloseEvaluationCommand.
type CloseEvaluationHandler struct {
	practices      practice.Repository
	evaluations    practice.EvaluationRepository
	closures       practice.ClosureRepository
	configs        practice.ConfigProvider
	tx             practice.Transactor
	eventPublisher shared.EventPublisher
	clock          Clock
	logger         *slog.Logger
}

// CloseEvaluationDeps groups the collaborators of CloseEvaluationHandler.
type CloseEvaluationDeps struct {
	Practices      practice.Repository
	Evaluations    practice.EvaluationRepository
	Closures       practice.ClosureRepository
	Configs        practice.ConfigProvider
	Tx             practice.Transactor
	EventPublisher shared.EventPublisher
	Clock          Clock
	Logger         *slog.Logger
}

// NewCloseEvaluationHandler creates a new CloseEvaluationHandler.
func NewCloseEvaluationHandler(deps CloseEvaluationDeps) *CloseEvaluationHandler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CloseEvaluationHandler{
		practices:      deps.Practices,
		evaluations:    deps.Evaluations,
		closures:       deps.Closures,
		configs:        deps.Configs,
		tx:             deps.Tx,
		eventPublisher: deps.EventPublisher,
		clock:          deps.Clock,
		logger:         logger,
	}
}

// Handle executes the close evaluation command.
func (h *CloseEvaluationHandler) Handle(ctx context.Context, cmd CloseEvaluationCommand) (*CloseEvaluationResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	// The configuration is read once and passed into the engine explicitly.
	cfg, err := h.configs.ActiveGradingConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("close_evaluation: load grading config: %w", err)
	}

	now := h.clock.now()
	result := &CloseEvaluationResult{Config: cfg}

	err = h.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := h.practices.GetForUpdate(ctx, cmd.PracticeID)
		if err != nil {
			return err
		}
		report, err := h.evaluations.Get(ctx, p.ID, practice.EvaluationReport)
		if err != nil {
			return err
		}
		employer, err := h.evaluations.Get(ctx, p.ID, practice.EvaluationEmployer)
		if err != nil {
			return err
		}
		existing, err := h.closures.Get(ctx, p.ID)
		if err != nil {
			return err
		}

		result.PreviousState = p.State
		record, err := practice.ComputeAndClose(p, report, employer, existing, cfg, now)
		if err != nil {
			return err
		}

		if err := h.closures.Upsert(ctx, record); err != nil {
			return err
		}
		if err := h.practices.Update(ctx, p); err != nil {
			return err
		}

		result.Record = record
		result.Practice = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("close_evaluation: %w", err)
	}

	h.logger.Info("practice closed",
		"practice_id", result.Practice.ID,
		"final_grade", result.Record.FinalGrade.StringFixed(1),
		"passed", result.Record.Passed,
		"report_weight", cfg.ReportWeight,
		"employer_weight", cfg.EmployerWeight,
	)

	if h.eventPublisher != nil {
		_ = h.eventPublisher.Publish(shared.NewPracticeStateChangedEvent(
			result.Practice.ID, string(result.PreviousState), string(practice.StateClosed), "", cmd.ActorID, now,
		))
		_ = h.eventPublisher.Publish(shared.NewPracticeClosedEvent(
			result.Practice.ID, result.Record.FinalGrade.StringFixed(1), result.Record.Passed, now,
		))
	}

	return result, nil
}
