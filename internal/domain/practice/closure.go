package practice

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/practicas/practice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRADING CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// GradingConfig holds the active weights and the passing threshold.
// It is owned by the configuration provider; the engine only reads it.
type GradingConfig struct {
	EmployerWeight  int
	ReportWeight    int
	MinPassingGrade decimal.Decimal
}

// DefaultGradingConfig returns 60/40 weights with a 4.0 passing grade.
func DefaultGradingConfig() GradingConfig {
	return GradingConfig{
		EmployerWeight:  60,
		ReportWeight:    40,
		MinPassingGrade: decimal.RequireFromString("4.0"),
	}
}

// Validate checks that both weights are percentages summing to exactly 100.
func (c GradingConfig) Validate() error {
	if c.EmployerWeight < 0 || c.EmployerWeight > 100 || c.ReportWeight < 0 || c.ReportWeight > 100 {
		return shared.NewDomainError("closure", "ValidateConfig", shared.ErrInvalidConfiguration,
			fmt.Sprintf("weights must be within 0-100, got employer=%d report=%d", c.EmployerWeight, c.ReportWeight))
	}
	if sum := c.EmployerWeight + c.ReportWeight; sum != 100 {
		return shared.NewDomainError("closure", "ValidateConfig", shared.ErrInvalidConfiguration,
			fmt.Sprintf("weights must sum to 100, got %d", sum))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOSURE RECORD (ACTA FINAL)
// ══════════════════════════════════════════════════════════════════════════════

// ClosureState is the state of the final record.
type ClosureState string

const (
	ClosurePending   ClosureState = "PENDING"
	ClosureValidated ClosureState = "VALIDATED"
)

// ClosureRecord is the final grade record of a practice. One per practice.
type ClosureRecord struct {
	PracticeID    string
	ReportGrade   decimal.Decimal
	EmployerGrade decimal.Decimal
	FinalGrade    decimal.Decimal
	Passed        bool
	State         ClosureState
	ClosedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsValidated returns true once the record has been signed off.
func (r *ClosureRecord) IsValidated() bool {
	return r != nil && r.State == ClosureValidated
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

var hundred = decimal.NewFromInt(100)

// ComputeFinalGrade returns report*reportWeight% + employer*employerWeight%,
// rounded half-up to one decimal place.
func ComputeFinalGrade(report, employer decimal.Decimal, cfg GradingConfig) (decimal.Decimal, error) {
	if err := cfg.Validate(); err != nil {
		return decimal.Zero, err
	}

	rw := decimal.NewFromInt(int64(cfg.ReportWeight)).Div(hundred)
	ew := decimal.NewFromInt(int64(cfg.EmployerWeight)).Div(hundred)

	// Grades are positive, so Round's half-away-from-zero is half-up.
	return report.Mul(rw).Add(employer.Mul(ew)).Round(1), nil
}

// ComputeAndClose validates the closing preconditions, computes the final grade and
// returns the created or updated closure record. On success p has reached CLOSED
// (passing through EVALUATION_COMPLETE when it was still FINISHED_PENDING_EVAL).
//
// existing is the stored closure record for p, or nil. The caller must persist the
// returned record and p in a single transaction.
func ComputeAndClose(
	p *Practice,
	report, employer *Evaluation,
	existing *ClosureRecord,
	cfg GradingConfig,
	at time.Time,
) (*ClosureRecord, error) {
	const op = "ComputeAndClose"

	if report == nil || employer == nil {
		missing := string(EvaluationReport)
		if report != nil {
			missing = string(EvaluationEmployer)
		} else if employer == nil {
			missing = "REPORT and EMPLOYER"
		}
		return nil, shared.NewDomainError("closure", op, shared.ErrEvaluationsIncomplete,
			fmt.Sprintf("missing %s evaluation for practice %s", missing, p.ID))
	}
	if report.PracticeID != p.ID || employer.PracticeID != p.ID {
		return nil, shared.NewDomainError("closure", op, shared.ErrInvalidInput,
			"evaluations belong to a different practice")
	}

	if existing.IsValidated() {
		return nil, shared.NewDomainError("closure", op, shared.ErrAlreadyClosed,
			fmt.Sprintf("practice %s already has a validated final record", p.ID))
	}
	if p.State == StateClosed {
		return nil, shared.NewDomainError("closure", op, shared.ErrAlreadyClosed,
			fmt.Sprintf("practice %s is closed but has no validated final record", p.ID))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if p.State != StateEvaluationComplete && p.State != StateFinishedPendingEval {
		return nil, shared.NewDomainError("closure", op, shared.ErrInvalidState,
			fmt.Sprintf("practice %s is %s", p.ID, p.State))
	}

	final, err := ComputeFinalGrade(report.Grade, employer.Grade, cfg)
	if err != nil {
		return nil, err
	}

	// Transitions run on a copy so p is untouched if anything fails.
	next := p.Clone()
	if next.State == StateFinishedPendingEval {
		if err := next.Transition(StateEvaluationComplete, "", at); err != nil {
			return nil, err
		}
	}
	if err := next.Transition(StateClosed, "", at); err != nil {
		return nil, err
	}

	record := &ClosureRecord{PracticeID: p.ID, CreatedAt: at}
	if existing != nil {
		copied := *existing
		record = &copied
	}
	closedAt := at
	record.ReportGrade = report.Grade
	record.EmployerGrade = employer.Grade
	record.FinalGrade = final
	record.Passed = final.GreaterThanOrEqual(cfg.MinPassingGrade)
	record.State = ClosureValidated
	record.ClosedAt = &closedAt
	record.UpdatedAt = at

	*p = *next
	return record, nil
}
