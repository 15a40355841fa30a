package practice

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/practicas/practice-hub/internal/domain/shared"
)

// EvaluationKind distinguishes the two independent evaluations of a practice.
type EvaluationKind string

const (
	// EvaluationReport - grade given by the supervising instructor for the report.
	EvaluationReport EvaluationKind = "REPORT"
	// EvaluationEmployer - grade given by the host organization.
	EvaluationEmployer EvaluationKind = "EMPLOYER"
)

// IsValid checks if the evaluation kind is known.
func (k EvaluationKind) IsValid() bool {
	return k == EvaluationReport || k == EvaluationEmployer
}

// Grade scale bounds (Chilean 1.0–7.0 scale).
var (
	MinGrade = decimal.RequireFromString("1.0")
	MaxGrade = decimal.RequireFromString("7.0")
)

// Evaluation is a single grade given to a practice by one evaluator.
type Evaluation struct {
	PracticeID  string
	Kind        EvaluationKind
	Grade       decimal.Decimal
	Comments    *string
	EvaluatorID string
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// ValidateGrade checks that g lies on the grading scale.
func ValidateGrade(g decimal.Decimal) error {
	if g.LessThan(MinGrade) || g.GreaterThan(MaxGrade) {
		return shared.NewDomainError("evaluation", "Validate", shared.ErrValueOutOfRange,
			fmt.Sprintf("grade %s must be between %s and %s", g.String(), MinGrade.StringFixed(1), MaxGrade.StringFixed(1)))
	}
	return nil
}

// NewEvaluation creates an evaluation with validation.
func NewEvaluation(practiceID string, kind EvaluationKind, grade decimal.Decimal, comments, evaluatorID string, at time.Time) (*Evaluation, error) {
	if strings.TrimSpace(practiceID) == "" {
		return nil, shared.NewDomainError("evaluation", "New", shared.ErrValidation, "practice id is required")
	}
	if !kind.IsValid() {
		return nil, shared.NewDomainError("evaluation", "New", shared.ErrValidation,
			fmt.Sprintf("unknown evaluation kind %q", kind))
	}
	if err := ValidateGrade(grade); err != nil {
		return nil, err
	}

	e := &Evaluation{
		PracticeID:  practiceID,
		Kind:        kind,
		Grade:       grade,
		EvaluatorID: strings.TrimSpace(evaluatorID),
		SubmittedAt: at,
		UpdatedAt:   at,
	}
	if c := strings.TrimSpace(comments); c != "" {
		e.Comments = &c
	}
	return e, nil
}

// Overwrite replaces grade and comments, keeping the original submission time.
func (e *Evaluation) Overwrite(grade decimal.Decimal, comments, evaluatorID string, at time.Time) error {
	if err := ValidateGrade(grade); err != nil {
		return err
	}
	e.Grade = grade
	e.Comments = nil
	if c := strings.TrimSpace(comments); c != "" {
		e.Comments = &c
	}
	if id := strings.TrimSpace(evaluatorID); id != "" {
		e.EvaluatorID = id
	}
	e.UpdatedAt = at
	return nil
}
