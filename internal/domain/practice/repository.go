package practice

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// Every method joins the transaction carried by ctx, if any.
// ══════════════════════════════════════════════════════════════════════════════

// Repository stores practices.
type Repository interface {
	// Create stores a new practice.
	Create(ctx context.Context, p *Practice) error

	// GetByID returns a practice. Returns shared.ErrPracticeNotFound if missing.
	GetByID(ctx context.Context, id string) (*Practice, error)

	// GetForUpdate returns a practice and locks it until the surrounding
	// transaction ends. Callers must be inside Transactor.WithinTx.
	GetForUpdate(ctx context.Context, id string) (*Practice, error)

	// Update saves p if its Version still matches the stored one and bumps Version.
	// Returns shared.ErrVersionConflict otherwise.
	Update(ctx context.Context, p *Practice) error

	// ListActive returns every practice that is neither CLOSED nor VOIDED.
	ListActive(ctx context.Context) ([]*Practice, error)

	// ListByState returns practices in the given state.
	ListByState(ctx context.Context, state State) ([]*Practice, error)

	// CountByState returns how many practices sit in each state. States with
	// no practices are absent.
	CountByState(ctx context.Context) (map[State]int, error)
}

// EvaluationRepository stores report and employer evaluations.
type EvaluationRepository interface {
	// Get returns the evaluation of the given kind, or nil when none exists.
	Get(ctx context.Context, practiceID string, kind EvaluationKind) (*Evaluation, error)

	// Upsert creates or overwrites the evaluation of e.Kind for e.PracticeID.
	Upsert(ctx context.Context, e *Evaluation) error
}

// ClosureRepository stores final records.
type ClosureRepository interface {
	// Get returns the closure record of a practice, or nil when none exists.
	Get(ctx context.Context, practiceID string) (*ClosureRecord, error)

	// Upsert creates or updates the single closure record of r.PracticeID.
	Upsert(ctx context.Context, r *ClosureRecord) error
}

// ConfigProvider supplies the currently active grading configuration.
type ConfigProvider interface {
	ActiveGradingConfig(ctx context.Context) (GradingConfig, error)
}

// Transactor runs fn so that every repository call made with the ctx it
// receives commits or rolls back together.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
