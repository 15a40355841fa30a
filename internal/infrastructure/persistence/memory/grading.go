package memory

import (
	"context"
	"fmt"

	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATIONS
// ══════════════════════════════════════════════════════════════════════════════

type evaluationRepository struct {
	db *DB
}

// NewEvaluationRepository returns a practice.EvaluationRepository backed by db.
func NewEvaluationRepository(db *DB) practice.EvaluationRepository {
	return &evaluationRepository{db: db}
}

func (repo *evaluationRepository) Get(ctx context.Context, practiceID string, kind practice.EvaluationKind) (*practice.Evaluation, error) {
	defer repo.db.lock(ctx)()

	e, ok := repo.db.data.evaluations[evaluationKey{practiceID, kind}]
	if !ok {
		return nil, nil
	}
	return cloneEvaluation(e), nil
}

func (repo *evaluationRepository) Upsert(ctx context.Context, e *practice.Evaluation) error {
	defer repo.db.lock(ctx)()

	repo.db.data.evaluations[evaluationKey{e.PracticeID, e.Kind}] = cloneEvaluation(e)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOSURE RECORDS
// ══════════════════════════════════════════════════════════════════════════════

type closureRepository struct {
	db *DB
}

// NewClosureRepository returns a practice.ClosureRepository backed by db.
func NewClosureRepository(db *DB) practice.ClosureRepository {
	return &closureRepository{db: db}
}

func (repo *closureRepository) Get(ctx context.Context, practiceID string) (*practice.ClosureRecord, error) {
	defer repo.db.lock(ctx)()

	r, ok := repo.db.data.closures[practiceID]
	if !ok {
		return nil, nil
	}
	return cloneClosure(r), nil
}

func (repo *closureRepository) Upsert(ctx context.Context, r *practice.ClosureRecord) error {
	defer repo.db.lock(ctx)()

	if stored, ok := repo.db.data.closures[r.PracticeID]; ok && stored.IsValidated() {
		return shared.NewDomainError("closure", "Upsert", shared.ErrAlreadyClosed,
			fmt.Sprintf("practice %s already has a validated final record", r.PracticeID))
	}
	repo.db.data.closures[r.PracticeID] = cloneClosure(r)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADING CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ActiveGradingConfig implements practice.ConfigProvider.
func (db *DB) ActiveGradingConfig(ctx context.Context) (practice.GradingConfig, error) {
	defer db.lock(ctx)()
	return db.config, nil
}

// SetGradingConfig replaces the active configuration. It is not validated here;
// the closure engine rejects invalid weights.
func (db *DB) SetGradingConfig(ctx context.Context, cfg practice.GradingConfig) {
	defer db.lock(ctx)()
	db.config = cfg
}
