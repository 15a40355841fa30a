package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
)

// Grades travel as text in both directions so NUMERIC values keep their exact
// scale; shopspring/decimal parses them without float conversion.

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// EvaluationRepository implements practice.EvaluationRepository for PostgreSQL.
type EvaluationRepository struct {
	conn *Connection
}

// NewEvaluationRepository creates a new EvaluationRepository.
func NewEvaluationRepository(conn *Connection) *EvaluationRepository {
	return &EvaluationRepository{conn: conn}
}

// Get returns the evaluation of the given kind, or nil when none exists.
func (r *EvaluationRepository) Get(ctx context.Context, practiceID string, kind practice.EvaluationKind) (*practice.Evaluation, error) {
	query := `
		SELECT practice_id, kind, grade::text, comments, evaluator_id, submitted_at, updated_at
		FROM evaluations
		WHERE practice_id = $1 AND kind = $2
	`

	q, err := r.conn.db(ctx)
	if err != nil {
		return nil, storageError("evaluation", "Get", err)
	}

	var e practice.Evaluation
	var k, grade string
	err = q.QueryRow(ctx, query, practiceID, string(kind)).Scan(
		&e.PracticeID,
		&k,
		&grade,
		&e.Comments,
		&e.EvaluatorID,
		&e.SubmittedAt,
		&e.UpdatedAt,
	)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("evaluation", "Get", fmt.Errorf("failed to scan evaluation: %w", err))
	}

	e.Kind = practice.EvaluationKind(k)
	if e.Grade, err = decimal.NewFromString(grade); err != nil {
		return nil, storageError("evaluation", "Get", fmt.Errorf("bad stored grade %q: %w", grade, err))
	}
	return &e, nil
}

// Upsert creates or overwrites the evaluation of e.Kind for e.PracticeID.
func (r *EvaluationRepository) Upsert(ctx context.Context, e *practice.Evaluation) error {
	query := `
		INSERT INTO evaluations (practice_id, kind, grade, comments, evaluator_id, submitted_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
		ON CONFLICT (practice_id, kind) DO UPDATE SET
			grade = EXCLUDED.grade,
			comments = EXCLUDED.comments,
			evaluator_id = EXCLUDED.evaluator_id,
			updated_at = EXCLUDED.updated_at
	`

	q, err := r.conn.db(ctx)
	if err != nil {
		return storageError("evaluation", "Upsert", err)
	}
	_, err = q.Exec(ctx, query,
		e.PracticeID,
		string(e.Kind),
		e.Grade.String(),
		e.Comments,
		e.EvaluatorID,
		e.SubmittedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return storageError("evaluation", "Upsert", fmt.Errorf("failed to upsert evaluation: %w", err))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLOSURE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ClosureRepository implements practice.ClosureRepository for PostgreSQL.
type ClosureRepository struct {
	conn *Connection
}

// NewClosureRepository creates a new ClosureRepository.
func NewClosureRepository(conn *Connection) *ClosureRepository {
	return &ClosureRepository{conn: conn}
}

// Get returns the closure record of a practice, or nil when none exists.
func (r *ClosureRepository) Get(ctx context.Context, practiceID string) (*practice.ClosureRecord, error) {
	query := `
		SELECT practice_id, report_grade::text, employer_grade::text, final_grade::text,
			   passed, state, closed_at, created_at, updated_at
		FROM closure_records
		WHERE practice_id = $1
	`

	q, err := r.conn.db(ctx)
	if err != nil {
		return nil, storageError("closure", "Get", err)
	}

	var rec practice.ClosureRecord
	var report, employer, final, state string
	err = q.QueryRow(ctx, query, practiceID).Scan(
		&rec.PracticeID,
		&report,
		&employer,
		&final,
		&rec.Passed,
		&state,
		&rec.ClosedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("closure", "Get", fmt.Errorf("failed to scan closure record: %w", err))
	}

	rec.State = practice.ClosureState(state)
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&rec.ReportGrade, report}, {&rec.EmployerGrade, employer}, {&rec.FinalGrade, final}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, storageError("closure", "Get", fmt.Errorf("bad stored grade %q: %w", f.src, err))
		}
	}
	return &rec, nil
}

// Upsert creates or updates the single closure record of rec.PracticeID.
// A VALIDATED row is never overwritten.
func (r *ClosureRepository) Upsert(ctx context.Context, rec *practice.ClosureRecord) error {
	query := `
		INSERT INTO closure_records (
			practice_id, report_grade, employer_grade, final_grade,
			passed, state, closed_at, created_at, updated_at
		) VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5, $6, $7, $8, $9)
		ON CONFLICT (practice_id) DO UPDATE SET
			report_grade = EXCLUDED.report_grade,
			employer_grade = EXCLUDED.employer_grade,
			final_grade = EXCLUDED.final_grade,
			passed = EXCLUDED.passed,
			state = EXCLUDED.state,
			closed_at = EXCLUDED.closed_at,
			updated_at = EXCLUDED.updated_at
		WHERE closure_records.state <> 'VALIDATED'
	`

	q, err := r.conn.db(ctx)
	if err != nil {
		return storageError("closure", "Upsert", err)
	}
	tag, err := q.Exec(ctx, query,
		rec.PracticeID,
		rec.ReportGrade.String(),
		rec.EmployerGrade.String(),
		rec.FinalGrade.String(),
		rec.Passed,
		string(rec.State),
		rec.ClosedAt,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return storageError("closure", "Upsert", fmt.Errorf("failed to upsert closure record: %w", err))
	}
	return closureWritten(tag, rec.PracticeID)
}

// closureWritten reports ErrAlreadyClosed when the upsert hit a VALIDATED row
// and the WHERE clause skipped it.
func closureWritten(tag pgconn.CommandTag, practiceID string) error {
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("closure", "Upsert", shared.ErrAlreadyClosed,
			fmt.Sprintf("practice %s already has a validated final record", practiceID))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GRADING CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ConfigProvider implements practice.ConfigProvider over the grading_config row.
type ConfigProvider struct {
	conn *Connection
}

// NewConfigProvider creates a new ConfigProvider.
func NewConfigProvider(conn *Connection) *ConfigProvider {
	return &ConfigProvider{conn: conn}
}

// ActiveGradingConfig returns the single active configuration. It is not
// validated here; the closure engine rejects invalid weights.
func (c *ConfigProvider) ActiveGradingConfig(ctx context.Context) (practice.GradingConfig, error) {
	query := `SELECT employer_weight, report_weight, min_passing_grade::text FROM grading_config WHERE id = 1`

	q, err := c.conn.db(ctx)
	if err != nil {
		return practice.GradingConfig{}, storageError("config", "ActiveGradingConfig", err)
	}

	var cfg practice.GradingConfig
	var minPassing string
	err = q.QueryRow(ctx, query).Scan(&cfg.EmployerWeight, &cfg.ReportWeight, &minPassing)
	if IsNoRows(err) {
		return practice.GradingConfig{}, storageError("config", "ActiveGradingConfig",
			fmt.Errorf("no active grading configuration"))
	}
	if err != nil {
		return practice.GradingConfig{}, storageError("config", "ActiveGradingConfig", err)
	}

	if cfg.MinPassingGrade, err = decimal.NewFromString(minPassing); err != nil {
		return practice.GradingConfig{}, storageError("config", "ActiveGradingConfig", err)
	}
	return cfg, nil
}

// SetGradingConfig replaces the active configuration. The table constraint
// rejects weights that do not sum to 100.
func (c *ConfigProvider) SetGradingConfig(ctx context.Context, cfg practice.GradingConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO grading_config (id, employer_weight, report_weight, min_passing_grade, updated_at)
		VALUES (1, $1, $2, $3::numeric, NOW())
		ON CONFLICT (id) DO UPDATE SET
			employer_weight = EXCLUDED.employer_weight,
			report_weight = EXCLUDED.report_weight,
			min_passing_grade = EXCLUDED.min_passing_grade,
			updated_at = EXCLUDED.updated_at
	`
	q, err := c.conn.db(ctx)
	if err != nil {
		return storageError("config", "SetGradingConfig", err)
	}
	_, err = q.Exec(ctx, query, cfg.EmployerWeight, cfg.ReportWeight, cfg.MinPassingGrade.String())
	if err != nil {
		return storageError("config", "SetGradingConfig", err)
	}
	return nil
}
