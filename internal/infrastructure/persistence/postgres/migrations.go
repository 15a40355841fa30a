package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PRACTICES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS practices (
    id UUID PRIMARY KEY,
    type VARCHAR(20) NOT NULL,
    student_id VARCHAR(64) NOT NULL,
    program_id VARCHAR(64) NOT NULL,
    program_name VARCHAR(200) NOT NULL DEFAULT '',
    instructor_id VARCHAR(64),
    organization_id VARCHAR(64),
    start_date TIMESTAMP WITH TIME ZONE NOT NULL,
    end_date TIMESTAMP WITH TIME ZONE NOT NULL,
    state VARCHAR(32) NOT NULL DEFAULT 'PENDING',
    state_changed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    report_document TEXT,
    rejection_reason TEXT,
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_type CHECK (type IN ('LABOR', 'PROFESSIONAL')),
    CONSTRAINT valid_state CHECK (state IN (
        'PENDING', 'PENDING_TEACHER_ACCEPTANCE', 'REJECTED_BY_TEACHER', 'IN_PROGRESS',
        'FINISHED_PENDING_EVAL', 'EVALUATION_COMPLETE', 'CLOSED', 'VOIDED'
    )),
    CONSTRAINT valid_period CHECK (end_date >= start_date),
    CONSTRAINT valid_version CHECK (version >= 1)
);

CREATE INDEX IF NOT EXISTS idx_practices_state ON practices(state);
CREATE INDEX IF NOT EXISTS idx_practices_student_id ON practices(student_id);
CREATE INDEX IF NOT EXISTS idx_practices_active_end_date ON practices(end_date)
    WHERE state NOT IN ('CLOSED', 'VOIDED');
`

const migration001Down = `
DROP TABLE IF EXISTS practices;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE GRADING TABLES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS evaluations (
    practice_id UUID NOT NULL REFERENCES practices(id) ON DELETE CASCADE,
    kind VARCHAR(16) NOT NULL,
    grade NUMERIC(3,1) NOT NULL,
    comments TEXT,
    evaluator_id VARCHAR(64) NOT NULL,
    submitted_at TIMESTAMP WITH TIME ZONE NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (practice_id, kind),
    CONSTRAINT valid_kind CHECK (kind IN ('REPORT', 'EMPLOYER')),
    CONSTRAINT valid_grade CHECK (grade >= 1.0 AND grade <= 7.0)
);

CREATE TABLE IF NOT EXISTS closure_records (
    practice_id UUID PRIMARY KEY REFERENCES practices(id) ON DELETE CASCADE,
    report_grade NUMERIC(3,1) NOT NULL,
    employer_grade NUMERIC(3,1) NOT NULL,
    final_grade NUMERIC(3,1) NOT NULL,
    passed BOOLEAN NOT NULL,
    state VARCHAR(16) NOT NULL DEFAULT 'PENDING',
    closed_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT valid_closure_state CHECK (state IN ('PENDING', 'VALIDATED')),
    CONSTRAINT validated_has_closed_at CHECK (state <> 'VALIDATED' OR closed_at IS NOT NULL)
);

-- Exactly one active row; the weights check mirrors the engine's own validation.
CREATE TABLE IF NOT EXISTS grading_config (
    id SMALLINT PRIMARY KEY DEFAULT 1,
    employer_weight INTEGER NOT NULL,
    report_weight INTEGER NOT NULL,
    min_passing_grade NUMERIC(3,1) NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT single_row CHECK (id = 1),
    CONSTRAINT valid_weights CHECK (
        employer_weight BETWEEN 0 AND 100 AND
        report_weight BETWEEN 0 AND 100 AND
        employer_weight + report_weight = 100
    )
);

INSERT INTO grading_config (id, employer_weight, report_weight, min_passing_grade)
VALUES (1, 60, 40, 4.0)
ON CONFLICT (id) DO NOTHING;
`

const migration002Down = `
DROP TABLE IF EXISTS grading_config;
DROP TABLE IF EXISTS closure_records;
DROP TABLE IF EXISTS evaluations;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

const migrationsTable = "schema_migrations"

// Migration is one versioned schema step. AppliedAt and IsApplied are only
// filled in by Status.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

var migrations = []Migration{
	{Version: 1, Name: "create_practices", UpSQL: migration001Up, DownSQL: migration001Down},
	{Version: 2, Name: "create_grading", UpSQL: migration002Up, DownSQL: migration002Down},
}

// Migrator applies the embedded migrations in version order.
type Migrator struct {
	conn *Connection
}

func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn}
}

// applied creates the tracking table when missing and returns the applied
// versions keyed to their timestamps.
func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	q, err := m.conn.db(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := q.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`); err != nil {
		return nil, fmt.Errorf("%w: tracking table: %v", ErrMigrationFailed, err)
	}

	rows, err := q.Query(ctx, `SELECT version, applied_at FROM `+migrationsTable)
	if err != nil {
		return nil, fmt.Errorf("%w: read applied versions: %v", ErrMigrationFailed, err)
	}
	defer rows.Close()

	done := make(map[int]time.Time)
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		done[v] = at
	}
	return done, rows.Err()
}

// step runs one migration body and its bookkeeping statement atomically.
func (m *Migrator) step(ctx context.Context, body, bookkeeping string, version int, args ...any) error {
	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, body); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, bookkeeping, append([]any{version}, args...)...)
		return err
	})
}

// Migrate applies every pending migration, one transaction each.
func (m *Migrator) Migrate(ctx context.Context) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		insert := `INSERT INTO ` + migrationsTable + ` (version, name) VALUES ($1, $2)`
		if err := m.step(ctx, mig.UpSQL, insert, mig.Version, mig.Name); err != nil {
			return fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Rollback reverts the newest applied migration. It is a no-op on an empty
// schema.
func (m *Migrator) Rollback(ctx context.Context) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for i := len(migrations) - 1; i >= 0; i-- {
		mig := migrations[i]
		if _, ok := done[mig.Version]; !ok {
			continue
		}
		remove := `DELETE FROM ` + migrationsTable + ` WHERE version = $1`
		if err := m.step(ctx, mig.DownSQL, remove, mig.Version); err != nil {
			return fmt.Errorf("%w: revert %03d_%s: %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
		return nil
	}
	return nil
}

// Status lists every embedded migration with its applied flag.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(migrations))
	for i, mig := range migrations {
		mig.AppliedAt, mig.IsApplied = done[mig.Version]
		out[i] = mig
	}
	return out, nil
}
