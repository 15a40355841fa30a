package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRACTICE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const practiceColumns = `
	id, type, student_id, program_id, program_name, instructor_id, organization_id,
	start_date, end_date, state, state_changed_at, report_document, rejection_reason,
	version, created_at, updated_at`

// PracticeRepository implements practice.Repository for PostgreSQL.
type PracticeRepository struct {
	conn *Connection
}

// NewPracticeRepository creates a new PracticeRepository.
func NewPracticeRepository(conn *Connection) *PracticeRepository {
	return &PracticeRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Create stores a new practice with version 1.
func (r *PracticeRepository) Create(ctx context.Context, p *practice.Practice) error {
	query := `
		INSERT INTO practices (` + practiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)
	`

	q, err := r.conn.db(ctx)
	if err != nil {
		return storageError("practice", "Create", err)
	}
	_, err = q.Exec(ctx, query,
		p.ID,
		string(p.Type),
		p.StudentID,
		p.ProgramID,
		p.ProgramName,
		p.InstructorID,
		p.OrganizationID,
		p.StartDate,
		p.EndDate,
		string(p.State),
		p.StateChangedAt,
		p.ReportDocument,
		p.RejectionReason,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("practice", "Create", shared.ErrAlreadyExists,
				fmt.Sprintf("practice %s already exists", p.ID))
		}
		return storageError("practice", "Create", fmt.Errorf("failed to create practice: %w", err))
	}

	p.Version = 1
	return nil
}

// Update saves p when the stored version still equals p.Version.
func (r *PracticeRepository) Update(ctx context.Context, p *practice.Practice) error {
	query := `
		UPDATE practices SET
			instructor_id = $2,
			organization_id = $3,
			program_name = $4,
			start_date = $5,
			end_date = $6,
			state = $7,
			state_changed_at = $8,
			report_document = $9,
			rejection_reason = $10,
			updated_at = $11,
			version = version + 1
		WHERE id = $1 AND version = $12
	`

	q, err := r.conn.db(ctx)
	if err != nil {
		return storageError("practice", "Update", err)
	}
	tag, err := q.Exec(ctx, query,
		p.ID,
		p.InstructorID,
		p.OrganizationID,
		p.ProgramName,
		p.StartDate,
		p.EndDate,
		string(p.State),
		p.StateChangedAt,
		p.ReportDocument,
		p.RejectionReason,
		p.UpdatedAt,
		p.Version,
	)
	if err != nil {
		return storageError("practice", "Update", fmt.Errorf("failed to update practice: %w", err))
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM practices WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			return storageError("practice", "Update", err)
		}
		if !exists {
			return shared.ErrPracticeNotFound
		}
		return shared.ErrVersionConflict
	}

	p.Version++
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// GetByID returns a practice by ID.
func (r *PracticeRepository) GetByID(ctx context.Context, id string) (*practice.Practice, error) {
	query := `SELECT ` + practiceColumns + ` FROM practices WHERE id = $1`
	return r.getOne(ctx, "GetByID", query, id)
}

// GetForUpdate locks the row until the surrounding transaction ends.
func (r *PracticeRepository) GetForUpdate(ctx context.Context, id string) (*practice.Practice, error) {
	if !inTx(ctx) {
		return nil, shared.NewDomainError("practice", "GetForUpdate", shared.ErrInvalidState,
			"GetForUpdate must run inside a transaction")
	}
	query := `SELECT ` + practiceColumns + ` FROM practices WHERE id = $1 FOR UPDATE`
	return r.getOne(ctx, "GetForUpdate", query, id)
}

// ListActive returns every practice that is neither CLOSED nor VOIDED.
func (r *PracticeRepository) ListActive(ctx context.Context) ([]*practice.Practice, error) {
	query := `
		SELECT ` + practiceColumns + `
		FROM practices
		WHERE state NOT IN ('CLOSED', 'VOIDED')
		ORDER BY created_at, id
	`
	return r.list(ctx, "ListActive", query)
}

// ListByState returns practices in the given state.
func (r *PracticeRepository) ListByState(ctx context.Context, state practice.State) ([]*practice.Practice, error) {
	query := `
		SELECT ` + practiceColumns + `
		FROM practices
		WHERE state = $1
		ORDER BY created_at, id
	`
	return r.list(ctx, "ListByState", query, string(state))
}

// CountByState returns how many practices sit in each state.
func (r *PracticeRepository) CountByState(ctx context.Context) (map[practice.State]int, error) {
	q, err := r.conn.db(ctx)
	if err != nil {
		return nil, storageError("practice", "CountByState", err)
	}
	rows, err := q.Query(ctx, `SELECT state, COUNT(*) FROM practices GROUP BY state`)
	if err != nil {
		return nil, storageError("practice", "CountByState", err)
	}
	defer rows.Close()

	counts := make(map[practice.State]int, len(practice.States))
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, storageError("practice", "CountByState", err)
		}
		counts[practice.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("practice", "CountByState", err)
	}
	return counts, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

func (r *PracticeRepository) getOne(ctx context.Context, op, query string, args ...any) (*practice.Practice, error) {
	q, err := r.conn.db(ctx)
	if err != nil {
		return nil, storageError("practice", op, err)
	}
	p, err := scanPractice(q.QueryRow(ctx, query, args...))
	if IsNoRows(err) {
		return nil, shared.ErrPracticeNotFound
	}
	if err != nil {
		return nil, storageError("practice", op, fmt.Errorf("failed to scan practice: %w", err))
	}
	return p, nil
}

func (r *PracticeRepository) list(ctx context.Context, op, query string, args ...any) ([]*practice.Practice, error) {
	q, err := r.conn.db(ctx)
	if err != nil {
		return nil, storageError("practice", op, err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("practice", op, err)
	}
	defer rows.Close()

	out := make([]*practice.Practice, 0)
	for rows.Next() {
		p, err := scanPractice(rows)
		if err != nil {
			return nil, storageError("practice", op, fmt.Errorf("failed to scan practice: %w", err))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("practice", op, err)
	}
	return out, nil
}

// scanPractice reads one row in practiceColumns order.
func scanPractice(row pgx.Row) (*practice.Practice, error) {
	var p practice.Practice
	var typ, state string

	err := row.Scan(
		&p.ID,
		&typ,
		&p.StudentID,
		&p.ProgramID,
		&p.ProgramName,
		&p.InstructorID,
		&p.OrganizationID,
		&p.StartDate,
		&p.EndDate,
		&state,
		&p.StateChangedAt,
		&p.ReportDocument,
		&p.RejectionReason,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Type = practice.Type(typ)
	p.State = practice.State(state)
	return &p, nil
}
