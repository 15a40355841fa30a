// Package memory provides in-memory implementations of the practice
// repositories. They back the application tests and local runs without a database.
package memory

import (
	"context"
	"sync"

	"github.com/practicas/practice-hub/internal/domain/practice"
)

type evaluationKey struct {
	practiceID string
	kind       practice.EvaluationKind
}

type tables struct {
	practices   map[string]*practice.Practice
	evaluations map[evaluationKey]*practice.Evaluation
	closures    map[string]*practice.ClosureRecord
	order       []string
}

// DB holds every table behind one mutex.
//
// A transaction holds the mutex for its whole duration, so transactions are
// fully serialized; this stands in for SELECT ... FOR UPDATE.
type DB struct {
	mutex  sync.Mutex
	data   tables
	config practice.GradingConfig
}

// NewDB creates an empty database using the default grading configuration.
func NewDB() *DB {
	return &DB{
		data: tables{
			practices:   make(map[string]*practice.Practice),
			evaluations: make(map[evaluationKey]*practice.Evaluation),
			closures:    make(map[string]*practice.ClosureRecord),
		},
		config: practice.DefaultGradingConfig(),
	}
}

type txKey struct{}

// inTx reports whether ctx carries a transaction of this DB.
func (db *DB) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*DB)
	return owner == db
}

// lock acquires the mutex unless ctx already holds it through WithinTx.
func (db *DB) lock(ctx context.Context) func() {
	if db.inTx(ctx) {
		return func() {}
	}
	db.mutex.Lock()
	return db.mutex.Unlock
}

// WithinTx implements practice.Transactor. Changes made by fn are rolled back
// when it returns an error. Nested calls join the outer transaction.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.inTx(ctx) {
		return fn(ctx)
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	snapshot := db.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, db)); err != nil {
		db.data = snapshot
		return err
	}
	return nil
}

func (t tables) clone() tables {
	out := tables{
		practices:   make(map[string]*practice.Practice, len(t.practices)),
		evaluations: make(map[evaluationKey]*practice.Evaluation, len(t.evaluations)),
		closures:    make(map[string]*practice.ClosureRecord, len(t.closures)),
		order:       append([]string(nil), t.order...),
	}
	for k, v := range t.practices {
		out.practices[k] = v.Clone()
	}
	for k, v := range t.evaluations {
		out.evaluations[k] = cloneEvaluation(v)
	}
	for k, v := range t.closures {
		out.closures[k] = cloneClosure(v)
	}
	return out
}

func cloneEvaluation(e *practice.Evaluation) *practice.Evaluation {
	c := *e
	if e.Comments != nil {
		comments := *e.Comments
		c.Comments = &comments
	}
	return &c
}

func cloneClosure(r *practice.ClosureRecord) *practice.ClosureRecord {
	c := *r
	if r.ClosedAt != nil {
		at := *r.ClosedAt
		c.ClosedAt = &at
	}
	return &c
}
