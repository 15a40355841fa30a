package memory

import (
	"context"
	"fmt"

	"github.com/practicas/practice-hub/internal/domain/practice"
	"github.com/practicas/practice-hub/internal/domain/shared"
)

type practiceRepository struct {
	db *DB
}

// NewPracticeRepository returns a practice.Repository backed by db.
func NewPracticeRepository(db *DB) practice.Repository {
	return &practiceRepository{db: db}
}

func (repo *practiceRepository) Create(ctx context.Context, p *practice.Practice) error {
	defer repo.db.lock(ctx)()

	if _, ok := repo.db.data.practices[p.ID]; ok {
		return shared.NewDomainError("practice", "Create", shared.ErrAlreadyExists,
			fmt.Sprintf("practice %s already exists", p.ID))
	}
	p.Version = 1
	repo.db.data.practices[p.ID] = p.Clone()
	repo.db.data.order = append(repo.db.data.order, p.ID)
	return nil
}

func (repo *practiceRepository) GetByID(ctx context.Context, id string) (*practice.Practice, error) {
	defer repo.db.lock(ctx)()

	p, ok := repo.db.data.practices[id]
	if !ok {
		return nil, shared.ErrPracticeNotFound
	}
	return p.Clone(), nil
}

// GetForUpdate relies on WithinTx holding the DB mutex.
func (repo *practiceRepository) GetForUpdate(ctx context.Context, id string) (*practice.Practice, error) {
	return repo.GetByID(ctx, id)
}

func (repo *practiceRepository) Update(ctx context.Context, p *practice.Practice) error {
	defer repo.db.lock(ctx)()

	stored, ok := repo.db.data.practices[p.ID]
	if !ok {
		return shared.ErrPracticeNotFound
	}
	if stored.Version != p.Version {
		return shared.ErrVersionConflict
	}
	p.Version++
	repo.db.data.practices[p.ID] = p.Clone()
	return nil
}

func (repo *practiceRepository) ListActive(ctx context.Context) ([]*practice.Practice, error) {
	return repo.list(ctx, func(p *practice.Practice) bool { return p.State.IsActive() })
}

func (repo *practiceRepository) ListByState(ctx context.Context, state practice.State) ([]*practice.Practice, error) {
	return repo.list(ctx, func(p *practice.Practice) bool { return p.State == state })
}

func (repo *practiceRepository) CountByState(ctx context.Context) (map[practice.State]int, error) {
	defer repo.db.lock(ctx)()

	counts := make(map[practice.State]int, len(practice.States))
	for _, p := range repo.db.data.practices {
		counts[p.State]++
	}
	return counts, nil
}

// list returns matching practices in insertion order.
func (repo *practiceRepository) list(ctx context.Context, match func(*practice.Practice) bool) ([]*practice.Practice, error) {
	defer repo.db.lock(ctx)()

	out := make([]*practice.Practice, 0)
	for _, id := range repo.db.data.order {
		if p := repo.db.data.practices[id]; match(p) {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}
