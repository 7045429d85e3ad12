package subscription

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryDirectory implements OwnerDirectory and PlanCatalog from values held
// in memory. Suitable for tests and for deployments whose plans are
// configured in code.
type MemoryDirectory struct {
	mu     sync.RWMutex
	owners map[uuid.UUID]Owner
	plans  map[string]Plan
}

// NewMemoryDirectory creates a directory holding the given plans.
func NewMemoryDirectory(plans ...Plan) *MemoryDirectory {
	d := &MemoryDirectory{
		owners: make(map[uuid.UUID]Owner),
		plans:  make(map[string]Plan, len(plans)),
	}
	for _, p := range plans {
		d.plans[p.ID] = p
	}
	return d
}

// AddOwner registers an owner.
func (d *MemoryDirectory) AddOwner(o Owner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.owners[o.ID] = o
}

// AddPlan registers or replaces a plan.
func (d *MemoryDirectory) AddPlan(p Plan) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plans[p.ID] = p
}

func (d *MemoryDirectory) GetOwner(ctx context.Context, id uuid.UUID) (*Owner, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	o, ok := d.owners[id]
	if !ok {
		return nil, ErrOwnerNotFound
	}
	return &o, nil
}

func (d *MemoryDirectory) GetPlan(ctx context.Context, id string) (*Plan, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.plans[id]
	if !ok {
		return nil, ErrPlanNotFoundOrInactive
	}
	return &p, nil
}
