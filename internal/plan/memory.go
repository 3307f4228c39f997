package plan

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Repository for tests and local development.
type MemoryStore struct {
	mu    sync.Mutex
	plans map[string]Plan
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[string]Plan)}
}

func (m *MemoryStore) Create(_ context.Context, b Bundle) (*Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nameTaken(b.Name, "") {
		return nil, fmt.Errorf("%w: %s", ErrPlanNameTaken, b.Name)
	}
	now := time.Now()
	p := Plan{
		ID:          uuid.NewString(),
		Name:        b.Name,
		Permissions: slices.Clone(b.Permissions),
		Limits:      b.Limits.Clone(),
		PriceCents:  b.PriceCents,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.plans[p.ID] = p
	return clonePlan(p), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, notFound(id)
	}
	return clonePlan(p), nil
}

func (m *MemoryStore) List(_ context.Context) ([]Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Plan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, *clonePlan(p))
	}
	slices.SortFunc(out, func(a, b Plan) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, id string, b Bundle) (*Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, notFound(id)
	}
	if m.nameTaken(b.Name, id) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNameTaken, b.Name)
	}
	p.Name = b.Name
	p.Permissions = slices.Clone(b.Permissions)
	p.Limits = b.Limits.Clone()
	p.PriceCents = b.PriceCents
	p.UpdatedAt = time.Now()
	m.plans[id] = p
	return clonePlan(p), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[id]; !ok {
		return notFound(id)
	}
	delete(m.plans, id)
	return nil
}

func (m *MemoryStore) nameTaken(name, exceptID string) bool {
	for id, p := range m.plans {
		if id != exceptID && p.Name == name {
			return true
		}
	}
	return false
}

func clonePlan(p Plan) *Plan {
	p.Permissions = slices.Clone(p.Permissions)
	p.Limits = p.Limits.Clone()
	return &p
}
