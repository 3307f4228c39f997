package tenant

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valinor-ai/haven/internal/plan"
)

// SystemStoreID is the store id of the seeded system tenant.
const SystemStoreID = "platform"

// MemoryStore is an in-memory Registry. It starts with the system tenant,
// the same row the registry migration seeds.
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[string]Tenant
	seq     int
	order   map[string]int
}

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{tenants: make(map[string]Tenant), order: make(map[string]int)}
	now := time.Now()
	m.put(Tenant{
		ID:        uuid.NewString(),
		Name:      "Platform",
		StoreID:   SystemStoreID,
		Limits:    map[string]int64{},
		Status:    StatusReady,
		Active:    true,
		System:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return m
}

// System returns the system tenant.
func (m *MemoryStore) System() *Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.System {
			return cloneTenant(t)
		}
	}
	return nil
}

func (m *MemoryStore) GetSystem(_ context.Context) (*Tenant, error) {
	if t := m.System(); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("%w: system tenant", ErrTenantNotFound)
}

func (m *MemoryStore) put(t Tenant) {
	if _, ok := m.order[t.ID]; !ok {
		m.seq++
		m.order[t.ID] = m.seq
	}
	m.tenants[t.ID] = t
}

func (m *MemoryStore) Create(_ context.Context, t *Tenant) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnique(t.Name, t.StoreID, ""); err != nil {
		return nil, err
	}
	now := time.Now()
	row := *cloneTenant(*t)
	row.ID = uuid.NewString()
	row.Status = StatusProvisioning
	row.Active = true
	row.System = false
	row.CreatedAt = now
	row.UpdatedAt = now
	if row.Permissions == nil {
		row.Permissions = []string{}
	}
	if row.Limits == nil {
		row.Limits = map[string]int64{}
	}
	m.put(row)
	return cloneTenant(row), nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	return cloneTenant(t), nil
}

func (m *MemoryStore) GetByName(_ context.Context, name string) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tenants {
		if t.Name == name {
			return cloneTenant(t), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, name)
}

func (m *MemoryStore) List(_ context.Context) ([]Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Tenant, 0, len(m.tenants))
	for _, t := range m.tenants {
		out = append(out, *cloneTenant(t))
	}
	slices.SortFunc(out, func(a, b Tenant) int { return m.order[a.ID] - m.order[b.ID] })
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, t *Tenant) (*Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tenants[t.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, t.ID)
	}
	if err := m.checkUnique(t.Name, "", t.ID); err != nil {
		return nil, err
	}
	in := cloneTenant(*t)
	row.Name = in.Name
	row.Permissions = in.Permissions
	row.Limits = in.Limits
	row.PlanID = in.PlanID
	row.PlanPriceCents = in.PlanPriceCents
	row.AdminContact = in.AdminContact
	row.Active = in.Active
	row.UpdatedAt = time.Now()
	m.put(row)
	return cloneTenant(row), nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tenants[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	row.Status = status
	row.UpdatedAt = time.Now()
	m.put(row)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tenants[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	if row.System {
		return ErrSystemTenant
	}
	delete(m.tenants, id)
	delete(m.order, id)
	return nil
}

func (m *MemoryStore) ListByPlan(_ context.Context, planID string) ([]plan.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var subs []plan.Subscriber
	for _, t := range m.tenants {
		if t.PlanID != nil && *t.PlanID == planID {
			subs = append(subs, plan.Subscriber{TenantID: t.ID, StoreID: t.StoreID, System: t.System})
		}
	}
	slices.SortFunc(subs, func(a, b plan.Subscriber) int { return m.order[a.TenantID] - m.order[b.TenantID] })
	return subs, nil
}

func (m *MemoryStore) ApplyPlan(_ context.Context, tenantID string, p *plan.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tenants[tenantID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	price := p.PriceCents
	row.Permissions = slices.Clone(p.Permissions)
	row.Limits = p.Limits.Clone()
	row.PlanPriceCents = &price
	row.UpdatedAt = time.Now()
	m.put(row)
	return nil
}

func (m *MemoryStore) CountByPlan(ctx context.Context, planID string) (int, error) {
	subs, err := m.ListByPlan(ctx, planID)
	return len(subs), err
}

func (m *MemoryStore) checkUnique(name, storeID, exceptID string) error {
	for id, t := range m.tenants {
		if id == exceptID {
			continue
		}
		if t.Name == name {
			return fmt.Errorf("%w: %s", ErrNameTaken, name)
		}
		if storeID != "" && t.StoreID == storeID {
			return fmt.Errorf("%w: %s", ErrStoreIDTaken, storeID)
		}
	}
	return nil
}

func cloneTenant(t Tenant) *Tenant {
	t.Permissions = slices.Clone(t.Permissions)
	t.Limits = t.Limits.Clone()
	if t.PlanID != nil {
		id := *t.PlanID
		t.PlanID = &id
	}
	if t.PlanPriceCents != nil {
		price := *t.PlanPriceCents
		t.PlanPriceCents = &price
	}
	return &t
}
