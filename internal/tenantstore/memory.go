package tenantstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valinor-ai/haven/internal/catalog"
	"github.com/valinor-ai/haven/internal/entitlement"
)

// MemoryStores is an in-memory Manager for tests and local development.
// It counts every write per store so callers can assert idempotence.
type MemoryStores struct {
	mu            sync.Mutex
	templateRoles []Role
	templateRows  map[string][]Record
	stores        map[string]*memStore
	cloneFailures map[string]error
}

// NewMemoryStores creates a manager whose template mirrors the seed data
// shipped with the registry migrations.
func NewMemoryStores() *MemoryStores {
	return &MemoryStores{
		templateRoles: []Role{
			{ID: uuid.NewString(), Name: DefaultSuperRole, Permissions: []string{}, Description: "Holds every tenant capability"},
			{ID: uuid.NewString(), Name: "Staff", Permissions: []string{"view_home", "view_forms", "create_forms", "submit_forms", "view_templates"}, Description: "Day-to-day staff"},
			{ID: uuid.NewString(), Name: "Viewer", Permissions: []string{"view_home", "view_forms", "view_reports"}, Description: "Read-only access"},
		},
		templateRows: map[string][]Record{
			"templates": {
				{ID: uuid.NewString(), Data: map[string]any{"name": "Intake form"}, CreatedAt: time.Now()},
				{ID: uuid.NewString(), Data: map[string]any{"name": "Incident report"}, CreatedAt: time.Now()},
			},
		},
		stores:        make(map[string]*memStore),
		cloneFailures: make(map[string]error),
	}
}

// SetTemplateRoles replaces the template's roles.
func (m *MemoryStores) SetTemplateRoles(roles []Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templateRoles = cloneRoles(roles)
}

// FailClone makes every later clone of dataset fail with err. A nil err
// clears the failure.
func (m *MemoryStores) FailClone(dataset string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.cloneFailures, dataset)
		return
	}
	m.cloneFailures[dataset] = err
}

// Exists reports whether the store has been created.
func (m *MemoryStores) Exists(storeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stores[storeID]
	return ok
}

// Writes returns the number of writes made through the store's handle.
func (m *MemoryStores) Writes(storeID string) int {
	st := m.lookup(storeID)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.writes
}

func (m *MemoryStores) lookup(storeID string) *memStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores[storeID]
}

// WithStore implements Opener.
func (m *MemoryStores) WithStore(ctx context.Context, storeID string, fn func(ctx context.Context, s Store) error) error {
	st := m.lookup(storeID)
	if st == nil {
		return fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}
	return fn(ctx, st)
}

// CreateStore implements Manager.
func (m *MemoryStores) CreateStore(_ context.Context, storeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[storeID]; !ok {
		m.stores[storeID] = &memStore{datasets: make(map[string][]Record)}
	}
	return nil
}

// DropStore implements Manager.
func (m *MemoryStores) DropStore(_ context.Context, storeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stores, storeID)
	return nil
}

// CloneDataset implements Manager.
func (m *MemoryStores) CloneDataset(_ context.Context, storeID, dataset string) (Outcome, error) {
	if !IsDataset(dataset) {
		return OutcomeFailed, fmt.Errorf("%w: %s", ErrUnknownDataset, dataset)
	}

	m.mu.Lock()
	st, ok := m.stores[storeID]
	failure := m.cloneFailures[dataset]
	roles := cloneRoles(m.templateRoles)
	rows := slices.Clone(m.templateRows[dataset])
	m.mu.Unlock()

	if !ok {
		return OutcomeFailed, fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if failure != nil {
		return OutcomeFallbackEmpty, fmt.Errorf("copying dataset: %w", failure)
	}

	if dataset == "roles" {
		if len(st.roles) > 0 {
			return OutcomeSkipped, nil
		}
		if len(roles) == 0 {
			return OutcomeEmpty, nil
		}
		st.roles = roles
		return OutcomeCloned, nil
	}

	if len(st.datasets[dataset]) > 0 {
		return OutcomeSkipped, nil
	}
	if len(rows) == 0 {
		return OutcomeEmpty, nil
	}
	for _, r := range rows {
		r.Data = maps.Clone(r.Data)
		st.datasets[dataset] = append(st.datasets[dataset], r)
	}
	return OutcomeCloned, nil
}

type memStore struct {
	mu           sync.Mutex
	roles        []Role
	capabilities []catalog.Group
	limits       *LimitRecord
	datasets     map[string][]Record
	writes       int
}

func (s *memStore) ListRoles(_ context.Context) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roles := cloneRoles(s.roles)
	slices.SortFunc(roles, func(a, b Role) int { return strings.Compare(a.Name, b.Name) })
	return roles, nil
}

func (s *memStore) RoleByName(_ context.Context, name string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name {
			r.Permissions = slices.Clone(r.Permissions)
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
}

func (s *memStore) SetRolePermissions(_ context.Context, roleID string, permissions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.roles {
		if s.roles[i].ID == roleID {
			s.roles[i].Permissions = entitlement.Normalize(permissions)
			s.writes++
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
}

func (s *memStore) Capabilities(_ context.Context) ([]catalog.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneGroups(s.capabilities), nil
}

func (s *memStore) ReplaceCapabilities(_ context.Context, groups []catalog.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities = cloneGroups(groups)
	s.writes++
	return nil
}

func (s *memStore) Limits(_ context.Context) (*LimitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limits == nil {
		return nil, nil
	}
	return &LimitRecord{Limits: s.limits.Limits.Clone(), UpdatedAt: s.limits.UpdatedAt}, nil
}

func (s *memStore) UpsertLimits(_ context.Context, limits entitlement.Limits, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limits == nil {
		limits = entitlement.Limits{}
	}
	s.limits = &LimitRecord{Limits: limits.Clone(), UpdatedAt: at}
	s.writes++
	return nil
}

func (s *memStore) Count(_ context.Context, dataset string) (int64, error) {
	if !IsDataset(dataset) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDataset, dataset)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if dataset == "roles" {
		return int64(len(s.roles)), nil
	}
	return int64(len(s.datasets[dataset])), nil
}

func (s *memStore) InsertRecord(_ context.Context, dataset string, data map[string]any) (*Record, error) {
	if !IsRecordDataset(dataset) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, dataset)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if data == nil {
		data = map[string]any{}
	}
	rec := Record{ID: uuid.NewString(), Data: maps.Clone(data), CreatedAt: time.Now()}
	s.datasets[dataset] = append(s.datasets[dataset], rec)
	s.writes++
	return &rec, nil
}

func cloneRoles(roles []Role) []Role {
	out := make([]Role, len(roles))
	for i, r := range roles {
		r.Permissions = slices.Clone(r.Permissions)
		out[i] = r
	}
	return out
}

func cloneGroups(groups []catalog.Group) []catalog.Group {
	if groups == nil {
		return nil
	}
	out := make([]catalog.Group, len(groups))
	for i, g := range groups {
		g.Permissions = slices.Clone(g.Permissions)
		out[i] = g
	}
	return out
}
