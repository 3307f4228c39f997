// Package rbac authorizes control-plane requests. Roles are scoped to the
// tenant that owns them; only roles of the system tenant grant
// control-plane permissions.
package rbac

import (
	"context"
	"fmt"

	"github.com/valinor-ai/haven/internal/tenant"
	"github.com/valinor-ai/haven/internal/tenantstore"
)

// Decision represents the result of an authorization check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// RoleDef is a role of one tenant with its permission ids.
type RoleDef struct {
	TenantID    string
	Name        string
	Permissions []string
}

// RoleLoader loads role definitions from a backing store.
type RoleLoader interface {
	LoadRoles(ctx context.Context) ([]RoleDef, error)
}

// SystemTenantLookup resolves the seeded system tenant.
type SystemTenantLookup interface {
	GetSystem(ctx context.Context) (*tenant.Tenant, error)
}

// StoreRoleLoader reads the roles held in the system tenant's store and
// scopes them to the system tenant's id.
type StoreRoleLoader struct {
	stores  tenantstore.Opener
	tenants SystemTenantLookup
}

func NewStoreRoleLoader(stores tenantstore.Opener, tenants SystemTenantLookup) *StoreRoleLoader {
	return &StoreRoleLoader{stores: stores, tenants: tenants}
}

func (l *StoreRoleLoader) LoadRoles(ctx context.Context) ([]RoleDef, error) {
	system, err := l.tenants.GetSystem(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving system tenant: %w", err)
	}

	var defs []RoleDef
	err = l.stores.WithStore(ctx, system.StoreID, func(ctx context.Context, s tenantstore.Store) error {
		roles, err := s.ListRoles(ctx)
		if err != nil {
			return err
		}
		for _, r := range roles {
			defs = append(defs, RoleDef{TenantID: system.ID, Name: r.Name, Permissions: r.Permissions})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading roles from store %s: %w", system.StoreID, err)
	}
	return defs, nil
}
