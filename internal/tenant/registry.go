package tenant

import (
	"context"

	"github.com/valinor-ai/haven/internal/plan"
)

// Registry persists tenant rows. Implementations also serve the plan
// propagator's view of the registry.
type Registry interface {
	// Create inserts t with status provisioning and returns the stored row.
	Create(ctx context.Context, t *Tenant) (*Tenant, error)
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetByName(ctx context.Context, name string) (*Tenant, error)
	// GetSystem returns the seeded system tenant.
	GetSystem(ctx context.Context) (*Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
	// Update writes the mutable fields of t: name, permissions, limits,
	// plan reference, price snapshot, admin contact and active flag.
	Update(ctx context.Context, t *Tenant) (*Tenant, error)
	SetStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error

	plan.TenantRegistry
}

// PlanGetter resolves plan references.
type PlanGetter interface {
	Get(ctx context.Context, id string) (*plan.Plan, error)
}
