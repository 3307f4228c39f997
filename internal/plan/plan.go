// Package plan manages named bundles of permissions, limits and price, and
// propagates plan edits to every tenant that references the plan.
package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valinor-ai/haven/internal/catalog"
	"github.com/valinor-ai/haven/internal/configsync"
	"github.com/valinor-ai/haven/internal/entitlement"
)

var (
	ErrPlanNotFound  = errors.New("plan not found")
	ErrPlanInUse     = errors.New("plan is referenced by tenants")
	ErrPlanNameTaken = errors.New("plan name already in use")
	ErrPlanNameEmpty = errors.New("plan name is required")
	ErrNegativePrice = errors.New("plan price must be >= 0")
)

// Plan is a reusable bundle assigned to tenants.
type Plan struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Permissions []string           `json:"permissions"`
	Limits      entitlement.Limits `json:"limits"`
	PriceCents  int64              `json:"price_cents"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Bundle is the editable content of a plan.
type Bundle struct {
	Name        string             `json:"name"`
	Permissions []string           `json:"permissions"`
	Limits      entitlement.Limits `json:"limits"`
	PriceCents  int64              `json:"price_cents"`
}

// Validate checks b against the catalog and returns it normalized.
func (b Bundle) Validate(cat *catalog.Catalog) (Bundle, error) {
	b.Name = strings.TrimSpace(b.Name)
	if b.Name == "" {
		return b, ErrPlanNameEmpty
	}
	if b.PriceCents < 0 {
		return b, ErrNegativePrice
	}
	if err := b.Limits.Validate(); err != nil {
		return b, err
	}
	b.Permissions = entitlement.Normalize(b.Permissions)
	if cat != nil {
		if err := cat.Validate(b.Permissions); err != nil {
			return b, err
		}
	}
	if b.Limits == nil {
		b.Limits = entitlement.Limits{}
	}
	return b, nil
}

// Repository persists plans.
type Repository interface {
	Create(ctx context.Context, b Bundle) (*Plan, error)
	Get(ctx context.Context, id string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
	Update(ctx context.Context, id string, b Bundle) (*Plan, error)
	Delete(ctx context.Context, id string) error
}

// Subscriber is a tenant referencing a plan.
type Subscriber struct {
	TenantID string
	StoreID  string
	System   bool
}

// Target converts the subscriber to a sync target.
func (s Subscriber) Target() configsync.Target {
	return configsync.Target{TenantID: s.TenantID, StoreID: s.StoreID, System: s.System}
}

// TenantRegistry is the part of the tenant registry the propagator needs.
type TenantRegistry interface {
	ListByPlan(ctx context.Context, planID string) ([]Subscriber, error)
	// ApplyPlan overwrites the tenant's permissions, limits and price
	// snapshot with the plan's.
	ApplyPlan(ctx context.Context, tenantID string, p *Plan) error
	CountByPlan(ctx context.Context, planID string) (int, error)
}

// Syncer applies effective sets to a tenant store.
type Syncer interface {
	Sync(ctx context.Context, target configsync.Target, permissions []string, limits entitlement.Limits) error
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrPlanNotFound, id)
}
