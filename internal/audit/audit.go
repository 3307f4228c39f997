package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/valinor-ai/haven/internal/auth"
)

// Event represents a single auditable action in the control plane.
type Event struct {
	TenantID     *uuid.UUID // nil for plan events
	UserID       *uuid.UUID // nil for system events
	Action       string     // e.g. "tenant.created", "plan.updated"
	ResourceType string     // "tenant" or "plan"
	ResourceID   *uuid.UUID
	Metadata     map[string]any
	Source       string // "api", "cli", "system"
}

const (
	ActionTenantCreated       = "tenant.created"
	ActionTenantUpdated       = "tenant.updated"
	ActionTenantDeleted       = "tenant.deleted"
	ActionTenantReprovisioned = "tenant.reprovisioned"

	ActionPlanCreated = "plan.created"
	ActionPlanUpdated = "plan.updated"
	ActionPlanDeleted = "plan.deleted"

	ActionAccessDenied = "access.denied"
)

const (
	ResourceTenant = "tenant"
	ResourcePlan   = "plan"
)

const (
	MetadataPartial    = "partial"
	MetadataPropagated = "propagated"
	MetadataPlanID     = "plan_id"
	MetadataStoreID    = "store_id"
)

// Logger is the audit logging interface. Log is fire-and-forget.
type Logger interface {
	Log(ctx context.Context, event Event)
	Close() error
}

// NopLogger is a no-op audit logger for testing and when audit is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) {}
func (NopLogger) Close() error               { return nil }

// ActorIDFromContext extracts the authenticated user's UUID from the
// request context, returning nil if no identity is present or the
// user ID is not a valid UUID.
func ActorIDFromContext(ctx context.Context) *uuid.UUID {
	identity := auth.GetIdentity(ctx)
	if identity == nil {
		return nil
	}
	return ParseID(identity.UserID)
}

// ParseID returns a pointer to the parsed UUID, or nil when s is not one.
func ParseID(s string) *uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
