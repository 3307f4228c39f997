package rbac

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/valinor-ai/haven/internal/auth"
)

// EvaluatorOption configures the Evaluator.
type EvaluatorOption func(*Evaluator)

// WithRoleLoader sets a RoleLoader for store-backed role loading.
func WithRoleLoader(loader RoleLoader) EvaluatorOption {
	return func(e *Evaluator) {
		e.loader = loader
	}
}

// Evaluator is the in-memory RBAC policy evaluation engine.
type Evaluator struct {
	loader RoleLoader
	roles  map[string]map[string][]string // tenantID → roleName → permissions
	mu     sync.RWMutex
}

func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{roles: make(map[string]map[string][]string)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ReloadRoles loads roles from the RoleLoader and replaces the in-memory map.
// If loading fails, the existing map is preserved.
func (e *Evaluator) ReloadRoles(ctx context.Context) error {
	if e.loader == nil {
		return fmt.Errorf("no role loader configured")
	}

	defs, err := e.loader.LoadRoles(ctx)
	if err != nil {
		return fmt.Errorf("loading roles: %w", err)
	}

	newRoles := make(map[string]map[string][]string)
	for _, d := range defs {
		byName := newRoles[d.TenantID]
		if byName == nil {
			byName = make(map[string][]string)
			newRoles[d.TenantID] = byName
		}
		byName[d.Name] = d.Permissions
	}

	e.mu.Lock()
	e.roles = newRoles
	e.mu.Unlock()

	return nil
}

// RegisterRole adds a role of tenantID with its permissions to the
// in-memory map.
func (e *Evaluator) RegisterRole(tenantID, name string, permissions []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byName := e.roles[tenantID]
	if byName == nil {
		byName = make(map[string][]string)
		e.roles[tenantID] = byName
	}
	byName[name] = permissions
}

// Authorize checks if the identity holds permission through any of its
// roles. Only roles registered for the identity's own tenant count, so a
// role name borrowed from another tenant grants nothing. Platform admins
// are always allowed.
func (e *Evaluator) Authorize(_ context.Context, identity *auth.Identity, permission string) (*Decision, error) {
	if identity == nil {
		return &Decision{Allowed: false, Reason: "no identity"}, nil
	}
	if identity.PlatformAdmin {
		return &Decision{Allowed: true}, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	tenantRoles := e.roles[identity.TenantID]
	if identity.TenantID == "" || tenantRoles == nil {
		return &Decision{Allowed: false, Reason: "no roles for tenant"}, nil
	}
	for _, role := range identity.Roles {
		perms, ok := tenantRoles[role]
		if !ok {
			continue
		}
		if slices.Contains(perms, "*") || slices.Contains(perms, permission) {
			return &Decision{Allowed: true}, nil
		}
	}

	return &Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("no permission for %s", permission),
	}, nil
}
