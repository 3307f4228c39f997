package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/valinor-ai/haven/internal/catalog"
	"github.com/valinor-ai/haven/internal/entitlement"
	"github.com/valinor-ai/haven/internal/plan"
	"github.com/valinor-ai/haven/internal/platform/telemetry"
	"github.com/valinor-ai/haven/internal/tenantstore"
)

var tracer = telemetry.Tracer("tenant")

// Step names recorded in a Result besides the dataset names.
const (
	StepStore     = "store"
	StepSuperRole = "super_role"
	StepSync      = "sync"
)

// Outcomes of the non-dataset steps.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// StepResult records what one provisioning step did.
type StepResult struct {
	Step    string `json:"step"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// Degraded reports whether the step ended short of its goal.
func (s StepResult) Degraded() bool {
	return s.Outcome == OutcomeFailed || tenantstore.Outcome(s.Outcome).Degraded()
}

// Result is the step ledger of one provisioning run.
type Result struct {
	Tenant *Tenant      `json:"tenant"`
	Steps  []StepResult `json:"steps"`
}

// Partial reports whether any step degraded. A partial result is still a
// provisioned tenant.
func (r *Result) Partial() bool {
	for _, s := range r.Steps {
		if s.Degraded() {
			return true
		}
	}
	return false
}

func (r *Result) add(step, outcome string, err error) {
	sr := StepResult{Step: step, Outcome: outcome}
	if err != nil {
		sr.Error = err.Error()
	}
	r.Steps = append(r.Steps, sr)
}

// CreateParams describes a new tenant. A resolvable PlanID overrides
// Permissions and Limits with the plan's.
type CreateParams struct {
	Name         string             `json:"name"`
	Permissions  []string           `json:"permissions"`
	Limits       entitlement.Limits `json:"limits"`
	PlanID       *string            `json:"plan_id"`
	AdminContact string             `json:"admin_contact"`
}

// UpdateParams is a partial edit; nil fields are left alone. A PlanID of ""
// clears the plan reference and its price snapshot.
type UpdateParams struct {
	Name         *string             `json:"name"`
	Permissions  *[]string           `json:"permissions"`
	Limits       *entitlement.Limits `json:"limits"`
	PlanID       *string             `json:"plan_id"`
	Active       *bool               `json:"active"`
	AdminContact *string             `json:"admin_contact"`
}

// Syncer applies effective sets to a tenant store.
type Syncer = plan.Syncer

// ProvisionerConfig holds the optional settings of a Provisioner.
type ProvisionerConfig struct {
	SuperRole string
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// Provisioner creates, edits and removes tenants and their stores.
type Provisioner struct {
	registry  Registry
	stores    tenantstore.Manager
	plans     PlanGetter
	syncer    Syncer
	catalog   *catalog.Catalog
	superRole string
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(registry Registry, stores tenantstore.Manager, plans PlanGetter, syncer Syncer, cat *catalog.Catalog, cfg ProvisionerConfig) *Provisioner {
	p := &Provisioner{
		registry:  registry,
		stores:    stores,
		plans:     plans,
		syncer:    syncer,
		catalog:   cat,
		superRole: cfg.SuperRole,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	if p.superRole == "" {
		p.superRole = tenantstore.DefaultSuperRole
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Get returns one tenant.
func (p *Provisioner) Get(ctx context.Context, id string) (*Tenant, error) {
	return p.registry.GetByID(ctx, id)
}

// List returns every tenant.
func (p *Provisioner) List(ctx context.Context) ([]Tenant, error) {
	return p.registry.List(ctx)
}

// CreateTenant registers a tenant, builds its store from the template and
// applies its configuration. Dataset failures degrade the result instead of
// failing the call; see Result.Partial.
func (p *Provisioner) CreateTenant(ctx context.Context, params CreateParams) (*Result, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, ErrNameEmpty
	}
	if _, err := p.registry.GetByName(ctx, name); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, name)
	} else if !errors.Is(err, ErrTenantNotFound) {
		return nil, fmt.Errorf("looking up tenant name: %w", err)
	}

	t := &Tenant{
		Name:         name,
		Permissions:  params.Permissions,
		Limits:       params.Limits,
		AdminContact: params.AdminContact,
	}
	if params.PlanID != nil && *params.PlanID != "" {
		pl, err := p.plans.Get(ctx, *params.PlanID)
		if err != nil {
			return nil, err
		}
		applyPlan(t, pl)
	}
	if err := p.validate(t); err != nil {
		return nil, err
	}

	storeID, err := DeriveStoreID(name)
	if err != nil {
		return nil, err
	}
	t.StoreID = storeID

	created, err := p.registry.Create(ctx, t)
	if err != nil {
		return nil, err
	}
	p.logger.Info("tenant registered", "tenant_id", created.ID, "store_id", created.StoreID)

	return p.provision(ctx, created)
}

// Reprovision re-runs the provisioning pipeline for an existing tenant.
// Populated datasets are left alone, so repeated runs converge.
func (p *Provisioner) Reprovision(ctx context.Context, id string) (*Result, error) {
	t, err := p.registry.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.System {
		return nil, ErrSystemTenant
	}
	return p.provision(ctx, t)
}

func (p *Provisioner) provision(ctx context.Context, t *Tenant) (*Result, error) {
	ctx, span := tracer.Start(ctx, "tenant.Provision")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", t.ID),
		attribute.String("tenant.store_id", t.StoreID),
	)

	res := &Result{Tenant: t}
	logger := p.logger.With("tenant_id", t.ID, "store_id", t.StoreID)

	if err := p.stores.CreateStore(ctx, t.StoreID); err != nil {
		res.add(StepStore, OutcomeFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "store creation failed")
		logger.Error("creating tenant store failed", "error", err)
		return res, fmt.Errorf("creating tenant store: %w", err)
	}
	res.add(StepStore, OutcomeApplied, nil)

	for _, ds := range tenantstore.Datasets {
		outcome, err := p.stores.CloneDataset(ctx, t.StoreID, ds)
		res.add(ds, string(outcome), err)
		p.metrics.DatasetCloned(ds, string(outcome))
		if outcome.Degraded() {
			logger.Warn("dataset clone degraded", "dataset", ds, "outcome", outcome, "error", err)
		}
	}

	outcome, err := p.seedSuperRole(ctx, t.StoreID)
	res.add(StepSuperRole, outcome, err)
	switch {
	case err != nil:
		logger.Error("seeding super role failed", "role", p.superRole, "error", err)
	case outcome == OutcomeSkipped:
		logger.Warn("super role missing from tenant store", "role", p.superRole)
	}

	if err := p.syncer.Sync(ctx, t.Target(), t.Permissions, t.Limits); err != nil {
		res.add(StepSync, OutcomeFailed, err)
		logger.Error("initial configuration sync failed", "error", err)
	} else {
		res.add(StepSync, OutcomeApplied, nil)
	}

	if err := p.registry.SetStatus(ctx, t.ID, StatusReady); err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("marking tenant ready: %w", err)
	}
	t.Status = StatusReady

	partial := res.Partial()
	p.metrics.TenantProvisioned(partial)
	span.SetAttributes(attribute.Bool("tenant.partial", partial))
	if partial {
		logger.Warn("tenant provisioned partially", "steps", res.Steps)
	} else {
		logger.Info("tenant provisioned")
	}
	return res, nil
}

func (p *Provisioner) seedSuperRole(ctx context.Context, storeID string) (string, error) {
	outcome := OutcomeApplied
	err := p.stores.WithStore(ctx, storeID, func(ctx context.Context, st tenantstore.Store) error {
		role, err := st.RoleByName(ctx, p.superRole)
		if errors.Is(err, tenantstore.ErrRoleNotFound) {
			outcome = OutcomeSkipped
			return nil
		}
		if err != nil {
			return err
		}
		full := p.catalog.NonSystemPermissionIDs()
		if entitlement.Equal(role.Permissions, full) {
			return nil
		}
		return st.SetRolePermissions(ctx, role.ID, full)
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return outcome, nil
}

// UpdateTenant applies a direct edit and re-syncs the tenant's store. When
// the registry write succeeds but the sync fails, the updated tenant is
// returned together with the sync error.
func (p *Provisioner) UpdateTenant(ctx context.Context, id string, params UpdateParams) (*Tenant, error) {
	t, err := p.registry.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.Name != nil {
		name := strings.TrimSpace(*params.Name)
		if name == "" {
			return nil, ErrNameEmpty
		}
		t.Name = name
	}
	if params.Permissions != nil {
		t.Permissions = *params.Permissions
	}
	if params.Limits != nil {
		t.Limits = *params.Limits
	}
	if params.Active != nil {
		t.Active = *params.Active
	}
	if params.AdminContact != nil {
		t.AdminContact = *params.AdminContact
	}
	if params.PlanID != nil {
		if *params.PlanID == "" {
			t.PlanID = nil
			t.PlanPriceCents = nil
		} else {
			pl, err := p.plans.Get(ctx, *params.PlanID)
			if err != nil {
				return nil, err
			}
			applyPlan(t, pl)
		}
	}
	if err := p.validate(t); err != nil {
		return nil, err
	}

	updated, err := p.registry.Update(ctx, t)
	if err != nil {
		return nil, err
	}

	if err := p.syncer.Sync(ctx, updated.Target(), updated.Permissions, updated.Limits); err != nil {
		return updated, err
	}
	return updated, nil
}

// DeleteTenant drops the tenant's store, then its registry row.
func (p *Provisioner) DeleteTenant(ctx context.Context, id string) error {
	t, err := p.registry.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if t.System {
		return ErrSystemTenant
	}
	if err := p.stores.DropStore(ctx, t.StoreID); err != nil {
		return fmt.Errorf("dropping tenant store: %w", err)
	}
	if err := p.registry.Delete(ctx, id); err != nil {
		return err
	}
	p.logger.Info("tenant deleted", "tenant_id", id, "store_id", t.StoreID)
	return nil
}

// Sync re-applies the registry's permissions and limits to the tenant's store.
func (p *Provisioner) Sync(ctx context.Context, id string) error {
	t, err := p.registry.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return p.syncer.Sync(ctx, t.Target(), t.Permissions, t.Limits)
}

func (p *Provisioner) validate(t *Tenant) error {
	if err := t.Limits.Validate(); err != nil {
		return err
	}
	t.Permissions = entitlement.Normalize(t.Permissions)
	if t.Permissions == nil {
		t.Permissions = []string{}
	}
	if t.Limits == nil {
		t.Limits = entitlement.Limits{}
	}
	return p.catalog.Validate(t.Permissions)
}

func applyPlan(t *Tenant, pl *plan.Plan) {
	id, price := pl.ID, pl.PriceCents
	t.PlanID = &id
	t.PlanPriceCents = &price
	t.Permissions = pl.Permissions
	t.Limits = pl.Limits.Clone()
}
