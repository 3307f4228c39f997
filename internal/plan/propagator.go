package plan

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/valinor-ai/haven/internal/catalog"
	"github.com/valinor-ai/haven/internal/platform/telemetry"
)

var tracer = telemetry.Tracer("plan")

// PropagatorConfig holds the optional settings of a Propagator.
type PropagatorConfig struct {
	// Concurrency bounds the per-tenant pipelines run at once.
	Concurrency int
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
}

// Propagator owns plan CRUD and pushes plan edits to subscribed tenants.
type Propagator struct {
	plans       Repository
	tenants     TenantRegistry
	syncer      Syncer
	catalog     *catalog.Catalog
	concurrency int
	metrics     *telemetry.Metrics
	logger      *slog.Logger
}

// NewPropagator creates a Propagator.
func NewPropagator(plans Repository, tenants TenantRegistry, syncer Syncer, cat *catalog.Catalog, cfg PropagatorConfig) *Propagator {
	p := &Propagator{
		plans:       plans,
		tenants:     tenants,
		syncer:      syncer,
		catalog:     cat,
		concurrency: cfg.Concurrency,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
	if p.concurrency <= 0 {
		p.concurrency = 8
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// CreatePlan validates and stores a new plan.
func (p *Propagator) CreatePlan(ctx context.Context, b Bundle) (*Plan, error) {
	b, err := b.Validate(p.catalog)
	if err != nil {
		return nil, err
	}
	return p.plans.Create(ctx, b)
}

// GetPlan returns one plan.
func (p *Propagator) GetPlan(ctx context.Context, id string) (*Plan, error) {
	return p.plans.Get(ctx, id)
}

// ListPlans returns every plan.
func (p *Propagator) ListPlans(ctx context.Context) ([]Plan, error) {
	return p.plans.List(ctx)
}

// UpdatePlan stores the new bundle, then re-applies it to every tenant that
// references the plan. Each tenant's pipeline is independent: a failure is
// logged and counted but neither stops the others nor fails the update.
// It returns the updated plan and the number of tenants attempted.
func (p *Propagator) UpdatePlan(ctx context.Context, id string, b Bundle) (*Plan, int, error) {
	b, err := b.Validate(p.catalog)
	if err != nil {
		return nil, 0, err
	}

	ctx, span := tracer.Start(ctx, "plan.UpdatePlan")
	defer span.End()
	span.SetAttributes(attribute.String("plan.id", id))

	updated, err := p.plans.Update(ctx, id, b)
	if err != nil {
		return nil, 0, err
	}

	subs, err := p.tenants.ListByPlan(ctx, id)
	if err != nil {
		return updated, 0, fmt.Errorf("listing plan subscribers: %w", err)
	}
	span.SetAttributes(attribute.Int("plan.subscribers", len(subs)))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, sub := range subs {
		g.Go(func() error {
			p.propagate(ctx, sub, updated)
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Info("plan propagated", "plan_id", id, "tenants", len(subs))
	return updated, len(subs), nil
}

func (p *Propagator) propagate(ctx context.Context, sub Subscriber, plan *Plan) {
	if err := p.tenants.ApplyPlan(ctx, sub.TenantID, plan); err != nil {
		p.metrics.Propagated(false)
		p.logger.Error("applying plan to tenant failed",
			"plan_id", plan.ID,
			"tenant_id", sub.TenantID,
			"error", err,
		)
		return
	}
	if err := p.syncer.Sync(ctx, sub.Target(), plan.Permissions, plan.Limits); err != nil {
		p.metrics.Propagated(false)
		p.logger.Error("syncing tenant after plan change failed",
			"plan_id", plan.ID,
			"tenant_id", sub.TenantID,
			"error", err,
		)
		return
	}
	p.metrics.Propagated(true)
}

// DeletePlan removes a plan that no tenant references. The usage check and
// the delete are not atomic: a tenant assigned in between keeps a dangling
// plan reference.
func (p *Propagator) DeletePlan(ctx context.Context, id string) error {
	if _, err := p.plans.Get(ctx, id); err != nil {
		return err
	}
	n, err := p.tenants.CountByPlan(ctx, id)
	if err != nil {
		return fmt.Errorf("counting plan usage: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %d tenant(s)", ErrPlanInUse, n)
	}
	return p.plans.Delete(ctx, id)
}
