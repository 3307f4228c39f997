// Package quota enforces per-tenant resource ceilings before records are
// created. Checks are advisory: nothing is reserved between the count and
// the caller's insert.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/valinor-ai/haven/internal/auth"
	"github.com/valinor-ai/haven/internal/entitlement"
	"github.com/valinor-ai/haven/internal/platform/middleware"
	"github.com/valinor-ai/haven/internal/platform/telemetry"
	"github.com/valinor-ai/haven/internal/tenant"
	"github.com/valinor-ai/haven/internal/tenantstore"
)

var (
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrNoCompany     = errors.New("caller identity carries no company")
)

var tracer = telemetry.Tracer("quota")

// QuotaExceededError reports the count that hit the ceiling.
type QuotaExceededError struct {
	Resource string
	Current  int64
	Ceiling  int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %d of %d", e.Resource, e.Current, e.Ceiling)
}

// Is makes errors.Is(err, ErrQuotaExceeded) match.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Decrypter opens field-encrypted values.
type Decrypter interface {
	Decrypt(value string) (string, error)
}

// TenantLookup finds tenants by their unique name.
type TenantLookup interface {
	GetByName(ctx context.Context, name string) (*tenant.Tenant, error)
}

// Config holds the optional collaborators of an Enforcer.
type Config struct {
	Cache     LimitCache
	Decrypter Decrypter
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// Enforcer answers whether a tenant may create one more record.
type Enforcer struct {
	tenants   TenantLookup
	stores    tenantstore.Opener
	cache     LimitCache
	decrypter Decrypter
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// NewEnforcer creates an Enforcer. Without a cache, limits are read from
// the tenant store on every check.
func NewEnforcer(tenants TenantLookup, stores tenantstore.Opener, cfg Config) *Enforcer {
	e := &Enforcer{
		tenants:   tenants,
		stores:    stores,
		cache:     cfg.Cache,
		decrypter: cfg.Decrypter,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// CheckLimit checks resource for the tenant named by the caller's company.
func (e *Enforcer) CheckLimit(ctx context.Context, resource string) error {
	t, err := e.ResolveTenant(ctx)
	if err != nil {
		return err
	}
	return e.CheckTenant(ctx, t, resource)
}

// ResolveTenant maps the caller's company to its tenant. The company may
// arrive field-encrypted; a value that does not decrypt is used as is.
func (e *Enforcer) ResolveTenant(ctx context.Context) (*tenant.Tenant, error) {
	company := middleware.GetCompany(ctx)
	if company == "" {
		if identity := auth.GetIdentity(ctx); identity != nil {
			company = identity.Company
		}
	}
	if company == "" {
		return nil, ErrNoCompany
	}
	if e.decrypter != nil {
		if plain, err := e.decrypter.Decrypt(company); err == nil {
			company = plain
		}
	}
	return e.tenants.GetByName(ctx, company)
}

// CheckTenant returns nil when t may create one more resource record, or a
// *QuotaExceededError when the stored count already meets the ceiling.
// The system tenant is never limited.
func (e *Enforcer) CheckTenant(ctx context.Context, t *tenant.Tenant, resource string) error {
	if t.System {
		return nil
	}

	ctx, span := tracer.Start(ctx, "quota.CheckTenant")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.store_id", t.StoreID),
		attribute.String("quota.resource", resource),
	)

	var exceeded *QuotaExceededError
	err := e.stores.WithStore(ctx, t.StoreID, func(ctx context.Context, st tenantstore.Store) error {
		limits, err := e.limits(ctx, t, st)
		if err != nil {
			return err
		}
		ceiling, ok := limits.Ceiling(resource)
		if !ok {
			return nil
		}
		if !tenantstore.IsRecordDataset(resource) {
			return fmt.Errorf("%w: %s", tenantstore.ErrUnknownDataset, resource)
		}
		current, err := st.Count(ctx, resource)
		if err != nil {
			return fmt.Errorf("counting %s: %w", resource, err)
		}
		if current >= ceiling {
			exceeded = &QuotaExceededError{Resource: resource, Current: current, Ceiling: ceiling}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	e.metrics.QuotaDecision(resource, exceeded == nil)
	if exceeded != nil {
		span.SetAttributes(attribute.Bool("quota.exceeded", true))
		e.logger.Info("quota exceeded",
			"tenant_id", t.ID,
			"resource", resource,
			"current", exceeded.Current,
			"ceiling", exceeded.Ceiling,
		)
		return exceeded
	}
	return nil
}

// limits resolves the effective set: the store's local record when one
// exists, else the registry's. Cache failures only cost a store read.
func (e *Enforcer) limits(ctx context.Context, t *tenant.Tenant, st tenantstore.Store) (entitlement.Limits, error) {
	if e.cache != nil {
		limits, ok, err := e.cache.Get(ctx, t.StoreID)
		if err != nil {
			e.logger.Warn("limit cache read failed", "store_id", t.StoreID, "error", err)
		} else if ok {
			return limits, nil
		}
	}

	limits := t.Limits
	rec, err := st.Limits(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading local limits: %w", err)
	}
	if rec != nil {
		limits = rec.Limits
	}
	if limits == nil {
		limits = entitlement.Limits{}
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, t.StoreID, limits); err != nil {
			e.logger.Warn("limit cache write failed", "store_id", t.StoreID, "error", err)
		}
	}
	return limits, nil
}
