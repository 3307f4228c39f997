// Package configsync brings a tenant store's derived configuration in line
// with the tenant's effective permission and limit sets.
package configsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/valinor-ai/haven/internal/catalog"
	"github.com/valinor-ai/haven/internal/entitlement"
	"github.com/valinor-ai/haven/internal/platform/telemetry"
	"github.com/valinor-ai/haven/internal/tenantstore"
)

var ErrSyncFailed = errors.New("configuration sync failed")

var tracer = telemetry.Tracer("configsync")

// Target identifies the tenant store being synced.
type Target struct {
	TenantID string
	StoreID  string
	System   bool
}

// Invalidator is told when a store's local limit record changed.
type Invalidator interface {
	Invalidate(ctx context.Context, storeID string) error
}

// Config holds the optional collaborators of a Synchronizer.
type Config struct {
	SuperRole   string
	Invalidator Invalidator
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// Synchronizer applies permission and limit sets to tenant stores.
type Synchronizer struct {
	stores      tenantstore.Opener
	catalog     *catalog.Catalog
	superRole   string
	invalidator Invalidator
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Synchronizer.
func New(stores tenantstore.Opener, cat *catalog.Catalog, cfg Config) *Synchronizer {
	s := &Synchronizer{
		stores:      stores,
		catalog:     cat,
		superRole:   cfg.SuperRole,
		invalidator: cfg.Invalidator,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if s.superRole == "" {
		s.superRole = tenantstore.DefaultSuperRole
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetInvalidator replaces the limit-change listener.
func (s *Synchronizer) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// Report counts the writes one Sync performed.
type Report struct {
	Capabilities int
	Roles        int
	SuperRole    int
	Limits       int
}

// Writes is the total number of writes in the report.
func (r Report) Writes() int {
	return r.Capabilities + r.Roles + r.SuperRole + r.Limits
}

// Sync makes the tenant store reflect permissions and limits. A nil limits
// leaves the local limit record untouched. Writes happen only where the
// stored state differs, so repeating a call changes nothing.
func (s *Synchronizer) Sync(ctx context.Context, target Target, permissions []string, limits entitlement.Limits) error {
	_, err := s.SyncReport(ctx, target, permissions, limits)
	return err
}

// SyncReport is Sync returning what was written.
func (s *Synchronizer) SyncReport(ctx context.Context, target Target, permissions []string, limits entitlement.Limits) (Report, error) {
	if target.System {
		return Report{}, nil
	}

	ctx, span := tracer.Start(ctx, "configsync.Sync")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", target.TenantID),
		attribute.String("tenant.store_id", target.StoreID),
	)

	perms := entitlement.Normalize(permissions)
	var report Report
	err := s.stores.WithStore(ctx, target.StoreID, func(ctx context.Context, st tenantstore.Store) error {
		var err error
		report, err = s.apply(ctx, st, perms, limits)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sync failed")
		s.metrics.SyncRun("failed")
		s.logger.Error("configuration sync failed",
			"tenant_id", target.TenantID,
			"store_id", target.StoreID,
			"error", err,
		)
		return report, fmt.Errorf("%w: tenant %s: %w", ErrSyncFailed, target.TenantID, err)
	}

	if report.Limits > 0 && s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, target.StoreID); err != nil {
			s.logger.Warn("limit cache invalidation failed", "store_id", target.StoreID, "error", err)
		}
	}

	s.metrics.SyncWrite("capabilities", report.Capabilities)
	s.metrics.SyncWrite("roles", report.Roles)
	s.metrics.SyncWrite("super_role", report.SuperRole)
	s.metrics.SyncWrite("limits", report.Limits)
	if report.Writes() == 0 {
		s.metrics.SyncRun("unchanged")
	} else {
		s.metrics.SyncRun("applied")
	}
	span.SetAttributes(attribute.Int("sync.writes", report.Writes()))

	s.logger.Debug("configuration synced",
		"tenant_id", target.TenantID,
		"store_id", target.StoreID,
		"writes", report.Writes(),
	)
	return report, nil
}

func (s *Synchronizer) apply(ctx context.Context, st tenantstore.Store, perms []string, limits entitlement.Limits) (Report, error) {
	var report Report

	desired := s.catalog.FilterGroups(perms)
	current, err := st.Capabilities(ctx)
	if err != nil {
		return report, err
	}
	if !groupsEqual(current, desired) {
		if err := st.ReplaceCapabilities(ctx, desired); err != nil {
			return report, fmt.Errorf("replacing capabilities: %w", err)
		}
		report.Capabilities++
	}

	roles, err := st.ListRoles(ctx)
	if err != nil {
		return report, err
	}
	for _, role := range roles {
		if role.Name == s.superRole {
			continue
		}
		held := entitlement.Normalize(role.Permissions)
		kept := entitlement.Intersect(held, perms)
		if len(kept) == len(held) {
			continue
		}
		if err := st.SetRolePermissions(ctx, role.ID, kept); err != nil {
			return report, fmt.Errorf("narrowing role %s: %w", role.Name, err)
		}
		report.Roles++
	}

	super, err := st.RoleByName(ctx, s.superRole)
	switch {
	case errors.Is(err, tenantstore.ErrRoleNotFound):
		s.logger.Warn("super role missing from tenant store", "role", s.superRole)
	case err != nil:
		return report, err
	default:
		full := s.catalog.NonSystemPermissionIDs()
		if !entitlement.Equal(super.Permissions, full) {
			if err := st.SetRolePermissions(ctx, super.ID, full); err != nil {
				return report, fmt.Errorf("restoring super role: %w", err)
			}
			report.SuperRole++
		}
	}

	if limits == nil {
		return report, nil
	}
	rec, err := st.Limits(ctx)
	if err != nil {
		return report, err
	}
	if rec != nil && rec.Limits.Equal(limits) {
		return report, nil
	}
	if err := st.UpsertLimits(ctx, limits, s.now()); err != nil {
		return report, fmt.Errorf("writing local limits: %w", err)
	}
	report.Limits++
	return report, nil
}

func groupsEqual(a, b []catalog.Group) bool {
	return slices.EqualFunc(a, b, func(x, y catalog.Group) bool {
		return x.Key == y.Key && x.Label == y.Label && x.Tag == y.Tag &&
			slices.Equal(x.Permissions, y.Permissions)
	})
}
