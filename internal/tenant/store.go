package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valinor-ai/haven/internal/plan"
	"github.com/valinor-ai/haven/internal/platform/database"
)

const tenantColumns = `id, name, store_id, permissions, limits, plan_id, plan_price_cents,
	admin_contact, status, is_active, is_system, created_at, updated_at`

// Store handles tenant database operations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new tenant store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new tenant in the provisioning state.
func (s *Store) Create(ctx context.Context, t *Tenant) (*Tenant, error) {
	permJSON, limitJSON, err := marshalSets(t)
	if err != nil {
		return nil, err
	}

	created, err := scanTenant(s.pool.QueryRow(ctx,
		`INSERT INTO tenants (name, store_id, permissions, limits, plan_id, plan_price_cents, admin_contact, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+tenantColumns,
		t.Name, t.StoreID, permJSON, limitJSON, t.PlanID, t.PlanPriceCents, t.AdminContact, StatusProvisioning,
	))
	if err != nil {
		return nil, mapWriteError(err, t)
	}
	return created, nil
}

// GetByID retrieves a tenant by its UUID.
func (s *Store) GetByID(ctx context.Context, id string) (*Tenant, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	return s.getOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
}

// GetByName retrieves a tenant by its unique name.
func (s *Store) GetByName(ctx context.Context, name string) (*Tenant, error) {
	return s.getOne(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE name = $1`, name)
}

// GetSystem retrieves the seeded system tenant.
func (s *Store) GetSystem(ctx context.Context) (*Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE is_system`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: system tenant", ErrTenantNotFound)
		}
		return nil, fmt.Errorf("getting system tenant: %w", err)
	}
	return t, nil
}

func (s *Store) getOne(ctx context.Context, query, arg string) (*Tenant, error) {
	t, err := scanTenant(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, arg)
		}
		return nil, fmt.Errorf("getting tenant: %w", err)
	}
	return t, nil
}

// List returns all tenants.
func (s *Store) List(ctx context.Context) ([]Tenant, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, *t)
	}
	return tenants, rows.Err()
}

// Update writes the tenant's mutable fields.
func (s *Store) Update(ctx context.Context, t *Tenant) (*Tenant, error) {
	if _, err := uuid.Parse(t.ID); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, t.ID)
	}
	permJSON, limitJSON, err := marshalSets(t)
	if err != nil {
		return nil, err
	}

	updated, err := scanTenant(s.pool.QueryRow(ctx,
		`UPDATE tenants
		 SET name = $2, permissions = $3, limits = $4, plan_id = $5, plan_price_cents = $6,
		     admin_contact = $7, is_active = $8, updated_at = now()
		 WHERE id = $1
		 RETURNING `+tenantColumns,
		t.ID, t.Name, permJSON, limitJSON, t.PlanID, t.PlanPriceCents, t.AdminContact, t.Active,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, t.ID)
		}
		return nil, mapWriteError(err, t)
	}
	return updated, nil
}

// SetStatus moves a tenant through its lifecycle.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("setting tenant status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	return nil
}

// Delete removes a tenant row. The system row is refused here and by a
// database trigger.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1 AND NOT is_system`, id)
	if err != nil {
		return fmt.Errorf("deleting tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var system bool
		err := s.pool.QueryRow(ctx, `SELECT is_system FROM tenants WHERE id = $1`, id).Scan(&system)
		if err == nil && system {
			return ErrSystemTenant
		}
		return fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	return nil
}

// ListByPlan returns the tenants referencing a plan.
func (s *Store) ListByPlan(ctx context.Context, planID string) ([]plan.Subscriber, error) {
	if _, err := uuid.Parse(planID); err != nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, store_id, is_system FROM tenants WHERE plan_id = $1 ORDER BY created_at`, planID)
	if err != nil {
		return nil, fmt.Errorf("listing plan subscribers: %w", err)
	}
	defer rows.Close()

	var subs []plan.Subscriber
	for rows.Next() {
		var sub plan.Subscriber
		if err := rows.Scan(&sub.TenantID, &sub.StoreID, &sub.System); err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ApplyPlan overwrites the tenant's permissions, limits and price snapshot
// with the plan's.
func (s *Store) ApplyPlan(ctx context.Context, tenantID string, p *plan.Plan) error {
	permJSON, limitJSON, err := marshalSets(&Tenant{Permissions: p.Permissions, Limits: p.Limits})
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tenants
		 SET permissions = $2, limits = $3, plan_price_cents = $4, updated_at = now()
		 WHERE id = $1`,
		tenantID, permJSON, limitJSON, p.PriceCents,
	)
	if err != nil {
		return fmt.Errorf("applying plan to tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return nil
}

// CountByPlan counts the tenants referencing a plan.
func (s *Store) CountByPlan(ctx context.Context, planID string) (int, error) {
	if _, err := uuid.Parse(planID); err != nil {
		return 0, nil
	}
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tenants WHERE plan_id = $1`, planID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting plan usage: %w", err)
	}
	return n, nil
}

func mapWriteError(err error, t *Tenant) error {
	switch {
	case database.IsUniqueViolation(err, "tenants_name_key"):
		return fmt.Errorf("%w: %s", ErrNameTaken, t.Name)
	case database.IsUniqueViolation(err, "tenants_store_id_key"):
		return fmt.Errorf("%w: %s", ErrStoreIDTaken, t.StoreID)
	default:
		return fmt.Errorf("writing tenant: %w", err)
	}
}

func marshalSets(t *Tenant) ([]byte, []byte, error) {
	perms := t.Permissions
	if perms == nil {
		perms = []string{}
	}
	permJSON, err := json.Marshal(perms)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling permissions: %w", err)
	}
	limits := t.Limits
	if limits == nil {
		limits = map[string]int64{}
	}
	limitJSON, err := json.Marshal(limits)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling limits: %w", err)
	}
	return permJSON, limitJSON, nil
}

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	var permBytes, limitBytes []byte
	err := row.Scan(&t.ID, &t.Name, &t.StoreID, &permBytes, &limitBytes, &t.PlanID, &t.PlanPriceCents,
		&t.AdminContact, &t.Status, &t.Active, &t.System, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(permBytes, &t.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshaling permissions: %w", err)
	}
	if err := json.Unmarshal(limitBytes, &t.Limits); err != nil {
		return nil, fmt.Errorf("unmarshaling limits: %w", err)
	}
	return &t, nil
}
