package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valinor-ai/haven/internal/platform/database"
)

const planColumns = `id, name, permissions, limits, price_cents, created_at, updated_at`

// Store handles plan database operations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new plan store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new plan.
func (s *Store) Create(ctx context.Context, b Bundle) (*Plan, error) {
	permJSON, limitJSON, err := marshalBundle(b)
	if err != nil {
		return nil, err
	}

	p, err := scanPlan(s.pool.QueryRow(ctx,
		`INSERT INTO plans (name, permissions, limits, price_cents)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+planColumns,
		b.Name, permJSON, limitJSON, b.PriceCents,
	))
	if err != nil {
		if database.IsUniqueViolation(err, "plans_name_key") {
			return nil, fmt.Errorf("%w: %s", ErrPlanNameTaken, b.Name)
		}
		return nil, fmt.Errorf("creating plan: %w", err)
	}
	return p, nil
}

// Get retrieves a plan by its UUID.
func (s *Store) Get(ctx context.Context, id string) (*Plan, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(id)
	}
	p, err := scanPlan(s.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, fmt.Errorf("getting plan: %w", err)
	}
	return p, nil
}

// List returns all plans ordered by name.
func (s *Store) List(ctx context.Context) ([]Plan, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+planColumns+` FROM plans ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning plan: %w", err)
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// Update replaces the plan's bundle.
func (s *Store) Update(ctx context.Context, id string, b Bundle) (*Plan, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notFound(id)
	}
	permJSON, limitJSON, err := marshalBundle(b)
	if err != nil {
		return nil, err
	}

	p, err := scanPlan(s.pool.QueryRow(ctx,
		`UPDATE plans
		 SET name = $2, permissions = $3, limits = $4, price_cents = $5, updated_at = now()
		 WHERE id = $1
		 RETURNING `+planColumns,
		id, b.Name, permJSON, limitJSON, b.PriceCents,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		if database.IsUniqueViolation(err, "plans_name_key") {
			return nil, fmt.Errorf("%w: %s", ErrPlanNameTaken, b.Name)
		}
		return nil, fmt.Errorf("updating plan: %w", err)
	}
	return p, nil
}

// Delete removes a plan. Usage is checked by the caller.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return notFound(id)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM plans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

func marshalBundle(b Bundle) ([]byte, []byte, error) {
	perms := b.Permissions
	if perms == nil {
		perms = []string{}
	}
	permJSON, err := json.Marshal(perms)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling permissions: %w", err)
	}
	limits := b.Limits
	if limits == nil {
		limits = map[string]int64{}
	}
	limitJSON, err := json.Marshal(limits)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling limits: %w", err)
	}
	return permJSON, limitJSON, nil
}

func scanPlan(row pgx.Row) (*Plan, error) {
	var p Plan
	var permBytes, limitBytes []byte
	if err := row.Scan(&p.ID, &p.Name, &permBytes, &limitBytes, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(permBytes, &p.Permissions); err != nil {
		return nil, fmt.Errorf("unmarshaling permissions: %w", err)
	}
	if err := json.Unmarshal(limitBytes, &p.Limits); err != nil {
		return nil, fmt.Errorf("unmarshaling limits: %w", err)
	}
	return &p, nil
}
